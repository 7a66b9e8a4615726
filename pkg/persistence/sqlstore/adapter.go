// Package sqlstore persists MQTT client records in a relational table.
//
// Every record is a row (partition_key, record_key, record_value) and a
// partition is the set of rows sharing partition_key. PostgreSQL and MySQL are
// supported; the dialect decides placeholders and upsert syntax.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/persistence"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "sql"

const defaultPingTimeout = 5 * time.Second

// Config holds the SQL backend settings.
type Config struct {
	Driver          string
	URL             string
	Table           string
	Prefix          string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func (c *Config) normalize() {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	c.URL = strings.TrimSpace(c.URL)
	c.Table = strings.TrimSpace(c.Table)
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = defaultPingTimeout
	}
}

// Opener returns a database handle for driver and dsn. sql.Open satisfies it.
type Opener func(driver, dsn string) (*sql.DB, error)

// Adapter implements persistence.Persistence over a SQL table.
type Adapter struct {
	config Config
	open   Opener
	stmts  statements
	logger logger.Logger
	conn   *session
}

type session struct {
	db        *sql.DB
	partition string
}

var _ persistence.Persistence = (*Adapter)(nil)

// NewAdapter validates cfg and returns a closed adapter using sql.Open.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	return NewAdapterWithOpener(cfg, sql.Open, log)
}

// NewAdapterWithOpener is NewAdapter with a custom database opener.
func NewAdapterWithOpener(cfg Config, open Opener, log logger.Logger) (*Adapter, error) {
	cfg.normalize()
	if open == nil {
		return nil, errors.New("sql opener is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		config: cfg,
		open:   open,
		stmts:  d.statements(cfg.Table),
		logger: logger.OrNop(log).With("backend", BackendName, "driver", d.driver, "table", cfg.Table),
	}, nil
}

// Open connects to the database and scopes the adapter to the partition of
// clientID and serverURI. A previous connection is released first.
func (a *Adapter) Open(clientID, serverURI string) error {
	a.release()

	partition := persistence.PartitionName(a.config.Prefix, clientID, serverURI)
	db, err := a.open(a.config.Driver, a.config.URL)
	if err != nil {
		return persistence.Wrap(fmt.Sprintf("open partition %q", partition), err)
	}
	if a.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(a.config.MaxOpenConns)
	}
	if a.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(a.config.MaxIdleConns)
	}
	if a.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(a.config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.config.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return persistence.Wrap(fmt.Sprintf("open partition %q", partition), err)
	}
	if a.config.AutoMigrate {
		if _, err := db.ExecContext(ctx, a.stmts.createTable); err != nil {
			_ = db.Close()
			return persistence.Wrap(fmt.Sprintf("create table %q", a.config.Table), err)
		}
	}

	a.conn = &session{db: db, partition: partition}
	a.logger.Info("sql persistence opened", "partition", partition)
	return nil
}

// Close releases the database handle. Disconnect failures are logged, not returned.
func (a *Adapter) Close() error {
	a.release()
	return nil
}

func (a *Adapter) release() {
	if a.conn == nil {
		return
	}
	conn := a.conn
	a.conn = nil
	if err := conn.db.Close(); err != nil {
		a.logger.Warn("failed to close sql connection", "partition", conn.partition, "error", err)
		return
	}
	a.logger.Info("sql persistence closed", "partition", conn.partition)
}

func (a *Adapter) live() (*session, error) {
	if a.conn == nil {
		return nil, persistence.ErrNotOpen
	}
	return a.conn, nil
}

// IsOpen reports whether the adapter holds a connection.
func (a *Adapter) IsOpen() bool { return a.conn != nil }

// Partition returns the partition name, or "" when closed.
func (a *Adapter) Partition() string {
	if a.conn == nil {
		return ""
	}
	return a.conn.partition
}

// Put upserts the concatenated buffers under key.
func (a *Adapter) Put(key string, buffers ...[]byte) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence put", "partition", conn.partition, "key", key)
	value := persistence.Concat(buffers...)
	if _, err := conn.db.ExecContext(context.Background(), a.stmts.upsert, conn.partition, key, value); err != nil {
		return persistence.Wrap(fmt.Sprintf("put key %q", key), err)
	}
	return nil
}

// Get returns the value under key.
func (a *Adapter) Get(key string) ([]byte, error) {
	conn, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence get", "partition", conn.partition, "key", key)
	var value []byte
	err = conn.db.QueryRowContext(context.Background(), a.stmts.get, conn.partition, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.Error(fmt.Sprintf("key %q not found", key))
	}
	if err != nil {
		return nil, persistence.Wrap(fmt.Sprintf("get key %q", key), err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Remove deletes the row for key. Zero affected rows is success.
func (a *Adapter) Remove(key string) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence remove", "partition", conn.partition, "key", key)
	if _, err := conn.db.ExecContext(context.Background(), a.stmts.remove, conn.partition, key); err != nil {
		return persistence.Wrap(fmt.Sprintf("remove key %q", key), err)
	}
	return nil
}

// Keys lists the record keys of the partition.
func (a *Adapter) Keys() ([]string, error) {
	conn, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence keys", "partition", conn.partition)
	rows, err := conn.db.QueryContext(context.Background(), a.stmts.keys, conn.partition)
	if err != nil {
		return nil, persistence.Wrap("list keys", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, persistence.Wrap("list keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.Wrap("list keys", err)
	}
	return keys, nil
}

// Clear deletes every row of the partition in one statement.
func (a *Adapter) Clear() error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence clear", "partition", conn.partition)
	if _, err := conn.db.ExecContext(context.Background(), a.stmts.clear, conn.partition); err != nil {
		return persistence.Wrap(fmt.Sprintf("clear partition %q", conn.partition), err)
	}
	return nil
}

// ContainsKey reports whether a row exists for key. Failures read as false.
func (a *Adapter) ContainsKey(key string) bool {
	conn, err := a.live()
	if err != nil {
		return false
	}
	a.logger.Debug("persistence contains key", "partition", conn.partition, "key", key)
	var one int
	err = conn.db.QueryRowContext(context.Background(), a.stmts.contains, conn.partition, key).Scan(&one)
	if err == nil {
		return true
	}
	if !errors.Is(err, sql.ErrNoRows) {
		a.logger.Warn("contains key failed, reporting absent", "partition", conn.partition, "key", key, "error", err)
	}
	return false
}

// HealthCheck pings the database.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := conn.db.PingContext(ctx); err != nil {
		return persistence.Wrap("database health check failed", err)
	}
	return nil
}
