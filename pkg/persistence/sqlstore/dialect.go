package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DriverPostgres selects PostgreSQL through github.com/lib/pq.
	DriverPostgres = "postgres"
	// DriverMySQL selects MySQL through github.com/go-sql-driver/mysql.
	DriverMySQL = "mysql"

	defaultTable = "mqtt_persistence"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// statements holds the SQL issued for one table in one dialect.
type statements struct {
	createTable string
	upsert      string
	get         string
	remove      string
	keys        string
	clear       string
	contains    string
}

type dialect struct {
	driver      string
	placeholder func(n int) string
	createTable string
	upsert      string
}

var dialects = map[string]dialect{
	DriverPostgres: {
		driver:      DriverPostgres,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		createTable: `CREATE TABLE IF NOT EXISTS %s (
	partition_key VARCHAR(512) NOT NULL,
	record_key VARCHAR(255) NOT NULL,
	record_value BYTEA NOT NULL,
	PRIMARY KEY (partition_key, record_key)
)`,
		upsert: "INSERT INTO %s (partition_key, record_key, record_value) VALUES ($1, $2, $3) " +
			"ON CONFLICT (partition_key, record_key) DO UPDATE SET record_value = EXCLUDED.record_value",
	},
	DriverMySQL: {
		driver:      DriverMySQL,
		placeholder: func(int) string { return "?" },
		createTable: `CREATE TABLE IF NOT EXISTS %s (
	partition_key VARCHAR(512) NOT NULL,
	record_key VARCHAR(255) NOT NULL,
	record_value LONGBLOB NOT NULL,
	PRIMARY KEY (partition_key, record_key)
)`,
		upsert: "INSERT INTO %s (partition_key, record_key, record_value) VALUES (?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE record_value = VALUES(record_value)",
	},
}

func lookupDialect(driver string) (dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported sql driver %q (supported: %s, %s)", driver, DriverPostgres, DriverMySQL)
	}
	return d, nil
}

func (d dialect) statements(table string) statements {
	p1, p2 := d.placeholder(1), d.placeholder(2)
	return statements{
		createTable: fmt.Sprintf(d.createTable, table),
		upsert:      fmt.Sprintf(d.upsert, table),
		get:         fmt.Sprintf("SELECT record_value FROM %s WHERE partition_key = %s AND record_key = %s", table, p1, p2),
		remove:      fmt.Sprintf("DELETE FROM %s WHERE partition_key = %s AND record_key = %s", table, p1, p2),
		keys:        fmt.Sprintf("SELECT record_key FROM %s WHERE partition_key = %s", table, p1),
		clear:       fmt.Sprintf("DELETE FROM %s WHERE partition_key = %s", table, p1),
		contains:    fmt.Sprintf("SELECT 1 FROM %s WHERE partition_key = %s AND record_key = %s", table, p1, p2),
	}
}
