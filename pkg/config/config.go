// Package config loads and validates mqttpersist configuration.
package config

import "time"

// Persistence backend constants
const (
	// BackendRedis stores partitions as Redis hashes
	BackendRedis = "redis"
	// BackendMemory keeps partitions in process memory
	BackendMemory = "memory"
	// BackendPostgres stores records in a PostgreSQL table
	BackendPostgres = "postgres"
	// BackendMySQL stores records in a MySQL table
	BackendMySQL = "mysql"
	// BackendDynamoDB stores records in a DynamoDB table
	BackendDynamoDB = "dynamodb"
	// BackendMongoDB stores records in a MongoDB collection
	BackendMongoDB = "mongodb"
)

// SupportedBackends lists every accepted persistence.backend value.
var SupportedBackends = []string{BackendRedis, BackendMemory, BackendPostgres, BackendMySQL, BackendDynamoDB, BackendMongoDB}

// DefaultEnvPrefix prefixes every environment variable read by the loader.
const DefaultEnvPrefix = "MQTTPERSIST"

// Config is the root configuration structure
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Persistence   PersistenceConfig   `mapstructure:"persistence" yaml:"persistence"`
	MQTT          MQTTConfig          `mapstructure:"mqtt" yaml:"mqtt"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ServiceConfig configures process identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// PersistenceConfig selects and configures the persistence backend.
type PersistenceConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"`
	Prefix   string         `mapstructure:"prefix" yaml:"prefix"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	SQL      SQLConfig      `mapstructure:"sql" yaml:"sql"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb" yaml:"dynamodb"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb" yaml:"mongodb"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	MaxConns     int           `mapstructure:"max_conns" yaml:"max_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
}

// SQLConfig configures the PostgreSQL and MySQL backends.
type SQLConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	Table           string        `mapstructure:"table" yaml:"table"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
}

// DynamoDBConfig configures the DynamoDB backend.
type DynamoDBConfig struct {
	Region           string        `mapstructure:"region" yaml:"region"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token" yaml:"session_token"`
	Table            string        `mapstructure:"table" yaml:"table"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// MongoDBConfig configures the MongoDB backend.
type MongoDBConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	Database         string        `mapstructure:"database" yaml:"database"`
	Collection       string        `mapstructure:"collection" yaml:"collection"`
	AutoIndex        bool          `mapstructure:"auto_index" yaml:"auto_index"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// MQTTConfig configures the MQTT client used by the publish command.
type MQTTConfig struct {
	Broker         string        `mapstructure:"broker" yaml:"broker"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	CleanSession   bool          `mapstructure:"clean_session" yaml:"clean_session"`
	KeepAlive      time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	QoS            int           `mapstructure:"qos" yaml:"qos"`
}

// ObservabilityConfig configures logging, metrics and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"` // json, text
	MetricsEnabled    bool    `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsAddr       string  `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingInsecure   bool    `mapstructure:"tracing_insecure" yaml:"tracing_insecure"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "mqttpersist",
			Environment: "development",
		},
		Persistence: PersistenceConfig{
			Backend: BackendRedis,
			Redis: RedisConfig{
				URL:          "redis://localhost:6379/0",
				MaxConns:     4,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PingTimeout:  5 * time.Second,
			},
			SQL: SQLConfig{
				Table:           "mqtt_persistence",
				MaxOpenConns:    4,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
				PingTimeout:     5 * time.Second,
			},
			DynamoDB: DynamoDBConfig{
				Table:            "mqtt_persistence",
				OperationTimeout: 5 * time.Second,
			},
			MongoDB: MongoDBConfig{
				Database:         "mqtt",
				Collection:       "mqtt_persistence",
				AutoIndex:        true,
				ConnectTimeout:   5 * time.Second,
				OperationTimeout: 5 * time.Second,
			},
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			QoS:            1,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			MetricsAddr:       ":9090",
			TracingEndpoint:   "localhost:4317",
			TracingSampleRate: 1.0,
		},
	}
}
