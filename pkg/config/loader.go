package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to MQTTPERSIST)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults. Secrets
// files are not consulted; use LoadWithSecrets for that.
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(false)
	return cfg, err
}

// load runs the shared pipeline: defaults, the config file, optionally the
// secrets file, environment bindings, then validation.
func (l *ViperLoader) load(withSecrets bool) (*Config, *Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	var secrets *Config
	if withSecrets {
		var err error
		if secrets, err = l.mergeSecrets(v); err != nil {
			return nil, nil, err
		}
	}

	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// Validate normalizes cfg and reports every invalid setting at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	cfg.normalize()
	return cfg.Validate()
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Persistence
	v.BindEnv("persistence.backend", l.prefixedEnv("PERSISTENCE_BACKEND"), l.prefixedEnv("BACKEND"))
	v.BindEnv("persistence.prefix", l.prefixedEnv("PERSISTENCE_PREFIX"))

	// Redis
	v.BindEnv("persistence.redis.url", l.prefixedEnv("REDIS_URL"))
	v.BindEnv("persistence.redis.max_conns", l.prefixedEnv("REDIS_MAX_CONNS"))
	v.BindEnv("persistence.redis.dial_timeout", l.prefixedEnv("REDIS_DIAL_TIMEOUT"))
	v.BindEnv("persistence.redis.read_timeout", l.prefixedEnv("REDIS_READ_TIMEOUT"))
	v.BindEnv("persistence.redis.write_timeout", l.prefixedEnv("REDIS_WRITE_TIMEOUT"))
	v.BindEnv("persistence.redis.ping_timeout", l.prefixedEnv("REDIS_PING_TIMEOUT"))

	// SQL
	v.BindEnv("persistence.sql.url", l.prefixedEnv("SQL_URL"), l.prefixedEnv("DB_URL"))
	v.BindEnv("persistence.sql.table", l.prefixedEnv("SQL_TABLE"))
	v.BindEnv("persistence.sql.auto_migrate", l.prefixedEnv("SQL_AUTO_MIGRATE"))
	v.BindEnv("persistence.sql.max_open_conns", l.prefixedEnv("SQL_MAX_OPEN_CONNS"))
	v.BindEnv("persistence.sql.max_idle_conns", l.prefixedEnv("SQL_MAX_IDLE_CONNS"))
	v.BindEnv("persistence.sql.conn_max_lifetime", l.prefixedEnv("SQL_CONN_MAX_LIFETIME"))
	v.BindEnv("persistence.sql.ping_timeout", l.prefixedEnv("SQL_PING_TIMEOUT"))

	// DynamoDB
	v.BindEnv("persistence.dynamodb.region", l.prefixedEnv("DYNAMODB_REGION"), "AWS_REGION")
	v.BindEnv("persistence.dynamodb.endpoint", l.prefixedEnv("DYNAMODB_ENDPOINT"))
	v.BindEnv("persistence.dynamodb.access_key_id", l.prefixedEnv("DYNAMODB_ACCESS_KEY_ID"))
	v.BindEnv("persistence.dynamodb.secret_access_key", l.prefixedEnv("DYNAMODB_SECRET_ACCESS_KEY"))
	v.BindEnv("persistence.dynamodb.session_token", l.prefixedEnv("DYNAMODB_SESSION_TOKEN"))
	v.BindEnv("persistence.dynamodb.table", l.prefixedEnv("DYNAMODB_TABLE"))
	v.BindEnv("persistence.dynamodb.operation_timeout", l.prefixedEnv("DYNAMODB_OPERATION_TIMEOUT"))

	// MongoDB
	v.BindEnv("persistence.mongodb.url", l.prefixedEnv("MONGODB_URL"), l.prefixedEnv("MONGO_URL"))
	v.BindEnv("persistence.mongodb.database", l.prefixedEnv("MONGODB_DATABASE"))
	v.BindEnv("persistence.mongodb.collection", l.prefixedEnv("MONGODB_COLLECTION"))
	v.BindEnv("persistence.mongodb.auto_index", l.prefixedEnv("MONGODB_AUTO_INDEX"))
	v.BindEnv("persistence.mongodb.connect_timeout", l.prefixedEnv("MONGODB_CONNECT_TIMEOUT"))
	v.BindEnv("persistence.mongodb.operation_timeout", l.prefixedEnv("MONGODB_OPERATION_TIMEOUT"))

	// MQTT
	v.BindEnv("mqtt.broker", l.prefixedEnv("MQTT_BROKER"))
	v.BindEnv("mqtt.client_id", l.prefixedEnv("MQTT_CLIENT_ID"))
	v.BindEnv("mqtt.username", l.prefixedEnv("MQTT_USERNAME"))
	v.BindEnv("mqtt.password", l.prefixedEnv("MQTT_PASSWORD"))
	v.BindEnv("mqtt.clean_session", l.prefixedEnv("MQTT_CLEAN_SESSION"))
	v.BindEnv("mqtt.keep_alive", l.prefixedEnv("MQTT_KEEP_ALIVE"))
	v.BindEnv("mqtt.connect_timeout", l.prefixedEnv("MQTT_CONNECT_TIMEOUT"))
	v.BindEnv("mqtt.qos", l.prefixedEnv("MQTT_QOS"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("OBSERVABILITY_LOG_LEVEL"), l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("OBSERVABILITY_LOG_FORMAT"), l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.metrics_enabled", l.prefixedEnv("OBSERVABILITY_METRICS_ENABLED"))
	v.BindEnv("observability.metrics_addr", l.prefixedEnv("OBSERVABILITY_METRICS_ADDR"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("OBSERVABILITY_TRACING_ENABLED"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("OBSERVABILITY_TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing_insecure", l.prefixedEnv("OBSERVABILITY_TRACING_INSECURE"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("OBSERVABILITY_TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("persistence.backend", cfg.Persistence.Backend)
	v.SetDefault("persistence.prefix", cfg.Persistence.Prefix)

	v.SetDefault("persistence.redis.url", cfg.Persistence.Redis.URL)
	v.SetDefault("persistence.redis.max_conns", cfg.Persistence.Redis.MaxConns)
	v.SetDefault("persistence.redis.dial_timeout", cfg.Persistence.Redis.DialTimeout)
	v.SetDefault("persistence.redis.read_timeout", cfg.Persistence.Redis.ReadTimeout)
	v.SetDefault("persistence.redis.write_timeout", cfg.Persistence.Redis.WriteTimeout)
	v.SetDefault("persistence.redis.ping_timeout", cfg.Persistence.Redis.PingTimeout)

	v.SetDefault("persistence.sql.url", cfg.Persistence.SQL.URL)
	v.SetDefault("persistence.sql.table", cfg.Persistence.SQL.Table)
	v.SetDefault("persistence.sql.auto_migrate", cfg.Persistence.SQL.AutoMigrate)
	v.SetDefault("persistence.sql.max_open_conns", cfg.Persistence.SQL.MaxOpenConns)
	v.SetDefault("persistence.sql.max_idle_conns", cfg.Persistence.SQL.MaxIdleConns)
	v.SetDefault("persistence.sql.conn_max_lifetime", cfg.Persistence.SQL.ConnMaxLifetime)
	v.SetDefault("persistence.sql.ping_timeout", cfg.Persistence.SQL.PingTimeout)

	v.SetDefault("persistence.dynamodb.region", cfg.Persistence.DynamoDB.Region)
	v.SetDefault("persistence.dynamodb.endpoint", cfg.Persistence.DynamoDB.Endpoint)
	v.SetDefault("persistence.dynamodb.access_key_id", cfg.Persistence.DynamoDB.AccessKeyID)
	v.SetDefault("persistence.dynamodb.secret_access_key", cfg.Persistence.DynamoDB.SecretAccessKey)
	v.SetDefault("persistence.dynamodb.session_token", cfg.Persistence.DynamoDB.SessionToken)
	v.SetDefault("persistence.dynamodb.table", cfg.Persistence.DynamoDB.Table)
	v.SetDefault("persistence.dynamodb.operation_timeout", cfg.Persistence.DynamoDB.OperationTimeout)

	v.SetDefault("persistence.mongodb.url", cfg.Persistence.MongoDB.URL)
	v.SetDefault("persistence.mongodb.database", cfg.Persistence.MongoDB.Database)
	v.SetDefault("persistence.mongodb.collection", cfg.Persistence.MongoDB.Collection)
	v.SetDefault("persistence.mongodb.auto_index", cfg.Persistence.MongoDB.AutoIndex)
	v.SetDefault("persistence.mongodb.connect_timeout", cfg.Persistence.MongoDB.ConnectTimeout)
	v.SetDefault("persistence.mongodb.operation_timeout", cfg.Persistence.MongoDB.OperationTimeout)

	v.SetDefault("mqtt.broker", cfg.MQTT.Broker)
	v.SetDefault("mqtt.client_id", cfg.MQTT.ClientID)
	v.SetDefault("mqtt.username", cfg.MQTT.Username)
	v.SetDefault("mqtt.password", cfg.MQTT.Password)
	v.SetDefault("mqtt.clean_session", cfg.MQTT.CleanSession)
	v.SetDefault("mqtt.keep_alive", cfg.MQTT.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", cfg.MQTT.ConnectTimeout)
	v.SetDefault("mqtt.qos", cfg.MQTT.QoS)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
	v.SetDefault("observability.metrics_addr", cfg.Observability.MetricsAddr)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_insecure", cfg.Observability.TracingInsecure)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
}
