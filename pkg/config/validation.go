package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const redactedValue = logger.Redacted

func (c *Config) normalize() {
	c.Service.Name = strings.TrimSpace(c.Service.Name)
	c.Persistence.Backend = strings.ToLower(strings.TrimSpace(c.Persistence.Backend))
	c.Persistence.Prefix = strings.TrimSpace(c.Persistence.Prefix)
	c.Persistence.Redis.URL = strings.TrimSpace(c.Persistence.Redis.URL)
	c.Persistence.SQL.URL = strings.TrimSpace(c.Persistence.SQL.URL)
	c.Persistence.SQL.Table = strings.TrimSpace(c.Persistence.SQL.Table)
	c.Persistence.DynamoDB.Region = strings.TrimSpace(c.Persistence.DynamoDB.Region)
	c.Persistence.DynamoDB.Table = strings.TrimSpace(c.Persistence.DynamoDB.Table)
	c.Persistence.MongoDB.URL = strings.TrimSpace(c.Persistence.MongoDB.URL)
	c.Persistence.MongoDB.Database = strings.TrimSpace(c.Persistence.MongoDB.Database)
	c.Persistence.MongoDB.Collection = strings.TrimSpace(c.Persistence.MongoDB.Collection)
	c.MQTT.Broker = strings.TrimSpace(c.MQTT.Broker)
	c.MQTT.ClientID = strings.TrimSpace(c.MQTT.ClientID)
}

// Validate checks the configuration and returns every violation joined together.
func (c *Config) Validate() error {
	var errs []error

	p := c.Persistence
	switch p.Backend {
	case BackendRedis:
		if p.Redis.URL == "" {
			errs = append(errs, errors.New("persistence.redis.url is required for the redis backend"))
		}
		if p.Redis.MaxConns < 0 {
			errs = append(errs, errors.New("persistence.redis.max_conns must not be negative"))
		}
	case BackendPostgres, BackendMySQL:
		if p.SQL.URL == "" {
			errs = append(errs, fmt.Errorf("persistence.sql.url is required for the %s backend", p.Backend))
		}
		if p.SQL.Table != "" && !identifierPattern.MatchString(p.SQL.Table) {
			errs = append(errs, fmt.Errorf("persistence.sql.table %q is not a valid identifier", p.SQL.Table))
		}
		if p.SQL.MaxOpenConns < 0 || p.SQL.MaxIdleConns < 0 {
			errs = append(errs, errors.New("persistence.sql connection limits must not be negative"))
		}
	case BackendDynamoDB:
		if p.DynamoDB.Region == "" {
			errs = append(errs, errors.New("persistence.dynamodb.region is required for the dynamodb backend"))
		}
		if (p.DynamoDB.AccessKeyID == "") != (p.DynamoDB.SecretAccessKey == "") {
			errs = append(errs, errors.New("persistence.dynamodb.access_key_id and secret_access_key must be set together"))
		}
	case BackendMongoDB:
		if p.MongoDB.URL == "" {
			errs = append(errs, errors.New("persistence.mongodb.url is required for the mongodb backend"))
		}
		if strings.ContainsAny(p.MongoDB.Database, "/\\. \"$") {
			errs = append(errs, fmt.Errorf("persistence.mongodb.database %q contains characters MongoDB rejects", p.MongoDB.Database))
		}
		if strings.HasPrefix(p.MongoDB.Collection, "system.") || strings.Contains(p.MongoDB.Collection, "$") {
			errs = append(errs, fmt.Errorf("persistence.mongodb.collection %q is reserved or invalid", p.MongoDB.Collection))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid persistence.backend: %q (must be one of: %v)", p.Backend, SupportedBackends))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.MQTT.KeepAlive < 0 || c.MQTT.ConnectTimeout < 0 {
		errs = append(errs, errors.New("mqtt timeouts must not be negative"))
	}

	o := c.Observability
	if _, err := logger.ParseLogLevel(o.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("observability.log_level: %w", err))
	}
	if _, err := logger.ParseLogFormat(o.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("observability.log_format: %w", err))
	}
	if o.MetricsEnabled && strings.TrimSpace(o.MetricsAddr) == "" {
		errs = append(errs, errors.New("observability.metrics_addr is required when metrics are enabled"))
	}
	if o.TracingEnabled {
		if strings.TrimSpace(o.TracingEndpoint) == "" {
			errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
		}
		if o.TracingSampleRate < 0 || o.TracingSampleRate > 1 {
			errs = append(errs, errors.New("observability.tracing_sample_rate must be between 0 and 1"))
		}
	}

	return errors.Join(errs...)
}

// IsSupportedBackend reports whether backend names a known persistence backend.
func IsSupportedBackend(backend string) bool {
	return slices.Contains(SupportedBackends, strings.ToLower(strings.TrimSpace(backend)))
}

// String returns the full configuration as a formatted string
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c).Elem(), "")
}

// Redacted returns the configuration with secrets masked.
// Pass the secrets Config returned by LoadWithSecrets() to mask those values.
// Credential fields are always masked when set.
func (c *Config) Redacted(secrets *Config) string {
	return formatStruct(reflect.ValueOf(c.redactedCopy(secrets)).Elem(), "")
}

// YAML renders the redacted configuration as YAML.
func (c *Config) YAML(secrets *Config) ([]byte, error) {
	data, err := yaml.Marshal(c.redactedCopy(secrets))
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

func (c *Config) redactedCopy(secrets *Config) *Config {
	out := *c
	if secrets != nil {
		maskStruct(reflect.ValueOf(&out).Elem(), reflect.ValueOf(secrets).Elem())
	}
	for _, field := range []*string{
		&out.Persistence.DynamoDB.SecretAccessKey,
		&out.Persistence.DynamoDB.SessionToken,
		&out.MQTT.Password,
	} {
		if *field != "" {
			*field = redactedValue
		}
	}
	out.Persistence.Redis.URL = logger.RedactURL(out.Persistence.Redis.URL)
	out.Persistence.SQL.URL = logger.RedactURL(out.Persistence.SQL.URL)
	out.Persistence.MongoDB.URL = logger.RedactURL(out.Persistence.MongoDB.URL)
	return &out
}

func maskStruct(v, mask reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		maskField := mask.Field(i)
		if !field.CanSet() {
			continue
		}
		switch field.Kind() {
		case reflect.Struct:
			maskStruct(field, maskField)
		case reflect.String:
			if shouldRedact(maskField) {
				field.SetString(redactedValue)
			}
		}
	}
}

func formatStruct(v reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		if !value.CanInterface() {
			continue
		}

		fieldName := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			fieldName = tag
		}

		switch value.Kind() {
		case reflect.Struct:
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
			sb.WriteString(formatStruct(value, prefix+"  "))
		default:
			sb.WriteString(fmt.Sprintf("%s%s: %v\n", prefix, fieldName, value.Interface()))
		}
	}

	return sb.String()
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}

	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Bool:
		return v.Bool()
	default:
		return false
	}
}
