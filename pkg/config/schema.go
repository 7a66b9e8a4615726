package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Draft used by every generated schema.
const schemaDraft = "https://json-schema.org/draft/2020-12/schema"

// Schema returns a JSON Schema describing a configuration file. Property
// names follow the mapstructure keys, defaults come from DefaultConfig and
// no property is required because every key has a default.
func Schema() (*jsonschema.Schema, error) {
	t := reflect.TypeOf(Config{})
	schema, err := jsonschema.ForType(t, &jsonschema.ForOptions{
		IgnoreInvalidTypes: true,
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeOf(time.Duration(0)): {Type: "string", Description: "Go duration, such as 5s or 1m30s"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build config schema: %w", err)
	}

	renameProperties(schema, t)
	injectDefaults(schema, reflect.ValueOf(*DefaultConfig()))
	constrain(schema)

	schema.Schema = schemaDraft
	schema.Title = "mqttpersist configuration"
	schema.Description = "Configuration file accepted by --config-file. Environment variables override it."
	return schema, nil
}

// renameProperties maps Go field names to mapstructure keys and drops
// required lists.
func renameProperties(schema *jsonschema.Schema, t reflect.Type) {
	if schema == nil || t.Kind() != reflect.Struct {
		return
	}
	schema.Required = nil
	var order []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		prop, ok := schema.Properties[field.Name]
		if !ok {
			continue
		}
		// Type schemas may be shared between fields; defaults are per field.
		copied := *prop
		key := keyName(field)
		delete(schema.Properties, field.Name)
		schema.Properties[key] = &copied
		prop = &copied
		order = append(order, key)
		renameProperties(prop, field.Type)
	}
	schema.PropertyOrder = order
}

func keyName(field reflect.StructField) string {
	if tag, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ","); tag != "" && tag != "-" {
		return tag
	}
	return strings.ToLower(field.Name)
}

func injectDefaults(schema *jsonschema.Schema, value reflect.Value) {
	if schema == nil {
		return
	}
	if value.Kind() == reflect.Struct {
		for i := 0; i < value.NumField(); i++ {
			injectDefaults(schema.Properties[keyName(value.Type().Field(i))], value.Field(i))
		}
		return
	}

	var v any = value.Interface()
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	if value.IsZero() && value.Kind() != reflect.Bool {
		return
	}
	if raw, err := json.Marshal(v); err == nil {
		schema.Default = raw
	}
}

// constrain documents the values Validate accepts and adds numeric bounds.
// Names are matched case-insensitively, so they are described rather than
// enumerated.
func constrain(schema *jsonschema.Schema) {
	prop := func(path ...string) *jsonschema.Schema {
		s := schema
		for _, p := range path {
			if s == nil {
				return nil
			}
			s = s.Properties[p]
		}
		return s
	}
	oneOf := func(s *jsonschema.Schema, values ...string) {
		if s == nil {
			return
		}
		s.Description = "One of " + strings.Join(values, ", ") + " (case-insensitive)"
		for _, v := range values {
			s.Examples = append(s.Examples, v)
		}
	}
	bounds := func(s *jsonschema.Schema, lo, hi float64) {
		if s != nil {
			s.Minimum, s.Maximum = &lo, &hi
		}
	}

	oneOf(prop("persistence", "backend"), SupportedBackends...)
	oneOf(prop("observability", "log_level"), "debug", "info", "warn", "error")
	oneOf(prop("observability", "log_format"), "json", "text")
	bounds(prop("mqtt", "qos"), 0, 2)
	bounds(prop("observability", "tracing_sample_rate"), 0, 1)
}
