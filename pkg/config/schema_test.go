package config

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSchema_UsesConfigKeys(t *testing.T) {
	schema, err := Schema()
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}

	for _, key := range []string{"service", "persistence", "mqtt", "observability"} {
		if _, ok := schema.Properties[key]; !ok {
			t.Errorf("expected root key %q, have %v", key, schema.PropertyOrder)
		}
	}
	persistence := schema.Properties["persistence"]
	for _, key := range []string{"backend", "prefix", "redis", "sql", "dynamodb", "mongodb"} {
		if _, ok := persistence.Properties[key]; !ok {
			t.Errorf("expected persistence.%s", key)
		}
	}
	if _, ok := persistence.Properties["Redis"]; ok {
		t.Error("go field names must not leak into the schema")
	}
	if _, ok := persistence.Properties["mongodb"].Properties["auto_index"]; !ok {
		t.Error("expected nested mapstructure keys")
	}
}

func TestSchema_DefaultsAndConstraints(t *testing.T) {
	schema, err := Schema()
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	p := schema.Properties["persistence"]

	if got := string(p.Properties["backend"].Default); got != `"redis"` {
		t.Errorf("expected backend default redis, got %s", got)
	}
	if got := string(p.Properties["redis"].Properties["dial_timeout"].Default); got != `"5s"` {
		t.Errorf("expected duration default rendered as string, got %s", got)
	}
	if typ := p.Properties["redis"].Properties["dial_timeout"].Type; typ != "string" {
		t.Errorf("expected durations typed as string, got %q", typ)
	}
	if !strings.Contains(p.Properties["backend"].Description, "mongodb") {
		t.Errorf("expected supported backends in description, got %q", p.Properties["backend"].Description)
	}
	qos := schema.Properties["mqtt"].Properties["qos"]
	if qos.Minimum == nil || qos.Maximum == nil || *qos.Maximum != 2 {
		t.Errorf("expected qos bounds 0..2, got %v..%v", qos.Minimum, qos.Maximum)
	}
	if len(schema.Required) != 0 || len(p.Required) != 0 {
		t.Error("every key has a default, nothing may be required")
	}
}

func TestSchema_MarshalsAsJSON(t *testing.T) {
	schema, err := Schema()
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	data, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["$schema"] != schemaDraft || doc["title"] != "mqttpersist configuration" {
		t.Fatalf("unexpected header: %v %v", doc["$schema"], doc["title"])
	}
}
