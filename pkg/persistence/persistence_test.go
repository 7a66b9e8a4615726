package persistence

import (
	"errors"
	"strings"
	"testing"
)

func TestPartitionName(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		clientID  string
		serverURI string
		want      string
	}{
		{name: "no prefix", clientID: "dev1", serverURI: "tcp://host:1883", want: "dev1:tcp://host:1883"},
		{name: "prefix", prefix: "fleet", clientID: "dev1", serverURI: "tcp://host:1883", want: "fleet/dev1:tcp://host:1883"},
		{name: "separators in client id", clientID: "sensor:01/a%", serverURI: "tcp://h:1883", want: "sensor%3A01%2Fa%25:tcp://h:1883"},
		{name: "separators in prefix", prefix: "eu:west/1", clientID: "dev1", serverURI: "tcp://h:1883", want: "eu%3Awest%2F1/dev1:tcp://h:1883"},
		{name: "blank prefix", prefix: "  ", clientID: "dev1", serverURI: "ssl://b:8883", want: "dev1:ssl://b:8883"},
		{name: "empty identifiers", want: ":"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PartitionName(tt.prefix, tt.clientID, tt.serverURI); got != tt.want {
				t.Errorf("PartitionName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPartitionName_NoCollisions(t *testing.T) {
	pairs := []struct {
		name string
		a, b [3]string
	}{
		{name: "colon moved between client id and uri", a: [3]string{"", "sensor:01", "tcp://h:1883"}, b: [3]string{"", "sensor", "01:tcp://h:1883"}},
		{name: "prefix against client id", a: [3]string{"x", "dev", "tcp://h:1883"}, b: [3]string{"", "x", "dev:tcp://h:1883"}},
		{name: "slash in client id against prefix", a: [3]string{"x", "dev", "tcp://h:1883"}, b: [3]string{"", "x/dev", "tcp://h:1883"}},
		{name: "escaped text against raw text", a: [3]string{"", "a%3Ab", "tcp://h"}, b: [3]string{"", "a:b", "tcp://h"}},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			a := PartitionName(tt.a[0], tt.a[1], tt.a[2])
			b := PartitionName(tt.b[0], tt.b[1], tt.b[2])
			if a == b {
				t.Fatalf("distinct sessions share partition %q", a)
			}
		})
	}
}

func TestConcat(t *testing.T) {
	if got := Concat([]byte("AB"), nil, []byte{}, []byte("CD")); string(got) != "ABCD" {
		t.Fatalf("expected ABCD, got %q", got)
	}
	empty := Concat()
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected non-nil empty value, got %#v", empty)
	}

	a := []byte("xy")
	joined := Concat(a)
	a[0] = 'z'
	if string(joined) != "xy" {
		t.Fatalf("Concat must not alias its input, got %q", joined)
	}
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name    string
		err     error
		msg     string
		isCause bool
	}{
		{name: "plain", err: Error("key \"m1\" not found"), msg: "key \"m1\" not found"},
		{name: "empty message", err: Error(""), msg: "persistence error"},
		{name: "wrapped", err: Wrap("put key \"m1\"", cause), msg: "connection refused", isCause: true},
		{name: "nil cause", err: Wrap("clear", nil), msg: "clear"},
		{name: "not open", err: ErrNotOpen, msg: "not open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, ErrPersistence) {
				t.Fatalf("expected ErrPersistence kind, got %v", tt.err)
			}
			if errors.Is(tt.err, cause) != tt.isCause {
				t.Fatalf("errors.Is(cause) = %v, want %v", !tt.isCause, tt.isCause)
			}
			if !strings.Contains(tt.err.Error(), tt.msg) {
				t.Fatalf("expected %q in %q", tt.msg, tt.err.Error())
			}
		})
	}
}
