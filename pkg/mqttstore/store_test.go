package mqttstore

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nimburion/mqttpersist/pkg/persistence"
	"github.com/nimburion/mqttpersist/pkg/persistence/memory"
	"github.com/nimburion/mqttpersist/pkg/testutil"
)

const brokerURI = "tcp://broker:1883"

func publishPacket(id uint16, topic, payload string) *packets.PublishPacket {
	pp := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pp.TopicName = topic
	pp.Qos = 1
	pp.MessageID = id
	pp.Payload = []byte(payload)
	return pp
}

func TestStore_RoundTripsPackets(t *testing.T) {
	s := New(memory.NewAdapter(nil, nil), "dev1", brokerURI, nil)
	s.Open()
	defer s.Close()

	s.Put("o.7", publishPacket(7, "sensors/temp", "21.5"))
	pubrel := packets.NewControlPacket(packets.Pubrel).(*packets.PubrelPacket)
	pubrel.MessageID = 8
	s.Put("o.8", pubrel)

	got, ok := s.Get("o.7").(*packets.PublishPacket)
	if !ok {
		t.Fatal("expected a publish packet")
	}
	if got.TopicName != "sensors/temp" || got.MessageID != 7 || got.Qos != 1 || string(got.Payload) != "21.5" {
		t.Fatalf("unexpected packet %s", got)
	}
	rel, ok := s.Get("o.8").(*packets.PubrelPacket)
	if !ok || rel.MessageID != 8 {
		t.Fatalf("expected pubrel 8, got %v", rel)
	}

	keys := s.All()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "o.7" || keys[1] != "o.8" {
		t.Fatalf("expected [o.7 o.8], got %v", keys)
	}
}

func TestStore_StoresWireEncoding(t *testing.T) {
	backend := memory.NewAdapter(nil, nil)
	s := New(backend, "dev1", brokerURI, nil)
	s.Open()
	defer s.Close()

	pp := publishPacket(3, "a/b", "hello")
	s.Put("o.3", pp)

	var want bytes.Buffer
	if err := publishPacket(3, "a/b", "hello").Write(&want); err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := backend.Get("o.3")
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if !bytes.Equal(raw, want.Bytes()) {
		t.Fatalf("stored bytes differ from the MQTT wire encoding")
	}
}

func TestStore_DelAndReset(t *testing.T) {
	s := New(memory.NewAdapter(nil, nil), "dev1", brokerURI, nil)
	s.Open()
	defer s.Close()

	for i := uint16(1); i <= 3; i++ {
		s.Put(string(rune('a'+i)), publishPacket(i, "t", "p"))
	}
	s.Del("b")
	s.Del("missing")
	if got := len(s.All()); got != 2 {
		t.Fatalf("expected 2 packets after delete, got %d", got)
	}
	if s.Get("b") != nil {
		t.Fatal("deleted packet must be gone")
	}

	s.Reset()
	if got := len(s.All()); got != 0 {
		t.Fatalf("expected empty store after reset, got %d", got)
	}
}

func TestStore_SurvivesReconnect(t *testing.T) {
	shared := memory.NewStore()
	first := New(memory.NewAdapter(shared, nil), "dev1", brokerURI, nil)
	first.Open()
	first.Put("o.1", publishPacket(1, "t", "pending"))
	first.Close()

	second := New(memory.NewAdapter(shared, nil), "dev1", brokerURI, nil)
	second.Open()
	defer second.Close()
	got, ok := second.Get("o.1").(*packets.PublishPacket)
	if !ok || string(got.Payload) != "pending" {
		t.Fatalf("expected pending publish after reconnect, got %v", got)
	}

	other := New(memory.NewAdapter(shared, nil), "dev2", brokerURI, nil)
	other.Open()
	defer other.Close()
	if len(other.All()) != 0 {
		t.Fatal("another client must not see dev1's packets")
	}
}

func TestStore_NotOpen(t *testing.T) {
	log := &testutil.MockLogger{}
	s := New(memory.NewAdapter(nil, nil), "dev1", brokerURI, log)

	s.Put("o.1", publishPacket(1, "t", "p"))
	if s.Get("o.1") != nil {
		t.Fatal("get on a closed store must return nil")
	}
	if s.All() != nil {
		t.Fatal("all on a closed store must return nil")
	}
	s.Del("o.1")
	s.Reset()
	s.Close()
	if !log.Has("error", "not open") {
		t.Fatal("expected use of a closed store to be logged")
	}
}

type failingBackend struct {
	persistence.Persistence
	openErr error
}

func (f *failingBackend) Open(string, string) error { return f.openErr }

func TestStore_OpenFailure(t *testing.T) {
	log := &testutil.MockLogger{}
	backend := &failingBackend{
		Persistence: memory.NewAdapter(nil, nil),
		openErr:     persistence.Wrap("open", errors.New("connection refused")),
	}
	s := New(backend, "dev1", brokerURI, log)
	s.Open()

	if s.IsOpen() {
		t.Fatal("failed open must leave the store closed")
	}
	if !log.Has("error", "failed to open mqtt store") {
		t.Fatal("expected open failure to be logged")
	}
}

func TestStore_CorruptRecord(t *testing.T) {
	backend := memory.NewAdapter(nil, nil)
	log := &testutil.MockLogger{}
	s := New(backend, "dev1", brokerURI, log)
	s.Open()
	defer s.Close()

	if err := backend.Put("o.9", []byte{0xff}); err != nil {
		t.Fatalf("put raw: %v", err)
	}
	if s.Get("o.9") != nil {
		t.Fatal("corrupt record must read as nil")
	}
	if !log.Has("error", "failed to decode stored packet") {
		t.Fatal("expected decode failure to be logged")
	}
}

func TestStore_ConcurrentUse(t *testing.T) {
	s := New(memory.NewAdapter(nil, nil), "dev1", brokerURI, nil)
	s.Open()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			key := string(rune('A' + id))
			s.Put(key, publishPacket(id+1, "t", "p"))
			_ = s.Get(key)
			_ = s.All()
		}(uint16(i))
	}
	wg.Wait()

	if got := len(s.All()); got != 16 {
		t.Fatalf("expected 16 packets, got %d", got)
	}
}
