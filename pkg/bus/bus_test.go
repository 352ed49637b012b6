package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Tensibai/si/pkg/telemetry"
	"github.com/Tensibai/si/pkg/tenancy"
)

type record struct {
	ID      string               `json:"id"`
	Tenancy tenancy.WriteTenancy `json:"tenancy"`
}

func setupTxn(t *testing.T) (*Txn, *Memory, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	tel := telemetry.NewNop()
	tel.Logger = telemetry.NewWriterLogger(&logs, "debug")
	mem := NewMemory()
	return NewTxn(mem, tel), mem, &logs
}

func TestTxnCommit(t *testing.T) {
	txn, mem, _ := setupTxn(t)

	if err := txn.Publish(record{ID: "r1", Tenancy: tenancy.NewWorkspace("w1")}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := txn.Delete(record{ID: "r2", Tenancy: tenancy.NewOrganization("o1")}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if txn.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", txn.Pending())
	}
	if len(mem.Messages()) != 0 {
		t.Fatal("nothing may be published before commit")
	}

	if err := txn.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	msgs := mem.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Subject != "si.workspace.w1" {
		t.Errorf("subject = %s, want si.workspace.w1", msgs[0].Subject)
	}
	if msgs[1].Subject != "si.organization.o1" {
		t.Errorf("subject = %s, want si.organization.o1", msgs[1].Subject)
	}

	var deleted map[string]json.RawMessage
	if err := json.Unmarshal(msgs[1].Payload, &deleted); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if _, ok := deleted["deleted"]; !ok {
		t.Errorf("delete payload not wrapped: %s", msgs[1].Payload)
	}
	if txn.Pending() != 0 {
		t.Error("commit must drain the queue")
	}
}

func TestTxnSkipsTenancyless(t *testing.T) {
	txn, mem, logs := setupTxn(t)

	txn.Publish(map[string]string{"id": "orphan"})
	txn.Publish(record{ID: "builtin", Tenancy: tenancy.NewUniversal()})
	txn.Publish(record{ID: "r1", Tenancy: tenancy.NewWorkspace("w1")})

	if err := txn.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if got := len(mem.Messages()); got != 1 {
		t.Errorf("expected 1 message, got %d", got)
	}
	if n := strings.Count(logs.String(), "skipping notification without tenancy"); n != 2 {
		t.Errorf("expected 2 skip warnings, got %d: %s", n, logs.String())
	}
}

func TestTxnRollback(t *testing.T) {
	txn, mem, _ := setupTxn(t)

	txn.Publish(record{ID: "r1", Tenancy: tenancy.NewWorkspace("w1")})
	txn.Rollback()

	if err := txn.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(mem.Messages()) != 0 {
		t.Error("rolled back messages must not be published")
	}
}

func TestTxnCommitReportsPublishErrors(t *testing.T) {
	txn, mem, _ := setupTxn(t)
	mem.Close()

	txn.Publish(record{ID: "r1", Tenancy: tenancy.NewWorkspace("w1")})
	if err := txn.Commit(context.Background()); err == nil {
		t.Error("expected error from closed publisher")
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"si.workspace.w1", "si.workspace.w1", true},
		{"si.workspace.*", "si.workspace.w1", true},
		{"si.*", "si.workspace.w1", false},
		{"si.>", "si.workspace.w1", true},
		{"si.>", "si", false},
		{"si.organization.*", "si.workspace.w1", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.subject, func(t *testing.T) {
			if got := Match(tt.pattern, tt.subject); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
			}
		})
	}
}

func TestTopicMapping(t *testing.T) {
	if got := Topic("si.workspace.w1"); got != "si/workspace/w1" {
		t.Errorf("Topic = %s", got)
	}
	if got := SubjectFromTopic("si/workspace/w1"); got != "si.workspace.w1" {
		t.Errorf("SubjectFromTopic = %s", got)
	}
	if got := TopicFilter("si.*.>"); got != "si/+/#" {
		t.Errorf("TopicFilter = %s", got)
	}
	if got := redisPattern("si.>"); got != "si.*" {
		t.Errorf("redisPattern = %s", got)
	}
}

func TestMemorySubscribe(t *testing.T) {
	mem := NewMemory()
	var got []string
	mem.Subscribe(context.Background(), "si.workspace.*", func(subject string, _ []byte) {
		got = append(got, subject)
	})

	mem.Publish(context.Background(), "si.workspace.w1", []byte(`{}`))
	mem.Publish(context.Background(), "si.organization.o1", []byte(`{}`))

	if len(got) != 1 || got[0] != "si.workspace.w1" {
		t.Errorf("unexpected deliveries: %v", got)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)

	if err := s.Publish(context.Background(), "si.workspace.w1", []byte(`{"id":"r1"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := s.Publish(context.Background(), "si.workspace.w1", []byte(`not json`)); err == nil {
		t.Error("expected error for invalid payload")
	}

	var subjects []string
	var payloads []string
	err := DecodeStream(&buf, func(subject string, payload []byte) {
		subjects = append(subjects, subject)
		payloads = append(payloads, string(payload))
	})
	if err != nil {
		t.Fatalf("DecodeStream failed: %v", err)
	}
	if len(subjects) != 1 || payloads[0] != `{"id":"r1"}` {
		t.Errorf("unexpected stream contents: %v %v", subjects, payloads)
	}
}

func TestOpen(t *testing.T) {
	logger := telemetry.NewNopLogger()

	pub, err := Open(context.Background(), "memory://", logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pub.Driver() != "memory" {
		t.Errorf("driver = %s", pub.Driver())
	}

	pub, err = Open(context.Background(), "stream://stderr", logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pub.Driver() != "stream" {
		t.Errorf("driver = %s", pub.Driver())
	}

	if _, err := Open(context.Background(), "nats://localhost", logger); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestBrokerInlineDelivery(t *testing.T) {
	b, err := NewBroker("", telemetry.NewNopLogger())
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}
	b.Start()
	defer b.Close()

	received := make(chan string, 1)
	if err := b.Subscribe(context.Background(), "si.workspace.*", func(subject string, _ []byte) {
		received <- subject
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(context.Background(), "si.workspace.w1", []byte(`{}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case subject := <-received:
		if subject != "si.workspace.w1" {
			t.Errorf("subject = %s", subject)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inline delivery")
	}
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("SI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SI_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := NewRedisPublisher(ctx, "redis://"+addr)
	if err != nil {
		t.Fatalf("NewRedisPublisher failed: %v", err)
	}
	defer pub.Close()

	received := make(chan string, 1)
	if err := pub.Subscribe(ctx, "si.>", func(subject string, _ []byte) { received <- subject }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := pub.Publish(ctx, "si.workspace.w1", []byte(`{}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case subject := <-received:
		if subject != "si.workspace.w1" {
			t.Errorf("subject = %s", subject)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for redis delivery")
	}
}

func TestMQTTPublisher(t *testing.T) {
	broker := os.Getenv("SI_TEST_MQTT_URL")
	if broker == "" {
		t.Skip("SI_TEST_MQTT_URL not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := NewMQTTPublisher(MQTTConfig{Broker: broker}, telemetry.NewNopLogger())
	if err != nil {
		t.Fatalf("NewMQTTPublisher failed: %v", err)
	}
	defer pub.Close()

	received := make(chan string, 1)
	if err := pub.Subscribe(ctx, "si.workspace.*", func(subject string, _ []byte) { received <- subject }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := pub.Publish(ctx, "si.workspace.w1", []byte(`{}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case subject := <-received:
		if subject != "si.workspace.w1" {
			t.Errorf("subject = %s", subject)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for mqtt delivery")
	}
}
