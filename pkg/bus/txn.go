package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Tensibai/si/pkg/telemetry"
	"github.com/Tensibai/si/pkg/tenancy"
)

// Txn queues notifications until the surrounding storage transaction commits.
type Txn struct {
	pub     Publisher
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu      sync.Mutex
	pending []json.RawMessage
}

// NewTxn starts a notification transaction on pub.
func NewTxn(pub Publisher, tel *telemetry.Telemetry) *Txn {
	return &Txn{
		pub:     pub,
		logger:  tel.Logger.NewComponentLogger("bus"),
		metrics: tel.Metrics,
	}
}

// Publish queues the JSON representation of obj.
func (t *Txn) Publish(obj interface{}) error {
	body, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	t.mu.Lock()
	t.pending = append(t.pending, body)
	t.mu.Unlock()
	return nil
}

// Delete queues a deletion notice wrapping obj as {"deleted": obj}.
func (t *Txn) Delete(obj interface{}) error {
	return t.Publish(map[string]interface{}{"deleted": obj})
}

// Pending returns the number of queued messages.
func (t *Txn) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Rollback discards queued messages.
func (t *Txn) Rollback() {
	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
}

// Commit publishes every queued message. Bodies without a concrete tenancy are skipped
// and logged. Delivery continues past failures; all errors are returned joined.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	var errs []error
	for _, body := range pending {
		subject, ok := SubjectFor(body)
		if !ok {
			t.logger.WithField("body", string(body)).Warn("skipping notification without tenancy")
			t.metrics.RecordBusSkipped()
			continue
		}
		if err := t.pub.Publish(ctx, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish on %s: %w", subject, err))
			continue
		}
		t.metrics.RecordBusPublished(t.pub.Driver())
	}
	return errors.Join(errs...)
}

type envelope struct {
	Tenancy *tenancy.WriteTenancy `json:"tenancy"`
	Deleted *struct {
		Tenancy *tenancy.WriteTenancy `json:"tenancy"`
	} `json:"deleted"`
}

// SubjectFor derives the subject of a notification body from its tenancy field, or
// from the tenancy of a wrapped deletion.
func SubjectFor(body []byte) (string, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", false
	}
	wt := env.Tenancy
	if wt == nil && env.Deleted != nil {
		wt = env.Deleted.Tenancy
	}
	if wt == nil {
		return "", false
	}
	sub := wt.Subject()
	if sub == "" {
		return "", false
	}
	return SubjectPrefix + "." + sub, true
}
