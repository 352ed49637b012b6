package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is an in-process engine event. Unlike bus messages, events never leave the
// process; they feed the CLI and tests.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`

	ComponentID string `json:"component_id,omitempty"`
	PropID      string `json:"prop_id,omitempty"`
	SystemID    string `json:"system_id,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeComponentCreated     = "component.created"
	EventTypeAttributeResolved    = "attribute.resolved"
	EventTypeValidationChecked    = "validation.checked"
	EventTypeCodeGenerated        = "code.generated"
	EventTypeQualificationChecked = "qualification.checked"
	EventTypeEdgeCreated          = "edge.created"
	EventTypeChangeSetApplied     = "change_set.applied"
	EventTypeSchemaImported       = "schema.imported"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans engine events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishComponentCreated publishes a component created event.
func (ep *EventPublisher) PublishComponentCreated(componentID, name string) error {
	return ep.Publish(Event{
		Type:        EventTypeComponentCreated,
		Source:      "component",
		ComponentID: componentID,
		Message:     fmt.Sprintf("Component %s created", name),
		Data:        map[string]interface{}{"name": name},
	})
}

// PublishAttributeResolved publishes an attribute write event.
func (ep *EventPublisher) PublishAttributeResolved(componentID, propID, valueID string, created bool) error {
	return ep.Publish(Event{
		Type:        EventTypeAttributeResolved,
		Source:      "component",
		ComponentID: componentID,
		PropID:      propID,
		Message:     "Attribute resolved",
		Data: map[string]interface{}{
			"attribute_value_id": valueID,
			"binding_created":    created,
		},
	})
}

// PublishPassChecked publishes the outcome of a validation, qualification or code
// generation pass.
func (ep *EventPublisher) PublishPassChecked(eventType, componentID, systemID string, resolvers int) error {
	return ep.Publish(Event{
		Type:        eventType,
		Source:      "checks",
		ComponentID: componentID,
		SystemID:    systemID,
		Message:     fmt.Sprintf("%d resolvers updated", resolvers),
		Data:        map[string]interface{}{"resolvers": resolvers},
	})
}

// PublishEdgeCreated publishes an edge created event.
func (ep *EventPublisher) PublishEdgeCreated(edgeID, kind, tailObjectID, headObjectID string) error {
	return ep.Publish(Event{
		Type:    EventTypeEdgeCreated,
		Source:  "edge",
		Message: fmt.Sprintf("%s edge %s -> %s", kind, tailObjectID, headObjectID),
		Data: map[string]interface{}{
			"edge_id": edgeID,
			"kind":    kind,
			"tail":    tailObjectID,
			"head":    headObjectID,
		},
	})
}

// PublishChangeSetApplied publishes a change set applied event.
func (ep *EventPublisher) PublishChangeSetApplied(changeSetPK string, rows int64) error {
	return ep.Publish(Event{
		Type:    EventTypeChangeSetApplied,
		Source:  "dal",
		Message: fmt.Sprintf("Change set %s applied", changeSetPK),
		Data:    map[string]interface{}{"change_set_pk": changeSetPK, "rows": rows},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls subscribers synchronously, in subscription order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByComponentID creates a filter that only allows events for one component.
func FilterByComponentID(componentID string) EventFilter {
	return func(event Event) bool {
		return event.ComponentID == componentID
	}
}
