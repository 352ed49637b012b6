package bus

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/Tensibai/si/pkg/telemetry"
)

// Broker is an embedded MQTT broker for local development. It doubles as a Publisher
// through its inline client, so a single process can serve and publish.
type Broker struct {
	server *mqtt.Server
	logger *telemetry.Logger
	nextID int
}

// NewBroker creates a broker listening on address. An empty address creates a broker
// with no network listener.
func NewBroker(address string, logger *telemetry.Logger) (*Broker, error) {
	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add allow hook: %w", err)
	}

	if address != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: address})
		if err := server.AddListener(tcp); err != nil {
			return nil, fmt.Errorf("failed to add TCP listener: %w", err)
		}
	}

	return &Broker{server: server, logger: logger.NewComponentLogger("broker")}, nil
}

// Start begins serving in the background.
func (b *Broker) Start() {
	go func() {
		if err := b.server.Serve(); err != nil {
			b.logger.WithError(err).Error("mqtt broker stopped")
		}
	}()
}

func (b *Broker) Driver() string { return "broker" }

func (b *Broker) Publish(_ context.Context, subject string, payload []byte) error {
	return b.server.Publish(Topic(subject), payload, false, 1)
}

// Subscribe adds an inline subscription for pattern.
func (b *Broker) Subscribe(_ context.Context, pattern string, handler Handler) error {
	b.nextID++
	return b.server.Subscribe(TopicFilter(pattern), b.nextID, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		handler(SubjectFromTopic(pk.TopicName), pk.Payload)
	})
}

func (b *Broker) Close() error {
	return b.server.Close()
}
