package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Tensibai/si/pkg/telemetry"
)

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTPublisher publishes notifications to an MQTT broker. Subjects map to topics by
// replacing dots with slashes.
type MQTTPublisher struct {
	client  pahomqtt.Client
	qos     byte
	timeout time.Duration
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig, logger *telemetry.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("broker URL is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("si-%d", time.Now().UnixNano())
	}
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	log := logger.NewComponentLogger("bus.mqtt")

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &MQTTPublisher{client: client, qos: cfg.QoS, timeout: cfg.ConnectTimeout}, nil
}

func (m *MQTTPublisher) Driver() string { return "mqtt" }

func (m *MQTTPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	token := m.client.Publish(Topic(subject), m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", Topic(subject), err)
	}
	return nil
}

// Subscribe subscribes to the topic filter of pattern until ctx is done.
func (m *MQTTPublisher) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	filter := TopicFilter(pattern)
	token := m.client.Subscribe(filter, m.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(SubjectFromTopic(msg.Topic()), msg.Payload())
	})
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", filter, err)
	}

	go func() {
		<-ctx.Done()
		m.client.Unsubscribe(filter)
	}()
	return nil
}

func (m *MQTTPublisher) Close() error {
	m.client.Disconnect(250)
	return nil
}

// Topic maps a subject to an MQTT topic.
func Topic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// SubjectFromTopic maps an MQTT topic back to a subject.
func SubjectFromTopic(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// TopicFilter maps a subject pattern to an MQTT topic filter.
func TopicFilter(pattern string) string {
	r := strings.NewReplacer(".", "/", "*", "+", ">", "#")
	return r.Replace(pattern)
}
