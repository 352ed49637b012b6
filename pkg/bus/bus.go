// Package bus carries change notifications for committed records. Writers queue JSON
// bodies on a Txn while a storage transaction is open; the Txn is committed after
// storage, deriving each subject from the record's tenancy.
package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Tensibai/si/pkg/telemetry"
)

// SubjectPrefix is prepended to every tenancy derived subject.
const SubjectPrefix = "si"

// Publisher delivers one message on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Driver() string
	Close() error
}

// Handler receives messages from a subscription.
type Handler func(subject string, payload []byte)

// Subscriber is implemented by publishers that can also watch subjects. Patterns use
// dot separated segments where "*" matches one segment and ">" matches the rest.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, handler Handler) error
}

// Open connects a publisher from a URL:
//
//	memory://
//	redis://[user:pass@]host:port[/db]
//	mqtt://host:port or tcp://host:port
//	stream://stdout or stream://stderr
func Open(ctx context.Context, rawURL string, logger *telemetry.Logger) (Publisher, error) {
	if rawURL == "" {
		rawURL = "memory://"
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bus url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemory(), nil
	case "redis", "rediss":
		return NewRedisPublisher(ctx, rawURL)
	case "mqtt", "tcp", "ssl":
		broker := rawURL
		if u.Scheme == "mqtt" {
			broker = "tcp://" + u.Host
		}
		return NewMQTTPublisher(MQTTConfig{Broker: broker, Username: u.User.Username()}, logger)
	case "stream":
		return NewStdStream(u.Host)
	}
	return nil, fmt.Errorf("unsupported bus driver %q", u.Scheme)
}

// Match reports whether subject matches pattern.
func Match(pattern, subject string) bool {
	pp := strings.Split(pattern, ".")
	ss := strings.Split(subject, ".")
	for i, p := range pp {
		if p == ">" {
			return len(ss) > i
		}
		if i >= len(ss) {
			return false
		}
		if p != "*" && p != ss[i] {
			return false
		}
	}
	return len(pp) == len(ss)
}

var errClosed = errors.New("bus publisher closed")
