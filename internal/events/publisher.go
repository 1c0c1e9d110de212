// Package events publishes relay session lifecycle events.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opencomputer/termproxy/pkg/types"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is prepended to the event type to form the subject.
const DefaultSubjectPrefix = "termproxy.sessions"

// Publisher receives session events. Publish must not block the relay for
// long; failures are the publisher's to log.
type Publisher interface {
	Publish(event types.SessionEvent)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(types.SessionEvent) {}

// NATSPublisher sends events as JSON on core NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

// NewNATSPublisher connects to natsURL. The connection retries in the
// background, so a broker that is briefly down does not block startup.
func NewNATSPublisher(natsURL string, log *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("termproxy"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: DefaultSubjectPrefix, log: log}, nil
}

// Subject returns the subject an event of the given type is published on.
func Subject(prefix, eventType string) string {
	return prefix + "." + eventType
}

// Encode marshals an event for the wire.
func Encode(event types.SessionEvent) ([]byte, error) {
	return json.Marshal(event)
}

// Publish sends event; errors are logged, never returned.
func (p *NATSPublisher) Publish(event types.SessionEvent) {
	data, err := Encode(event)
	if err != nil {
		p.log.Warn("encode session event", zap.Error(err))
		return
	}
	if err := p.nc.Publish(Subject(p.prefix, event.Type), data); err != nil {
		p.log.Warn("publish session event",
			zap.String("type", event.Type),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.log.Debug("flush NATS", zap.Error(err))
	}
	p.nc.Close()
}
