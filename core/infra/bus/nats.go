package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/zavora-ai/imagegen/core/infra/artifacts"
	"github.com/zavora-ai/imagegen/core/infra/logging"
)

const (
	// SubjectPrefix namespaces artifact events; the event kind is appended.
	SubjectPrefix = "artifact."

	logComponent = "bus"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
)

// Publisher forwards artifact store events to NATS as JSON.
type Publisher struct {
	nc *nats.Conn
}

var _ artifacts.Notifier = (*Publisher)(nil)

// NewPublisher dials NATS at url.
func NewPublisher(url string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("imagegen-artifacts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Error(logComponent, "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info(logComponent, "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info(logComponent, "connection closed")
		}),
	}
	tlsCfg, err := natsTLSConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

// Subject returns the subject an event kind is published on.
func Subject(kind string) string {
	if kind == "" {
		return ""
	}
	return SubjectPrefix + kind
}

// Encode renders ev as the wire payload.
func Encode(ev artifacts.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses a wire payload.
func Decode(data []byte) (artifacts.Event, error) {
	var ev artifacts.Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// Publish sends ev on its subject.
func (p *Publisher) Publish(ev artifacts.Event) error {
	if p == nil || p.nc == nil {
		return errNilBus
	}
	subject := Subject(ev.Kind)
	if subject == "" {
		return errEmptyTopic
	}
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(subject, data)
}

// Notify publishes ev and logs failures; the store never waits on the bus.
func (p *Publisher) Notify(_ context.Context, ev artifacts.Event) {
	if err := p.Publish(ev); err != nil {
		logging.Error(logComponent, "publish failed", "kind", ev.Kind, "id", ev.Artifact.ID, "error", err)
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}

// IsConnected reports whether the connection is up.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.nc != nil && p.nc.IsConnected()
}

// Status returns the nats connection state name.
func (p *Publisher) Status() string {
	if p == nil || p.nc == nil {
		return "UNKNOWN"
	}
	return p.nc.Status().String()
}
