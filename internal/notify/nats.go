package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events as JSON on a subject, suffixed with the
// lower-case event kind ("storefront.events.new_order").
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials url and returns a sink publishing under subject.
func ConnectNATS(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("whatsapp-storefront"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{conn: nc, subject: subject}, nil
}

// Subject returns the subject ev is published on.
func (s *NATSSink) Subject(ev Event) string {
	return s.subject + "." + strings.ToLower(string(ev.Kind))
}

// Publish implements Sink.
func (s *NATSSink) Publish(_ context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.Subject(ev), b)
}

// Close drains pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
