package bus

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "mycroft"

// NatsConn is the part of *nats.Conn the publisher uses.
type NatsConn interface {
	Publish(subject string, data []byte) error
}

// NatsPublisher maps each event onto its own subject, e.g.
// recognizer_loop:utterance becomes mycroft.recognizer_loop.utterance.
type NatsPublisher struct {
	conn   NatsConn
	prefix string
}

func NewNatsPublisher(conn NatsConn, prefix string) (*NatsPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is nil")
	}

	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &NatsPublisher{conn: conn, prefix: prefix}, nil
}

// ConnectNats dials the given servers and returns the connection alongside
// the publisher so the caller can drain it on shutdown.
func ConnectNats(urls []string, prefix string) (*NatsPublisher, *nats.Conn, error) {
	conn, err := nats.Connect(strings.Join(urls, ","), nats.Name("mycroft-listener"))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to nats: %w", err)
	}

	p, err := NewNatsPublisher(conn, prefix)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return p, conn, nil
}

func (p *NatsPublisher) Subject(event string) string {
	return p.prefix + "." + strings.ReplaceAll(event, ":", ".")
}

func (p *NatsPublisher) Publish(event string, data map[string]any) error {
	payload, err := json.Marshal(NewMessage(event, data))
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}

	return p.conn.Publish(p.Subject(event), payload)
}
