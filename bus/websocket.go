package bus

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultWebsocketURL = "ws://127.0.0.1:8181/core"

	websocketWriteTimeout = 5 * time.Second

	// DefaultDialTimeout bounds the websocket handshake. Publishing runs on the
	// dispatch goroutine, so a bus that is down must not hold it for long.
	DefaultDialTimeout = 3 * time.Second

	// redialInterval is how long publishes fail fast after a failed redial.
	redialInterval = 5 * time.Second
)

// WebsocketPublisher sends messages to a remote message bus service. Writes are
// serialized; a failed write redials once and resends.
type WebsocketPublisher struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	nextDial time.Time
	now      func() time.Time
}

func NewWebsocketPublisher(url string, logger zerolog.Logger) (*WebsocketPublisher, error) {
	if url == "" {
		url = DefaultWebsocketURL
	}

	p := &WebsocketPublisher{
		url:    url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultDialTimeout,
		},
		logger: logger.With().Str("component", "bus-websocket").Logger(),
		now:    time.Now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.dial()
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (p *WebsocketPublisher) dial() error {
	conn, _, err := p.dialer.Dial(p.url, http.Header{})
	if err != nil {
		return fmt.Errorf("dialing message bus %s: %w", p.url, err)
	}

	p.conn = conn

	return nil
}

func (p *WebsocketPublisher) Publish(event string, data map[string]any) error {
	payload, err := json.Marshal(NewMessage(event, data))
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.write(payload)
	if err == nil {
		return nil
	}

	p.logger.Warn().Err(err).Str("event", event).Msg("message bus write failed, reconnecting")

	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}

	if p.now().Before(p.nextDial) {
		return fmt.Errorf("message bus %s unavailable, dropping %s", p.url, event)
	}

	err = p.dial()
	if err != nil {
		p.nextDial = p.now().Add(redialInterval)
		return err
	}

	return p.write(payload)
}

func (p *WebsocketPublisher) write(payload []byte) error {
	if p.conn == nil {
		return fmt.Errorf("not connected")
	}

	err := p.conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
	if err != nil {
		return err
	}

	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *WebsocketPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	err := p.conn.Close()
	p.conn = nil

	return err
}
