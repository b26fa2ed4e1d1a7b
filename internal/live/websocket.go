package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the Gemini Live websocket endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// WebsocketDialer speaks the Live protocol directly over a websocket.
type WebsocketDialer struct {
	Endpoint string
	Dialer   *websocket.Dialer
	Logger   *slog.Logger
}

func NewWebsocketDialer(endpoint string) *WebsocketDialer {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &WebsocketDialer{
		Endpoint: endpoint,
		Dialer:   websocket.DefaultDialer,
		Logger:   slog.Default().With("component", "live-ws"),
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, apiKey string, cfg SessionConfig) (Conn, error) {
	u, err := url.Parse(d.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: parse endpoint: %v", ErrTransport, err)
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := d.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrTransport, err)
	}

	c := &wsConn{
		conn:   conn,
		log:    d.Logger,
		events: make(chan Event, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := c.write(setupMessage(cfg)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := c.awaitSetup(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	d.Logger.Info("live session opened (websocket)", "model", cfg.Model, "voice", cfg.Voice)
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn   *websocket.Conn
	log    *slog.Logger
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
}

// awaitSetup blocks until setupComplete arrives. Cancelling ctx closes the
// socket.
func (c *wsConn) awaitSetup(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()
	for {
		msg, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: await setup: %v", ErrTransport, err)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func (c *wsConn) read() (*serverMessage, error) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.Warn("skipping undecodable frame", "err", err)
			continue
		}
		return &msg, nil
	}
}

func (c *wsConn) write(msg clientMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	return c.write(audioMessage(frame))
}

func (c *wsConn) SendToolResponse(responses ...ToolResponse) error {
	return c.write(toolResponseMessage(responses))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.stop)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		msg, err := c.read()
		if err != nil {
			c.emit(Closed{Err: c.closeErr(err)})
			return
		}
		if msg.GoAway != nil {
			c.log.Warn("server going away", "time_left", msg.GoAway.TimeLeft)
		}
		for _, ev := range msg.events(c.log) {
			if !c.emit(ev) {
				return
			}
		}
	}
}

var errPeerClosed = errors.New("session closed by server")

func (c *wsConn) closeErr(err error) error {
	if c.closing.Load() {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", ErrTransport, errPeerClosed)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func (c *wsConn) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stop:
		return false
	}
}
