package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	outboxSize  = 256
	maxReadSize = 1 << 20
)

var ErrStopped = errors.New("signaling client stopped")

type Config struct {
	URL        string
	Header     http.Header
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client is the signaling channel to the messaging backend. It keeps one
// websocket open, reconnecting with exponential backoff, and implements
// port.Signaling. Messages sent while disconnected wait in the outbox.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	hub    *Hub
	outbox chan []byte
	quit   chan struct{}
	done   chan struct{}

	running  atomic.Bool
	stopOnce sync.Once
}

func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		hub:    NewHub(),
		outbox: make(chan []byte, outboxSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.hub.Run()
	return c
}

func (c *Client) Send(ctx context.Context, event string, payload any) error {
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrStopped
	}
}

func (c *Client) Subscribe() (<-chan domain.Envelope, func()) {
	return c.hub.Subscribe()
}

// Run connects and serves until ctx is done or Stop is called.
func (c *Client) Run(ctx context.Context) {
	c.running.Store(true)
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		conn, err := c.connect(ctx)
		if err != nil {
			return
		}
		log.Info().Str("url", c.cfg.URL).Msg("Signaling connected")
		c.serve(ctx, conn)
		log.Warn().Str("url", c.cfg.URL).Msg("Signaling disconnected")
	}
}

// Stop ends Run and closes every subscription.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		if c.running.Load() {
			<-c.done
		}
		c.hub.Stop()
	})
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.MinBackoff > 0 {
		b.InitialInterval = c.cfg.MinBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		b.MaxInterval = c.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, _, err = c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Str("url", c.cfg.URL).Msg("Signaling dial failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// serve pumps one connection until either direction fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		c.readPump(conn)
	}()
	c.writePump(ctx, conn, connDone)
	conn.Close()
	<-connDone
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxReadSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("Unexpected signaling close")
			}
			return
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("Malformed signaling message")
			continue
		}
		c.hub.Broadcast(env)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-connDone:
			return
		case data := <-c.outbox:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Msg("Error writing signaling message")
				// The message is lost with the connection; the engine's
				// timers cover the missing reply.
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
