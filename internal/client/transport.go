package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"canvas-backend/internal/protocol"
)

var ErrNotConnected = errors.New("transport is not connected")

// EventSender emits realtime events toward the server. Satisfied by
// *Transport; the reconciliation engine depends only on this.
type EventSender interface {
	Send(eventType string, payload any) error
}

// Transport owns one realtime connection for one active board view. It
// reconnects automatically with exponential backoff up to a retry budget;
// after the budget is exhausted the connection-lost callback fires and the
// client degrades to local-only editing.
type Transport struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn

	onEvent     func(protocol.Envelope)
	onReconnect func()
	onLost      func(error)

	maxRetries   uint64
	baseBackoff  time.Duration
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// TransportOptions tune reconnect behavior.
type TransportOptions struct {
	MaxRetries  uint64 // reconnect attempts before giving up
	BaseBackoff time.Duration
}

// NewTransport creates a transport for the given websocket URL.
// onEvent receives every server event; onReconnect fires after a successful
// reconnect (the caller re-joins its board there); onLost fires once the
// retry budget is exhausted. Callbacks may be nil.
func NewTransport(url string, onEvent func(protocol.Envelope), onReconnect func(), onLost func(error), opts *TransportOptions) *Transport {
	maxRetries := uint64(5)
	baseBackoff := 500 * time.Millisecond
	if opts != nil {
		if opts.MaxRetries > 0 {
			maxRetries = opts.MaxRetries
		}
		if opts.BaseBackoff > 0 {
			baseBackoff = opts.BaseBackoff
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		url:          url,
		onEvent:      onEvent,
		onReconnect:  onReconnect,
		onLost:       onLost,
		maxRetries:   maxRetries,
		baseBackoff:  baseBackoff,
		writeTimeout: 5 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Connect dials the server and starts the read pump.
func (t *Transport) Connect() error {
	conn, _, err := websocket.DefaultDialer.DialContext(t.ctx, t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readPump(conn)

	log.Printf("[Transport] Connected to %s", t.url)
	return nil
}

// Send marshals the event into an envelope and writes it. Fire and forget:
// there are no acks on this channel.
func (t *Transport) Send(eventType string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}

	env := protocol.NewEnvelope(eventType, payload)
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump delivers incoming events until the connection drops, then hands
// off to the reconnect loop.
func (t *Transport) readPump(conn *websocket.Conn) {
	defer t.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			log.Printf("[Transport] Connection dropped: %v", err)
			t.reconnect()
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[Transport] Discarding malformed event: %v", err)
			continue
		}

		if t.onEvent != nil {
			t.onEvent(env)
		}
	}
}

// reconnect retries the dial with capped exponential backoff. On success the
// server sends a fresh board-state snapshot after the client re-joins; that
// snapshot is authoritative.
func (t *Transport) reconnect() {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	backoff := retry.WithMaxRetries(t.maxRetries, retry.NewExponential(t.baseBackoff))

	err := retry.Do(t.ctx, backoff, func(ctx context.Context) error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
		if err != nil {
			log.Printf("[Transport] Reconnect attempt failed: %v", err)
			return retry.RetryableError(err)
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		t.wg.Add(1)
		go t.readPump(conn)
		return nil
	})

	if err != nil {
		// Close() cancels the context mid-loop; that is a shutdown, not a
		// lost connection.
		if t.ctx.Err() != nil {
			return
		}
		log.Printf("[Transport] Connection lost after retry budget: %v", err)
		if t.onLost != nil {
			t.onLost(err)
		}
		return
	}

	log.Printf("[Transport] Reconnected to %s", t.url)
	if t.onReconnect != nil {
		t.onReconnect()
	}
}

// Close tears down the connection and stops reconnecting.
func (t *Transport) Close() error {
	t.cancel()

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	t.wg.Wait()
	return err
}
