package push

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arafsarkar/bazarbook/internal/api"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// frame is the wire format of every push event: a name plus an opaque
// payload that only some subscribers inspect.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Channel is the client side of the backend's push connection. It is a pure
// subscriber: it dials, reads frames and dispatches them to handlers
// registered by event name, reconnecting with capped exponential backoff
// when the connection drops.
type Channel struct {
	url    string
	tokens api.TokenSource
	dialer *websocket.Dialer

	mu       sync.RWMutex
	handlers map[string][]func(json.RawMessage)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewChannel(url string, tokens api.TokenSource) *Channel {
	return &Channel{
		url:      url,
		tokens:   tokens,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// Subscribe registers fn for every frame named event. Handlers run on the
// read goroutine and must not block.
func (c *Channel) Subscribe(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// Connect starts the read loop in the background. It returns immediately;
// connection failures are retried until Close or ctx cancellation.
func (c *Channel) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			log.Printf("Push channel dial failed: %v", err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		c.readLoop(ctx, conn)
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, api.ErrNoCredential
	}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	// Unblock the blocking read when the context is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				log.Printf("Push channel read failed, reconnecting: %v", err)
			}
			return
		}
		if f.Event == "" {
			continue
		}
		c.dispatch(f.Event, f.Payload)
	}
}

func (c *Channel) dispatch(event string, payload json.RawMessage) {
	c.mu.RLock()
	handlers := make([]func(json.RawMessage), len(c.handlers[event]))
	copy(handlers, c.handlers[event])
	c.mu.RUnlock()

	for _, fn := range handlers {
		fn(payload)
	}
}

// Close stops the read loop and waits for it to exit.
func (c *Channel) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
