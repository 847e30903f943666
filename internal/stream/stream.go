// Package stream implements the persistent WebSocket session carrying
// trade and orderbook events (spec.md §4.3), grounded on
// internal/binance/user_data_stream.go's connect/reconnect/keepalive/
// readLoop shape, generalized from a single user-data stream to a
// capacity-bounded multi-symbol market-data stream.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/logging"
)

// EventType distinguishes the two message kinds delivered per symbol.
type EventType string

const (
	EventTrade     EventType = "TRADE"
	EventOrderbook EventType = "ORDERBOOK"
)

// Event is what subscribe callbacks receive.
type Event struct {
	Type    EventType
	Symbol  string
	Payload json.RawMessage
}

// TradePayload is the decoded form of an EventTrade Event.Payload.
type TradePayload struct {
	Price      float64 `json:"price"`
	ChangeRate float64 `json:"change_rate"`
	Volume     int64   `json:"volume"`
}

// Callback receives decoded stream events. It may be called concurrently
// with other components' calls and must be safe to call any public Cache
// method (spec.md §4.3).
type Callback func(Event)

// StreamCap is the broker's hard ceiling on simultaneously active
// streams: two per symbol (trade + orderbook), so 20 symbols max.
const StreamCap = 41

// Client is a persistent, reconnecting, capacity-bounded WebSocket
// session. The zero value is not usable; construct with New.
type Client struct {
	mu sync.RWMutex

	dialURL string
	dial    Dialer

	conn      *websocket.Conn
	running   bool
	healthy   bool
	stopCh    chan struct{}
	reconnect int

	lastKeepalive time.Time
	keepaliveWin  time.Duration

	subs map[string]subscription // key: symbol

	log *logging.Logger
}

type subscription struct {
	cb Callback
}

// Dialer abstracts websocket.DefaultDialer.Dial for testability.
type Dialer interface {
	Dial(url string) (*websocket.Conn, error)
}

type defaultDialer struct{}

func (defaultDialer) Dial(url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

// New builds a Client targeting dialURL. Pass a nil Dialer to use the
// real gorilla/websocket dialer.
func New(dialURL string, dialer Dialer) *Client {
	if dialer == nil {
		dialer = defaultDialer{}
	}
	return &Client{
		dialURL:      dialURL,
		dial:         dialer,
		subs:         make(map[string]subscription),
		keepaliveWin: 30 * time.Second,
		log:          logging.WithComponent("stream"),
	}
}

// Start connects and begins the reconnect/keepalive loops. Idempotent.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	go c.connectLoop(ctx)
}

// Stop tears down the session.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
	if c.conn != nil {
		c.conn.Close()
	}
}

// Subscribe registers cb for symbol's trade and orderbook events.
// Idempotent: re-subscribing the same symbol replaces its callback
// without consuming additional capacity. Returns CAPACITY_EXCEEDED if
// this would exceed StreamCap streams (2 per new symbol).
func (c *Client) Subscribe(ctx context.Context, symbol string, cb Callback) error {
	c.mu.Lock()
	if _, exists := c.subs[symbol]; !exists {
		if (len(c.subs)+1)*2 > StreamCap {
			c.mu.Unlock()
			return apperr.New(apperr.CapacityExceeded, fmt.Sprintf("stream capacity exceeded: %d symbols already subscribed", len(c.subs)))
		}
	}
	c.subs[symbol] = subscription{cb: cb}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.sendSubscribe(conn, symbol); err != nil {
			return apperr.Wrap(apperr.Transport, "subscribe message failed", err)
		}
	}
	return nil
}

// Unsubscribe frees the symbol's two stream slots.
func (c *Client) Unsubscribe(symbol string) {
	c.mu.Lock()
	delete(c.subs, symbol)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = c.sendUnsubscribe(conn, symbol)
	}
}

// IsConnected reports whether a live WebSocket connection exists.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// IsHealthy reports connected AND a keepalive within the health window.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.healthy && time.Since(c.lastKeepalive) < c.keepaliveWin
}

// SubscribedSymbols returns the current symbol set.
func (c *Client) SubscribedSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	return out
}

// UsageRatio returns active streams / StreamCap.
func (c *Client) UsageRatio() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return float64(len(c.subs)*2) / float64(StreamCap)
}

func (c *Client) connectLoop(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		c.mu.RLock()
		running := c.running
		c.mu.RUnlock()
		if !running {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := c.dial.Dial(c.dialURL)
		if err != nil {
			c.log.Warn("dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			c.mu.Lock()
			c.reconnect++
			c.mu.Unlock()
			continue
		}
		backoff = time.Second

		c.mu.Lock()
		c.conn = conn
		c.healthy = false
		c.lastKeepalive = time.Now()
		c.mu.Unlock()

		// Every prior subscription must be re-issued before the
		// session is reported healthy (spec.md §4.3).
		if err := c.resubscribeAll(conn); err != nil {
			c.log.Warn("resubscribe after reconnect failed: %v", err)
			conn.Close()
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		c.healthy = true
		c.mu.Unlock()
		c.log.Info("stream connected")

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.healthy = false
		c.mu.Unlock()

		c.mu.RLock()
		running = c.running
		c.mu.RUnlock()
		if !running {
			return
		}
		c.log.Warn("stream disconnected, reconnecting")
	}
}

func (c *Client) resubscribeAll(conn *websocket.Conn) error {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.subs))
	for s := range c.subs {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()

	for _, s := range symbols {
		if err := c.sendSubscribe(conn, s); err != nil {
			return err
		}
	}
	return nil
}

type wireMessage struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
}

func (c *Client) sendSubscribe(conn *websocket.Conn, symbol string) error {
	return conn.WriteJSON(wireMessage{Op: "subscribe", Symbol: symbol})
}

func (c *Client) sendUnsubscribe(conn *websocket.Conn, symbol string) error {
	return conn.WriteJSON(wireMessage{Op: "unsubscribe", Symbol: symbol})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read error: %v", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

type wireEvent struct {
	Type    string          `json:"type"`
	Symbol  string          `json:"symbol"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Client) handleMessage(message []byte) {
	if string(message) == `{"op":"ping"}` {
		c.mu.Lock()
		c.lastKeepalive = time.Now()
		c.mu.Unlock()
		return
	}

	var w wireEvent
	if err := json.Unmarshal(message, &w); err != nil {
		c.log.Warn("failed to parse stream message: %v", err)
		return
	}

	c.mu.Lock()
	c.lastKeepalive = time.Now()
	sub, ok := c.subs[w.Symbol]
	c.mu.Unlock()
	if !ok {
		return
	}

	ev := Event{Type: EventType(w.Type), Symbol: w.Symbol, Payload: w.Payload}
	if sub.cb != nil {
		go sub.cb(ev)
	}
}
