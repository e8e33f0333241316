package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"options_go/internal/domain"
	"options_go/internal/event"
)

const (
	maxRetries   = 10
	maxDelay     = 60 * time.Second
	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

// StateRecorder receives connectivity gauges. Optional.
type StateRecorder interface {
	SetConnected(connected bool)
	SetCircuitState(open bool)
}

// Options configures the bridge client.
type Options struct {
	URL            string
	AccountID      string
	RequestTimeout time.Duration
	RateLimit      float64 // outbound messages per second
	ReconnectDelay time.Duration
	Metrics        StateRecorder
}

// Client talks to a broker sidecar over a websocket. It implements the
// broker gateway and the expiration feed, and pushes order status, market
// and connection events into the sequencer inbox.
type Client struct {
	opts    Options
	inbox   chan<- event.Event
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	symbol    string
	pending   map[string]chan message

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a disconnected client. Call Connect to start it.
func NewClient(opts Options, inbox chan<- event.Event) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}

	c := &Client{
		opts:    opts,
		inbox:   inbox,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), int(math.Max(1, opts.RateLimit))),
		pending: make(map[string]chan message),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-bridge",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Broker rejections are answers, not transport failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrBrokerRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if opts.Metrics != nil {
				opts.Metrics.SetCircuitState(to == gobreaker.StateOpen)
			}
		},
	})
	return c
}

// Connect starts the WebSocket connection with automatic reconnection
func (c *Client) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.connectionLoop(ctx)

	return nil
}

// connectionLoop handles connection and reconnection with exponential backoff
func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Bridge panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Bridge connection loop stopped")
			return
		default:
		}

		err := c.connect(ctx)
		if err != nil {
			slog.Warn("Bridge connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)

			delay := c.calculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				slog.Error("Bridge max retries exceeded, resetting counter")
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		// Connection successful, reset retry counter
		retryCount = 0

		// Read messages until error
		c.readLoop(ctx)
	}
}

// calculateBackoff returns the delay for the current retry attempt
func (c *Client) calculateBackoff(retryCount int) time.Duration {
	delay := c.opts.ReconnectDelay * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

// connect establishes the WebSocket connection and resubscribes market data
func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := make(http.Header)
	if c.opts.AccountID != "" {
		header.Set("X-Account-Id", c.opts.AccountID)
	}

	conn, _, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	symbol := c.symbol
	c.mu.Unlock()

	if symbol != "" {
		if err := c.send(ctx, request{ID: uuid.NewString(), Op: opSubscribe, Symbol: symbol}); err != nil {
			c.closeConnection("subscribe failed")
			return fmt.Errorf("subscribe failed: %w", err)
		}
	}

	if c.opts.Metrics != nil {
		c.opts.Metrics.SetConnected(true)
	}
	c.publish(ctx, &event.ConnectionEvent{Connected: true})
	slog.Info("🔌 Bridge WebSocket connected", slog.String("url", c.opts.URL), slog.String("symbol", symbol))
	return nil
}

// readLoop reads messages until the connection fails
func (c *Client) readLoop(ctx context.Context) {
	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(pingDone)

	for {
		select {
		case <-ctx.Done():
			c.closeConnection("shutdown")
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Bridge WebSocket read error", slog.Any("error", err))
			}
			c.closeConnection(err.Error())
			c.publish(ctx, &event.ConnectionEvent{Connected: false, Reason: err.Error()})
			return
		}

		c.handleMessage(ctx, data)
	}
}

func (c *Client) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn != nil {
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
			c.writeMu.Unlock()
		}
	}
}

// handleMessage routes one inbound frame
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("Bridge message parse error", slog.Any("error", err))
		return
	}

	switch msg.Type {
	case msgAck:
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case msgOrderStatus:
		if msg.Status == nil {
			return
		}
		c.publish(ctx, event.NewOrderStatus(msg.Status.toDomain()))
	case msgMarket:
		if msg.Update == nil {
			return
		}
		ev := event.AcquireMarketUpdateEvent()
		ev.Update = *msg.Update
		ev.Stamp()
		// Quotes are superseded by the next tick; drop when the sequencer is behind.
		select {
		case c.inbox <- ev:
		default:
			event.ReleaseMarketUpdateEvent(ev)
			slog.Warn("Sequencer inbox full, dropping market update")
		}
	case msgExpirations:
		ev := &event.ExpirationsEvent{Symbol: msg.Symbol, Expirations: msg.Expirations}
		ev.Stamp()
		c.publish(ctx, ev)
	}
}

// publish delivers an event that must not be dropped.
func (c *Client) publish(ctx context.Context, ev event.Event) {
	if c.inbox == nil {
		return
	}
	select {
	case c.inbox <- ev:
	case <-ctx.Done():
	}
}

// send writes one request, paced by the rate limiter
func (c *Client) send(ctx context.Context, req request) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.New("connection is nil")
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// call sends req and waits for its ack. Transport failures are returned as
// unreachable errors and trip the circuit breaker.
func (c *Client) call(ctx context.Context, req request) (message, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		if !c.IsConnected() {
			return nil, domain.NewUnreachableError(req.Op, req.OrderID, nil)
		}

		req.ID = uuid.NewString()
		ch := make(chan message, 1)
		c.mu.Lock()
		c.pending[req.ID] = ch
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.pending, req.ID)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()

		if err := c.send(ctx, req); err != nil {
			return nil, domain.NewUnreachableError(req.Op, req.OrderID, err)
		}

		select {
		case msg, ok := <-ch:
			if !ok {
				return nil, domain.NewUnreachableError(req.Op, req.OrderID, errors.New("connection closed"))
			}
			if msg.Error != "" {
				return nil, domain.NewRejectedError(req.Op, req.OrderID, msg.Error)
			}
			return msg, nil
		case <-ctx.Done():
			return nil, domain.NewUnreachableError(req.Op, req.OrderID, ctx.Err())
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return message{}, domain.NewUnreachableError(req.Op, req.OrderID, err)
		}
		return message{}, err
	}
	return res.(message), nil
}

// SubmitOrder sends an order and returns the broker's order id.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	ack, err := c.call(ctx, request{Op: opSubmit, Account: c.opts.AccountID, Order: newOrderPayload(req)})
	if err != nil {
		return "", err
	}
	if ack.OrderID == "" {
		return "", domain.NewRejectedError(opSubmit, "", "ack without order id")
	}
	return ack.OrderID, nil
}

// CancelOrder requests a cancel. Confirmation arrives as an order status event.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.call(ctx, request{Op: opCancel, Account: c.opts.AccountID, OrderID: orderID})
	return err
}

// AvailableExpirations lists the expirations of the subscribed underlying.
func (c *Client) AvailableExpirations(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	symbol := c.symbol
	c.mu.RUnlock()
	if symbol == "" {
		return nil, fmt.Errorf("%w: no underlying subscribed", domain.ErrNoExpirationAvailable)
	}

	ack, err := c.call(ctx, request{Op: opExpirations, Symbol: symbol})
	if err != nil {
		return nil, err
	}
	return ack.Expirations, nil
}

// Subscribe switches the market data subscription to symbol.
func (c *Client) Subscribe(ctx context.Context, symbol string) error {
	c.mu.Lock()
	if c.symbol == symbol {
		c.mu.Unlock()
		return nil
	}
	c.symbol = symbol
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil // sent on connect
	}
	_, err := c.call(ctx, request{Op: opSubscribe, Symbol: symbol})
	return err
}

// closeConnection closes the socket and fails every waiting call
func (c *Client) closeConnection(reason string) {
	c.mu.Lock()
	wasConnected := c.connected
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if wasConnected {
		if c.opts.Metrics != nil {
			c.opts.Metrics.SetConnected(false)
		}
		slog.Warn("Bridge WebSocket closed", slog.String("reason", reason))
	}
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConnection("disconnect")
	c.wg.Wait()
	slog.Info("Bridge WebSocket disconnected")
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
