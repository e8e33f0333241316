package execution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
)

// ChaseLimitPrice is mid(bid, ask) - delta. The price is not tick-rounded.
func ChaseLimitPrice(q domain.Quote, delta decimal.Decimal) (decimal.Decimal, error) {
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: bid %s ask %s", domain.ErrMarketDataUnavailable, q.Bid, q.Ask)
	}
	price := q.Mid().Sub(delta)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: chase price %s", domain.ErrInvalidSizing, price)
	}
	return price, nil
}

// ChaseTicket is the state of one chased exit.
type ChaseTicket struct {
	OrderID   string
	Contract  domain.Contract
	Role      domain.OrderRole
	Remaining int64
	StartedAt time.Time
}

type chaseEntry struct {
	ticket ChaseTicket
	timer  *time.Timer
}

// ExpireFunc converts an expired ticket. It runs inside the guard.
type ExpireFunc func(t ChaseTicket)

// ChaseExecutor runs one cancellable timer per chased limit order. When a
// timer fires with contracts still open the ticket is handed to the expire
// callback exactly once.
type ChaseExecutor struct {
	mu      sync.Mutex
	tickets map[string]*chaseEntry
	timeout time.Duration

	guard    func(fn func())
	onExpire ExpireFunc
}

// NewChaseExecutor creates an executor. guard wraps every expiry so the
// callback runs under the caller's locks; nil runs it directly.
func NewChaseExecutor(timeout time.Duration, guard func(fn func()), onExpire ExpireFunc) *ChaseExecutor {
	if timeout <= 0 {
		timeout = domain.DefaultChaseTimeout
	}
	if guard == nil {
		guard = func(fn func()) { fn() }
	}
	return &ChaseExecutor{
		tickets:  make(map[string]*chaseEntry),
		timeout:  timeout,
		guard:    guard,
		onExpire: onExpire,
	}
}

// SetTimeout changes the wait for tickets started afterwards.
func (c *ChaseExecutor) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Start begins chasing an acknowledged limit order.
func (c *ChaseExecutor) Start(t ChaseTicket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.tickets[t.OrderID]; ok {
		old.timer.Stop()
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	id := t.OrderID
	entry := &chaseEntry{ticket: t}
	entry.timer = time.AfterFunc(c.timeout, func() { c.fire(id) })
	c.tickets[id] = entry
}

func (c *ChaseExecutor) fire(id string) {
	c.guard(func() {
		c.mu.Lock()
		entry, ok := c.tickets[id]
		if ok {
			delete(c.tickets, id)
		}
		c.mu.Unlock()

		if !ok || entry.ticket.Remaining <= 0 || c.onExpire == nil {
			return
		}
		c.onExpire(entry.ticket)
	})
}

// Update records a fill on a chased order. A fully filled order stops its timer.
func (c *ChaseExecutor) Update(orderID string, remaining int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tickets[orderID]
	if !ok {
		return
	}
	entry.ticket.Remaining = remaining
	if remaining <= 0 {
		entry.timer.Stop()
		delete(c.tickets, orderID)
	}
}

// Stop cancels the timer for orderID, e.g. when the order is cancelled or rejected.
func (c *ChaseExecutor) Stop(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tickets[orderID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(c.tickets, orderID)
	return true
}

// StopAll cancels every timer without converting and returns the dropped tickets.
func (c *ChaseExecutor) StopAll() []ChaseTicket {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ChaseTicket, 0, len(c.tickets))
	for id, entry := range c.tickets {
		entry.timer.Stop()
		out = append(out, entry.ticket)
		delete(c.tickets, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Active reports whether orderID is being chased.
func (c *ChaseExecutor) Active(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tickets[orderID]
	return ok
}

// Tickets returns copies of the running tickets.
func (c *ChaseExecutor) Tickets() []ChaseTicket {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ChaseTicket, 0, len(c.tickets))
	for _, entry := range c.tickets {
		out = append(out, entry.ticket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}
