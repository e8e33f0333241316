package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"options_go/internal/domain"
	"options_go/internal/event"
)

type paperOrder struct {
	id     string
	req    domain.OrderRequest
	filled int64
	open   bool
}

// PaperBroker simulates the broker in memory. Market orders fill at the
// touch, limit and stop orders rest until the quote crosses them. Status
// events are queued and delivered by Run so SubmitOrder never blocks on
// the consumer.
type PaperBroker struct {
	mu        sync.Mutex
	orders    map[string]*paperOrder
	quotes    map[domain.OptionRight]domain.Quote
	fills     []domain.Fill
	connected bool

	queue  []event.Event
	notify chan struct{}
}

// NewPaperBroker creates a connected paper broker.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		orders:    make(map[string]*paperOrder),
		quotes:    make(map[domain.OptionRight]domain.Quote),
		connected: true,
		notify:    make(chan struct{}, 1),
	}
}

// Run forwards queued events to out until ctx is done.
func (p *PaperBroker) Run(ctx context.Context, out chan<- event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		}

		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, ev := range batch {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *PaperBroker) emit(ev event.Event) {
	p.queue = append(p.queue, ev)
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *PaperBroker) emitStatus(o *paperOrder, status domain.BrokerStatus, price decimal.Decimal) {
	p.emit(event.NewOrderStatus(domain.OrderStatus{
		OrderID:      o.id,
		Status:       status,
		FilledQty:    o.filled,
		RemainingQty: o.req.Quantity - o.filled,
		FillPrice:    price,
	}))
}

// Connect marks the paper session connected.
func (p *PaperBroker) Connect(ctx context.Context) error {
	p.SetConnected(true)
	return nil
}

// Disconnect marks the paper session disconnected.
func (p *PaperBroker) Disconnect() {
	p.SetConnected(false)
}

// IsConnected reports the simulated connection state.
func (p *PaperBroker) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// SetConnected flips the simulated connection and emits a ConnectionEvent.
func (p *PaperBroker) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected == connected {
		return
	}
	p.connected = connected
	ev := &event.ConnectionEvent{Connected: connected, Reason: "paper"}
	ev.Stamp()
	p.emit(ev)
}

// SubmitOrder acknowledges the order and fills it if it is marketable.
func (p *PaperBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewUnreachableError("submit", "", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return "", domain.NewUnreachableError("submit", "", nil)
	}
	if req.Quantity <= 0 {
		return "", domain.NewRejectedError("submit", "", fmt.Sprintf("quantity %d", req.Quantity))
	}

	o := &paperOrder{id: uuid.New().String(), req: req, open: true}
	p.orders[o.id] = o
	p.emitStatus(o, domain.StatusSubmitted, decimal.Zero)

	if req.Kind == domain.OrderKindMarket {
		q := p.quotes[req.Contract.Right]
		price := touch(q, req.Side)
		if !price.IsPositive() {
			o.open = false
			p.emitStatus(o, domain.StatusRejected, decimal.Zero)
			slog.Warn("Paper market order rejected: no quote", slog.String("order_id", o.id))
			return o.id, nil
		}
		p.fill(o, price)
		return o.id, nil
	}

	p.match(o)
	return o.id, nil
}

// CancelOrder cancels a resting order.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return domain.NewUnreachableError("cancel", orderID, nil)
	}
	o, ok := p.orders[orderID]
	if !ok || !o.open {
		return domain.NewRejectedError("cancel", orderID, "order not open")
	}
	o.open = false
	p.emitStatus(o, domain.StatusCancelled, decimal.Zero)
	return nil
}

// UpdateQuote records the latest quote for a right and fills crossed orders.
func (p *PaperBroker) UpdateQuote(right domain.OptionRight, q domain.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.quotes[right] = q
	for _, o := range p.resting(right) {
		p.match(o)
	}
}

// OnSnapshot feeds both quotes of a market snapshot.
func (p *PaperBroker) OnSnapshot(s domain.MarketSnapshot) {
	p.UpdateQuote(domain.RightCall, s.Call)
	p.UpdateQuote(domain.RightPut, s.Put)
}

// Fills returns a copy of every simulated execution.
func (p *PaperBroker) Fills() []domain.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Fill(nil), p.fills...)
}

// OpenOrders returns the ids of resting orders.
func (p *PaperBroker) OpenOrders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []string
	for id, o := range p.orders {
		if o.open {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (p *PaperBroker) resting(right domain.OptionRight) []*paperOrder {
	var out []*paperOrder
	for _, o := range p.orders {
		if o.open && o.req.Contract.Right == right {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// match fills o if the current quote crosses it.
func (p *PaperBroker) match(o *paperOrder) {
	if !o.open {
		return
	}
	q := p.quotes[o.req.Contract.Right]
	switch o.req.Kind {
	case domain.OrderKindLimit:
		if o.req.Side == domain.SideBuy && q.Ask.IsPositive() && q.Ask.LessThanOrEqual(o.req.LimitPrice) {
			p.fill(o, o.req.LimitPrice)
		}
		if o.req.Side == domain.SideSell && q.Bid.IsPositive() && q.Bid.GreaterThanOrEqual(o.req.LimitPrice) {
			p.fill(o, o.req.LimitPrice)
		}
	case domain.OrderKindStop:
		if o.req.Side == domain.SideSell && q.Bid.IsPositive() && q.Bid.LessThanOrEqual(o.req.StopPrice) {
			p.fill(o, q.Bid)
		}
		if o.req.Side == domain.SideBuy && q.Ask.IsPositive() && q.Ask.GreaterThanOrEqual(o.req.StopPrice) {
			p.fill(o, q.Ask)
		}
	}
}

func (p *PaperBroker) fill(o *paperOrder, price decimal.Decimal) {
	qty := o.req.Quantity - o.filled
	o.filled = o.req.Quantity
	o.open = false
	p.fills = append(p.fills, domain.Fill{
		OrderID:  o.id,
		Contract: o.req.Contract,
		Side:     o.req.Side,
		Quantity: qty,
		Price:    price,
		At:       time.Now(),
	})
	p.emitStatus(o, domain.StatusFilled, price)

	if o.req.OCAGroup == "" {
		return
	}
	for _, other := range p.orders {
		if other.open && other.req.OCAGroup == o.req.OCAGroup {
			other.open = false
			p.emitStatus(other, domain.StatusCancelled, decimal.Zero)
		}
	}
}

// touch is the price a marketable order executes at.
func touch(q domain.Quote, side domain.Side) decimal.Decimal {
	if side == domain.SideBuy {
		if q.Ask.IsPositive() {
			return q.Ask
		}
	} else if q.Bid.IsPositive() {
		return q.Bid
	}
	return q.Last
}
