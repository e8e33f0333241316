package event

import (
	"sync"

	"options_go/internal/domain"
)

// Pools for the two high-frequency event kinds. The sequencer releases
// pooled events after processing; producers must not touch them once sent.
//
// Usage:
//
//	ev := AcquireOrderStatusEvent()
//	ev.Status = status
//	inbox <- ev
var marketUpdatePool = sync.Pool{
	New: func() interface{} {
		return &MarketUpdateEvent{}
	},
}

// AcquireMarketUpdateEvent gets a MarketUpdateEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireMarketUpdateEvent() *MarketUpdateEvent {
	return marketUpdatePool.Get().(*MarketUpdateEvent)
}

// ReleaseMarketUpdateEvent returns a MarketUpdateEvent to the pool.
func ReleaseMarketUpdateEvent(ev *MarketUpdateEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = 0
	ev.Update = domain.MarketUpdate{}

	marketUpdatePool.Put(ev)
}

var orderStatusPool = sync.Pool{
	New: func() interface{} {
		return &OrderStatusEvent{}
	},
}

// AcquireOrderStatusEvent gets an OrderStatusEvent from the pool.
func AcquireOrderStatusEvent() *OrderStatusEvent {
	return orderStatusPool.Get().(*OrderStatusEvent)
}

// ReleaseOrderStatusEvent returns an OrderStatusEvent to the pool.
func ReleaseOrderStatusEvent(ev *OrderStatusEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = 0
	ev.Status = domain.OrderStatus{}

	orderStatusPool.Put(ev)
}

// Release returns ev to its pool if it is a pooled kind.
func Release(ev Event) {
	switch e := ev.(type) {
	case *MarketUpdateEvent:
		ReleaseMarketUpdateEvent(e)
	case *OrderStatusEvent:
		ReleaseOrderStatusEvent(e)
	}
}

// NewOrderStatus builds a stamped pooled status event.
func NewOrderStatus(st domain.OrderStatus) *OrderStatusEvent {
	ev := AcquireOrderStatusEvent()
	ev.Status = st
	ev.Stamp()
	return ev
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	marketEvs := make([]*MarketUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		marketEvs = append(marketEvs, AcquireMarketUpdateEvent())
	}
	for _, ev := range marketEvs {
		ReleaseMarketUpdateEvent(ev)
	}

	orderEvs := make([]*OrderStatusEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		orderEvs = append(orderEvs, AcquireOrderStatusEvent())
	}
	for _, ev := range orderEvs {
		ReleaseOrderStatusEvent(ev)
	}
}
