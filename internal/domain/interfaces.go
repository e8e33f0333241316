package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BrokerGateway submits and cancels orders. Results arrive later as OrderStatus events.
type BrokerGateway interface {
	// SubmitOrder returns once the broker has acknowledged the request.
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// MarketDataFeed lists the option expirations available for the underlying.
type MarketDataFeed interface {
	AvailableExpirations(ctx context.Context) ([]string, error)
}

// GatewayConnector is a long-lived connection to the broker side.
type GatewayConnector interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// Journal records orders and fills for the trade history.
type Journal interface {
	RecordOrder(ctx context.Context, o Order) error
	RecordFill(ctx context.Context, f Fill) error
}

// Fill is one executed slice of an order.
type Fill struct {
	OrderID  string
	Contract Contract
	Side     Side
	Role     OrderRole
	Quantity int64
	Price    decimal.Decimal
	At       time.Time
}
