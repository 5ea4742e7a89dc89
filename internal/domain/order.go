package domain

import "time"

// OrderStatus tracks the lifecycle of a resting order as seen across refreshes.
type OrderStatus string

const (
	OrderStatusOpen    OrderStatus = "open"
	OrderStatusUpdated OrderStatus = "updated"
	OrderStatusClosed  OrderStatus = "closed"
)

// OrderState is one tracked resting order for a trader. Orders are keyed by
// OID per address; an order missing from a refresh is reported closed with a
// zero-size synthetic entry.
type OrderState struct {
	OID        int64       `json:"oid"`
	Coin       string      `json:"coin"`
	Side       string      `json:"side"`
	LimitPrice float64     `json:"limit_price"`
	Size       float64     `json:"size"`
	OrigSize   float64     `json:"orig_size"`
	Status     OrderStatus `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
}

// OrderUpdate is the payload of a trader_orders event: the delta computed by
// diffing a refresh against the tracked order set.
type OrderUpdate struct {
	Address string       `json:"address"`
	Orders  []OrderState `json:"orders"`
}
