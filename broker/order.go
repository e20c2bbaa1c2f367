package broker

import "time"

// Kind is the order trigger discipline.
type Kind string

const (
	MarketOrder Kind = "market"
	LimitOrder  Kind = "limit"
	StopOrder   Kind = "stop"
)

// Side is the trade direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Sign maps the side onto PnL math: +1 for longs, -1 for shorts.
func (s Side) Sign() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Status is the order lifecycle state. Pending is the only non-terminal
// state; an order never leaves Executed, Rejected or Canceled.
type Status string

const (
	Pending  Status = "pending"
	Executed Status = "executed"
	Rejected Status = "rejected"
	Canceled Status = "canceled"
)

// Request tells the ledger whether a fill opens exposure or closes it.
type Request string

const (
	OpenRequest  Request = "open"
	CloseRequest Request = "close"
)

// Order is a single executable leg. Legs minted by one create call share one
// id; the id counter advances exactly once per call regardless of how many
// legs the composite carries.
//
// PositionID defaults to the order's own id, meaning "opens a new position".
// A close order references the position it reduces instead.
type Order struct {
	ID         int64
	PositionID int64
	Time       time.Time
	Symbol     string
	Kind       Kind
	Side       Side
	Units      int64
	Price      *float64
	StopLoss   *float64
	TakeProfit *float64
	Status     Status
	Request    Request
}

// Fill is the immutable record of an executed order.
type Fill struct {
	Time       time.Time
	Symbol     string
	Units      int64
	Side       Side
	Price      float64
	Commission float64
	Result     Request
	OrderID    int64
	PositionID int64
}
