package broker

import "errors"

// Construction errors, raised during order validation before any state
// change. Callers branch with errors.Is; none of these is retried
// automatically.
var (
	// ErrOrderKind flags an unknown order kind.
	ErrOrderKind = errors.New("unknown order kind")

	// ErrOrderUnits flags a non-positive unit count.
	ErrOrderUnits = errors.New("order units must be a positive integer")

	// ErrMarketOrderPrice flags a market order that carries a price.
	ErrMarketOrderPrice = errors.New("market order must not specify a price")

	// ErrLimitOrderPrice flags a limit order without a price, or with a
	// price on the wrong side of the market.
	ErrLimitOrderPrice = errors.New("invalid limit order price")

	// ErrStopOrderPrice flags a stop order without a price, or with a
	// price on the wrong side of the market.
	ErrStopOrderPrice = errors.New("invalid stop order price")

	// ErrStopLossPrice flags a stop-loss on the wrong side of the entry.
	ErrStopLossPrice = errors.New("invalid stop-loss price")

	// ErrTakeProfitPrice flags a take-profit on the wrong side of the entry.
	ErrTakeProfitPrice = errors.New("invalid take-profit price")
)

// Usage and lifecycle errors.
var (
	// ErrOrderNotFound is returned by lookups for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPositionNotFound is returned by lookups for unknown position ids.
	ErrPositionNotFound = errors.New("position not found")

	// ErrOrderExecuted is returned when a price change is requested for an
	// order that already executed.
	ErrOrderExecuted = errors.New("cannot change price of an executed order")

	// ErrHalted is returned for trading calls issued after a margin call
	// ended the run.
	ErrHalted = errors.New("trading halted by margin call")
)
