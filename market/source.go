package market

import (
	"errors"
	"time"
)

// ErrNoPrice is returned when a symbol has no bar yet.
var ErrNoPrice = errors.New("no price available")

// DataSource feeds the simulation one bar at a time and owns the
// continue/stop flag that ends a backtest run.
//
// Implementations must hand out bars strictly in chronological order.
type DataSource interface {
	// LatestBars returns at most n of the most recent bars for symbol,
	// oldest first.
	LatestBars(symbol string, n int) []Bar

	// LatestPrice returns the requested field of the symbol's current bar.
	LatestPrice(symbol string, field Field) (float64, error)

	// CurrentTime is the timestamp of the bar being processed.
	CurrentTime() time.Time

	// ContinueBacktest reports whether the driving loop should keep going.
	ContinueBacktest() bool

	// Stop ends the run; set by the broker on a margin call.
	Stop()
}
