// Package journal persists the exported history of a backtest run: the
// balance/equity time series, the closed-position records and the order
// records. Analytics tooling consumes these tables; the engine itself never
// reads them back.
package journal

import "time"

// EquityRecord is one row of the balance/equity time series.
type EquityRecord struct {
	Time    time.Time
	Balance float64
	Equity  float64
}

// PositionRecord is one closed position (or closed slice of one).
type PositionRecord struct {
	ID         int64
	Symbol     string
	Side       string
	Units      int64
	OpenPrice  float64
	ClosePrice float64
	Commission float64
	PnL        float64
	OpenTime   time.Time
	CloseTime  time.Time
}

// OrderRecord is one order leg as it was created.
type OrderRecord struct {
	Time       time.Time
	Symbol     string
	Kind       string
	Units      int64
	Side       string
	Status     string
	OrderID    int64
	PositionID int64
}

// Run holds the metadata of one backtest run.
type Run struct {
	RunID        string
	Created      time.Time
	Strategy     string
	Symbol       string
	Start        time.Time
	End          time.Time
	StartBalance float64
	EndBalance   float64
	Trades       int
	Wins         int
	Losses       int
}

type Journal interface {
	RecordRun(Run) error
	RecordEquity(EquityRecord) error
	RecordPosition(PositionRecord) error
	RecordOrder(OrderRecord) error
	Close() error
}
