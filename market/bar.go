package market

import "time"

// Field selects which price of a bar an operation reads.
type Field string

const (
	Open  Field = "open"
	High  Field = "high"
	Low   Field = "low"
	Close Field = "close"
)

// Bar represents OHLC (Open, High, Low, Close) candlestick data.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Price returns the bar price named by f. Unknown fields read the close.
func (b Bar) Price(f Field) float64 {
	switch f {
	case Open:
		return b.Open
	case High:
		return b.High
	case Low:
		return b.Low
	default:
		return b.Close
	}
}
