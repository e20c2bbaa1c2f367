// Package feed supplies historical bars to the simulation. BarFeed owns the
// backtest clock: each Next call advances one bar and raises a market event,
// which the broker and strategies react to synchronously.
package feed

import (
	"time"

	"github.com/rustyeddy/simbroker/events"
	"github.com/rustyeddy/simbroker/market"
)

// BarFeed is an in-memory DataSource over per-symbol bar series. All series
// must be aligned: bar i of every symbol shares one timestamp.
type BarFeed struct {
	bus     *events.Bus
	symbols []string
	series  map[string][]market.Bar
	length  int
	pos     int
	stopped bool
}

func New(bus *events.Bus) *BarFeed {
	return &BarFeed{
		bus:    bus,
		series: make(map[string][]market.Bar),
	}
}

// Add registers a bar series for symbol. Series are consumed in parallel;
// the run ends when the longest one does.
func (f *BarFeed) Add(symbol string, bars []market.Bar) {
	if _, ok := f.series[symbol]; !ok {
		f.symbols = append(f.symbols, symbol)
	}
	f.series[symbol] = bars
	if len(bars) > f.length {
		f.length = len(bars)
	}
}

// Next ingests the next bar and raises a market event. It returns false
// once the data is exhausted or the run was stopped.
func (f *BarFeed) Next() bool {
	if f.stopped || f.pos >= f.length {
		f.stopped = true
		return false
	}
	f.pos++
	f.bus.Notify(events.Market, nil)
	return true
}

func (f *BarFeed) LatestBars(symbol string, n int) []market.Bar {
	bars := f.series[symbol]
	end := f.pos
	if end > len(bars) {
		end = len(bars)
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return bars[start:end]
}

func (f *BarFeed) LatestPrice(symbol string, field market.Field) (float64, error) {
	bars := f.series[symbol]
	idx := f.pos - 1
	if idx < 0 || idx >= len(bars) {
		return 0, market.ErrNoPrice
	}
	return bars[idx].Price(field), nil
}

func (f *BarFeed) CurrentTime() time.Time {
	for _, sym := range f.symbols {
		bars := f.series[sym]
		if idx := f.pos - 1; idx >= 0 && idx < len(bars) {
			return bars[idx].Time
		}
	}
	return time.Time{}
}

func (f *BarFeed) ContinueBacktest() bool { return !f.stopped }

// Stop ends the run; the next Next call returns false.
func (f *BarFeed) Stop() { f.stopped = true }
