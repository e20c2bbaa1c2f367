package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/simbroker/events"
	"github.com/rustyeddy/simbroker/feed"
	"github.com/rustyeddy/simbroker/market"
)

func bar(day int, o, h, l, c float64) market.Bar {
	return market.Bar{
		Time:  time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Open:  o,
		High:  h,
		Low:   l,
		Close: c,
	}
}

// newSim wires a bus, a bar feed and an engine the way a backtest run does,
// and advances onto the first bar.
func newSim(t *testing.T, cfg Config, bars ...market.Bar) (*Engine, *feed.BarFeed, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	f := feed.New(bus)
	f.Add("EUR_USD", bars)
	e := NewEngine(cfg, f, bus)
	require.True(t, f.Next(), "feed must have at least one bar")
	return e, f, bus
}

func TestBuyCloseRoundTrip(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 10000, Leverage: 100},
		bar(1, 102, 102, 102, 102),
		bar(2, 108, 108, 108, 108),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Executed, tk.Primary.Status)

	pos := e.Positions()
	require.Len(t, pos, 1)
	assert.Equal(t, 102.0, pos[0].FillPrice)
	assert.Equal(t, 10000.0, e.Balance(), "opening a position must not touch the balance")
	assert.InDelta(t, 10000.0, e.Equity(), 1e-9)

	require.True(t, f.Next())
	assert.InDelta(t, 10600.0, e.Equity(), 1e-9, "100 units up 6 points")

	_, err = e.Close(pos[0].ID, 0)
	require.NoError(t, err)
	assert.Empty(t, e.Positions())
	assert.InDelta(t, 10600.0, e.Balance(), 1e-9)
	assert.InDelta(t, 10600.0, e.Equity(), 1e-9)

	hist := e.PositionHistory()
	require.Len(t, hist, 1)
	assert.InDelta(t, 600.0, hist[0].PnL, 1e-9)
}

func TestCommissionRoundTrip(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 10000, Leverage: 100, Commission: 0.5},
		bar(1, 100, 100, 100, 100),
	)

	_, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)
	_, err = e.Close(e.Positions()[0].ID, 0)
	require.NoError(t, err)

	// Flat price round trip: the account is down exactly two commissions.
	assert.InDelta(t, 9999.0, e.Balance(), 1e-9)
	require.Len(t, e.PositionHistory(), 1)
	assert.InDelta(t, -1.0, e.PositionHistory()[0].PnL, 1e-9)
}

func TestPartialClose(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 10000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 110, 110, 110, 110),
	)

	_, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)
	posID := e.Positions()[0].ID

	require.True(t, f.Next())
	_, err = e.Close(posID, 30)
	require.NoError(t, err)

	require.Len(t, e.Positions(), 1)
	assert.Equal(t, int64(70), e.Positions()[0].Units)
	require.Len(t, e.PositionHistory(), 1)
	assert.Equal(t, int64(30), e.PositionHistory()[0].Units)
	assert.InDelta(t, 10300.0, e.Balance(), 1e-9, "30 units realized 10 points")
	assert.InDelta(t, 11000.0, e.Equity(), 1e-9, "the remainder is still marked up 10 points")
}

func TestNextModeDefersMarketOrders(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 10000, Leverage: 100, ExecMode: ExecNext},
		bar(1, 100, 100, 100, 100),
		bar(2, 105, 105, 105, 105),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Pending, tk.Primary.Status, "next-mode market order waits for the next bar")
	assert.Empty(t, e.Positions())

	require.True(t, f.Next())
	assert.Equal(t, Executed, tk.Primary.Status)
	require.Len(t, e.Positions(), 1)
	assert.Equal(t, 105.0, e.Positions()[0].FillPrice, "deferred order fills at the next bar's price")
}

func TestLimitAndStopTriggers(t *testing.T) {
	cases := []struct {
		name  string
		kind  Kind
		side  Side
		price float64
		miss  market.Bar // does not reach the trigger
		hit   market.Bar // crosses it
	}{
		{"buy limit", LimitOrder, Buy, 98, bar(2, 100, 101, 99, 100), bar(3, 99, 99, 97, 98)},
		{"sell limit", LimitOrder, Sell, 103, bar(2, 100, 102, 99, 101), bar(3, 102, 104, 101, 103)},
		{"buy stop", StopOrder, Buy, 103, bar(2, 100, 102, 99, 101), bar(3, 102, 104, 101, 103)},
		{"sell stop", StopOrder, Sell, 97, bar(2, 100, 101, 98, 100), bar(3, 99, 99, 96, 97)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, f, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
				bar(1, 100, 100, 100, 100), tc.miss, tc.hit)

			var tk *Ticket
			var err error
			if tc.side == Buy {
				tk, err = e.Buy("EUR_USD", tc.kind, 100, fp(tc.price), nil, nil)
			} else {
				tk, err = e.Sell("EUR_USD", tc.kind, 100, fp(tc.price), nil, nil)
			}
			require.NoError(t, err)

			require.True(t, f.Next())
			assert.Equal(t, Pending, tk.Primary.Status, "bar missing the trigger must not fill")

			require.True(t, f.Next())
			assert.Equal(t, Executed, tk.Primary.Status)
			require.Len(t, e.Positions(), 1)
			assert.Equal(t, tc.price, e.Positions()[0].FillPrice, "conditional orders fill at their own price")
		})
	}
}

func TestBracketStopLossOCO(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 99, 100, 94, 95),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, fp(95), fp(110))
	require.NoError(t, err)
	assert.Equal(t, Executed, tk.Primary.Status)
	assert.Equal(t, Pending, tk.StopLeg.Status)
	assert.Equal(t, Pending, tk.LimitLeg.Status)

	require.True(t, f.Next())
	assert.Equal(t, Executed, tk.StopLeg.Status)
	assert.Equal(t, Canceled, tk.LimitLeg.Status, "filling one protective leg cancels the other")
	assert.Empty(t, e.Positions())

	require.Len(t, e.PositionHistory(), 1)
	assert.InDelta(t, -500.0, e.PositionHistory()[0].PnL, 1e-9, "stopped out at 95")
}

func TestBracketTakeProfitOCO(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 105, 111, 104, 110),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, fp(95), fp(110))
	require.NoError(t, err)

	require.True(t, f.Next())
	assert.Equal(t, Executed, tk.LimitLeg.Status)
	assert.Equal(t, Canceled, tk.StopLeg.Status)
	require.Len(t, e.PositionHistory(), 1)
	assert.InDelta(t, 1000.0, e.PositionHistory()[0].PnL, 1e-9, "took profit at 110")
}

func TestBracketBarCrossesBothLegs(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 100, 111, 94, 100),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, fp(95), fp(110))
	require.NoError(t, err)

	require.True(t, f.Next())
	// One bar spanning both triggers resolves against the trader.
	assert.Equal(t, Executed, tk.StopLeg.Status)
	assert.Equal(t, Canceled, tk.LimitLeg.Status)
}

func TestNettingReversal(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
	)

	short, err := e.Sell("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)

	tk, err := e.Buy("EUR_USD", MarketOrder, 200, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, ReverseTicket, tk.Kind)
	assert.Equal(t, Executed, tk.CloseLeg.Status)
	assert.Equal(t, Executed, tk.OpenLeg.Status)

	// The old short is history under its own id; the excess reopened long
	// under the new id.
	require.Len(t, e.PositionHistory(), 1)
	assert.Equal(t, short.ID, e.PositionHistory()[0].ID)
	assert.Equal(t, int64(100), e.PositionHistory()[0].Units)

	require.Len(t, e.Positions(), 1)
	p := e.Positions()[0]
	assert.Equal(t, tk.ID, p.ID)
	assert.Equal(t, Buy, p.Side)
	assert.Equal(t, int64(100), p.Units)
}

func TestNettingSameSideMerges(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
	)

	_, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)
	_, err = e.Buy("EUR_USD", MarketOrder, 50, nil, nil, nil)
	require.NoError(t, err)

	require.Len(t, e.Positions(), 1)
	assert.Equal(t, int64(150), e.Positions()[0].Units)
}

func TestHedgingKeepsBothSides(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 100000, Leverage: 100, Hedging: true},
		bar(1, 100, 100, 100, 100),
	)

	_, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)
	_, err = e.Sell("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)

	assert.Len(t, e.Positions(), 2, "hedging accounts never net")
}

func TestMarginRejection(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 1000, Leverage: 1},
		bar(1, 20, 20, 20, 20),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err, "a rejection is order status, not an error")
	assert.Equal(t, Rejected, tk.Primary.Status)

	assert.Empty(t, e.Positions(), "rejected order must not fill")
	assert.InDelta(t, 1000.0, e.FreeMargin(), 1e-9, "rejection must not consume margin")
	assert.InDelta(t, 1000.0, e.Balance(), 1e-9)
}

func TestPendingOppositeFillRealizesPnL(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 10000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 104, 106, 103, 105),
		bar(3, 97, 98, 94, 96),
	)

	// Both stops rest before either fills; the sell was composed as an OPEN
	// because no position existed yet.
	long, err := e.Buy("EUR_USD", StopOrder, 100, fp(105), nil, nil)
	require.NoError(t, err)
	short, err := e.Sell("EUR_USD", StopOrder, 40, fp(95), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, OpenRequest, short.Primary.Request)

	require.True(t, f.Next())
	assert.Equal(t, Executed, long.Primary.Status)
	assert.Equal(t, Pending, short.Primary.Status)

	// The sell fill nets against the long: 40 units realized at -10 points.
	require.True(t, f.Next())
	assert.Equal(t, Executed, short.Primary.Status)
	require.Len(t, e.PositionHistory(), 1)
	assert.InDelta(t, -400.0, e.PositionHistory()[0].PnL, 1e-9)

	assert.InDelta(t, 9600.0, e.Balance(), 1e-9, "netted open fill must realize into balance")
	assert.InDelta(t, 9060.0, e.Equity(), 1e-9, "60 units remain, down 9 points at the close")
	require.Len(t, e.Positions(), 1)
	assert.Equal(t, int64(60), e.Positions()[0].Units)
}

func TestRejectedBracketSweepsProtection(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 1000, Leverage: 1},
		bar(1, 20, 20, 20, 20),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, fp(15), fp(25))
	require.NoError(t, err)
	assert.Equal(t, Rejected, tk.Primary.Status)

	// A rejected entry leaves nothing to guard: the protective legs must
	// not stay armed against a position that never opened.
	assert.Equal(t, Canceled, tk.StopLeg.Status)
	assert.Equal(t, Canceled, tk.LimitLeg.Status)
	assert.Empty(t, e.table.Pending())
	assert.Empty(t, e.Positions())
}

// accountWatcher records the account view visible to fill listeners.
type accountWatcher struct {
	engine *Engine
	free   []float64
}

func (w *accountWatcher) Update(payload any) {
	if _, ok := payload.(Fill); ok {
		w.free = append(w.free, w.engine.FreeMargin())
	}
}

func TestFillListenerSeesSettledAccount(t *testing.T) {
	e, _, bus := newSim(t, Config{Balance: 10000, Leverage: 1},
		bar(1, 100, 100, 100, 100),
	)

	w := &accountWatcher{engine: e}
	bus.Subscribe(events.Fill, w)

	_, err := e.Buy("EUR_USD", MarketOrder, 60, nil, nil, nil)
	require.NoError(t, err)

	require.Len(t, w.free, 1)
	assert.InDelta(t, 4000.0, w.free[0], 1e-9, "the fill notification carries post-fill margin")
	assert.InDelta(t, 4000.0, e.FreeMargin(), 1e-9)
}

func TestNettingReductionFreesMargin(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 1000, Leverage: 1},
		bar(1, 10, 10, 10, 10),
	)

	_, err := e.Sell("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, e.FreeMargin(), 1e-9)

	// Buying against the short needs no new margin: it reduces exposure.
	tk, err := e.Buy("EUR_USD", MarketOrder, 60, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Executed, tk.Primary.Status)
	assert.Equal(t, int64(40), e.Positions()[0].Units)
}

func TestMarginCallLiquidatesEverything(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 1000, Leverage: 1, StopOut: 0.2},
		bar(1, 10, 10, 10, 10),
		bar(2, 2, 2, 2, 2),
		bar(3, 2, 2, 2, 2),
	)

	_, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)

	// Park a resting order too: liquidation must sweep it.
	resting, err := e.Buy("EUR_USD", LimitOrder, 10, fp(1), nil, nil)
	require.NoError(t, err)

	// Equity collapses to 200 against 1000 used margin: 0.2 hits stop-out.
	require.True(t, f.Next())

	assert.True(t, e.Halted())
	assert.Empty(t, e.Positions(), "all positions force-closed")
	assert.Equal(t, Canceled, resting.Primary.Status, "pending orders canceled on liquidation")
	assert.InDelta(t, 200.0, e.Balance(), 1e-9, "loss realized at the liquidation price")
	assert.False(t, f.ContinueBacktest(), "margin call ends the run")

	require.Len(t, e.PositionHistory(), 1)
	assert.InDelta(t, -800.0, e.PositionHistory()[0].PnL, 1e-9)

	// The halted account refuses further trading.
	_, err = e.Buy("EUR_USD", MarketOrder, 1, nil, nil, nil)
	assert.ErrorIs(t, err, ErrHalted)
	_, err = e.Close(1, 0)
	assert.ErrorIs(t, err, ErrHalted)
}

func TestCancelOrder(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
	)

	tk, err := e.Buy("EUR_USD", LimitOrder, 100, fp(95), nil, nil)
	require.NoError(t, err)

	require.NoError(t, e.CancelOrder(tk.ID))
	assert.Equal(t, Canceled, tk.Primary.Status)
	assert.Empty(t, e.table.Pending())

	assert.ErrorIs(t, e.CancelOrder(999), ErrOrderNotFound)
}

func TestCloseCancelsProtection(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, fp(95), nil)
	require.NoError(t, err)
	require.Equal(t, Pending, tk.StopLeg.Status)

	_, err = e.Close(tk.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, e.Positions())
	assert.Equal(t, Canceled, tk.StopLeg.Status, "closing the position sweeps its protective legs")
	assert.Empty(t, e.table.Pending())
}

func TestModifyPositionProtection(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 99, 100, 96, 97),
	)

	tk, err := e.Buy("EUR_USD", MarketOrder, 100, nil, nil, nil)
	require.NoError(t, err)
	posID := tk.ID

	// Attach a stop to the naked position.
	require.NoError(t, e.ModifyPosition(posID, fp(97), nil))
	pending := e.table.PendingByPosition(posID)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].StopLeg)
	assert.Equal(t, 97.0, *pending[0].StopLeg.Price)

	// Clearing both protections resolves the guard ticket.
	require.NoError(t, e.ModifyPosition(posID, nil, nil))
	assert.Empty(t, e.table.Pending())

	// Re-attach and let it fire.
	require.NoError(t, e.ModifyPosition(posID, fp(97), nil))
	require.True(t, f.Next())
	assert.Empty(t, e.Positions())
	require.Len(t, e.PositionHistory(), 1)
	assert.InDelta(t, -300.0, e.PositionHistory()[0].PnL, 1e-9)
}

func TestModifyOrderReprice(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 99, 99, 96, 97),
	)

	tk, err := e.Buy("EUR_USD", LimitOrder, 100, fp(90), nil, nil)
	require.NoError(t, err)

	require.NoError(t, e.ModifyOrder(tk.ID, Amendment{Price: fp(97)}))
	require.True(t, f.Next())
	assert.Equal(t, Executed, tk.Primary.Status)
	assert.Equal(t, 97.0, e.Positions()[0].FillPrice)
}

func TestSnapshotPerBar(t *testing.T) {
	e, f, _ := newSim(t, Config{Balance: 10000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 101, 101, 101, 101),
		bar(3, 102, 102, 102, 102),
	)

	// Several account updates within one bar collapse into one snapshot.
	_, err := e.Buy("EUR_USD", MarketOrder, 10, nil, nil, nil)
	require.NoError(t, err)
	_, err = e.Buy("EUR_USD", MarketOrder, 10, nil, nil, nil)
	require.NoError(t, err)

	require.True(t, f.Next())
	require.True(t, f.Next())

	hist := e.AccountHistory()
	require.Len(t, hist, 3)
	for i := 1; i < len(hist); i++ {
		assert.True(t, hist[i].Time.After(hist[i-1].Time), "one snapshot per bar, in order")
	}
	assert.InDelta(t, 10040.0, hist[len(hist)-1].Equity, 1e-9, "20 units up 2 points")
}

func TestOrderAndFillEvents(t *testing.T) {
	e, f, bus := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
		bar(2, 99, 99, 94, 95),
	)

	rec := &recorder{}
	bus.Subscribe(events.Order, rec)
	bus.Subscribe(events.Fill, rec)

	// A current-mode market buy fills immediately: one executed-order event
	// and one fill event.
	_, err := e.Buy("EUR_USD", MarketOrder, 100, nil, fp(95), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.orders)
	assert.Equal(t, 1, rec.fills)

	// The stop leg firing adds an order status change and a fill.
	require.True(t, f.Next())
	assert.Equal(t, 2, rec.orders)
	assert.Equal(t, 2, rec.fills)
	require.Len(t, rec.lastFill, 1)
	assert.Equal(t, 95.0, rec.lastFill[0].Price)
	assert.Equal(t, CloseRequest, rec.lastFill[0].Result)
}

type recorder struct {
	orders   int
	fills    int
	lastFill []Fill
}

func (r *recorder) Update(payload any) {
	switch v := payload.(type) {
	case *Order:
		r.orders++
	case Fill:
		r.fills++
		r.lastFill = []Fill{v}
	}
}

func TestOrderRecordsKeepEveryLeg(t *testing.T) {
	e, _, _ := newSim(t, Config{Balance: 100000, Leverage: 100},
		bar(1, 100, 100, 100, 100),
	)

	_, err := e.Buy("EUR_USD", MarketOrder, 100, nil, fp(95), fp(110))
	require.NoError(t, err)
	tk, err := e.Sell("EUR_USD", MarketOrder, 300, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, ReverseTicket, tk.Kind)

	// Entry + two protective legs, then close + reopen legs of the reverse.
	recs := e.OrderRecords()
	assert.Len(t, recs, 5)
	assert.Equal(t, tk.ID, recs[0].ID+1, "ids advance once per create call")
}
