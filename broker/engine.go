package broker

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/simbroker/events"
	"github.com/rustyeddy/simbroker/market"
)

// ExecMode selects when market orders fill.
type ExecMode string

const (
	// ExecCurrent fills market orders against the bar being processed.
	ExecCurrent ExecMode = "current"

	// ExecNext parks market orders pending and fills them against the
	// next bar.
	ExecNext ExecMode = "next"
)

// Config holds the account and execution parameters of one simulated broker.
type Config struct {
	AccountID  string
	Balance    float64
	Leverage   float64
	StopOut    float64 // equity/used-margin ratio that triggers liquidation
	Hedging    bool
	Commission float64 // flat amount charged per fill
	PriceField market.Field
	ExecMode   ExecMode
}

// Snapshot is one row of the balance/equity time series.
type Snapshot struct {
	Time    time.Time
	Balance float64
	Equity  float64
}

// Account is the mark-to-market view of the simulated account.
type Account struct {
	ID         string
	Balance    float64
	Equity     float64
	UsedMargin float64
	FreeMargin float64
}

// Engine turns strategy intent into validated orders, orders into fills, and
// fills into a consistent account and position ledger. It owns all mutable
// order/position/account state; collaborators reach it only through the
// trading API and the event bus.
//
// The engine subscribes itself to market events at construction, so it is
// always notified before strategies built afterwards: pending orders fill
// before strategy logic runs on each bar.
type Engine struct {
	cfg   Config
	data  market.DataSource
	bus   *events.Bus
	table *Table
	book  Ledger

	balance    float64
	equity     float64
	freeMargin float64
	history    []Snapshot
	halted     bool
}

func NewEngine(cfg Config, data market.DataSource, bus *events.Bus) *Engine {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.PriceField == "" {
		cfg.PriceField = market.Close
	}
	if cfg.ExecMode == "" {
		cfg.ExecMode = ExecCurrent
	}

	var book Ledger
	if cfg.Hedging {
		book = NewHedgeLedger()
	} else {
		book = NewNetLedger()
	}

	e := &Engine{
		cfg:        cfg,
		data:       data,
		bus:        bus,
		table:      NewTable(cfg.Hedging),
		book:       book,
		balance:    cfg.Balance,
		equity:     cfg.Balance,
		freeMargin: cfg.Balance,
	}
	bus.Subscribe(events.Market, e)
	return e
}

// Update reacts to market events: fill whatever pending orders the new bar
// triggers, then mark the account to market.
func (e *Engine) Update(payload any) {
	_ = payload // nil and bar payloads are handled alike
	if e.halted {
		return
	}
	e.processPending()
	e.updateAccount(nil)
}

// Buy submits a buy order. A nil price is required for market orders and
// mandatory for limit/stop orders; sl/tp attach protective legs.
func (e *Engine) Buy(symbol string, kind Kind, units int64, price, sl, tp *float64) (*Ticket, error) {
	return e.submit(symbol, kind, Buy, units, price, sl, tp, 0)
}

// Sell submits a sell order; see Buy.
func (e *Engine) Sell(symbol string, kind Kind, units int64, price, sl, tp *float64) (*Ticket, error) {
	return e.submit(symbol, kind, Sell, units, price, sl, tp, 0)
}

// Close issues an opposite-side market order against the position for the
// requested units (full size when units <= 0), canceling any still-pending
// order registered against the position first.
func (e *Engine) Close(positionID int64, units int64) (*Ticket, error) {
	if e.halted {
		return nil, ErrHalted
	}
	p, ok := e.book.Position(positionID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrPositionNotFound, positionID)
	}
	if units <= 0 || units > p.Units {
		units = p.Units
	}

	for _, t := range e.table.PendingByPosition(positionID) {
		e.cancelTicket(t)
	}

	return e.submit(p.Symbol, MarketOrder, p.Side.Opposite(), units, nil, nil, nil, positionID)
}

func (e *Engine) submit(symbol string, kind Kind, side Side, units int64, price, sl, tp *float64, positionID int64) (*Ticket, error) {
	if e.halted {
		return nil, ErrHalted
	}
	quote, err := e.data.LatestPrice(symbol, e.cfg.PriceField)
	if err != nil {
		return nil, err
	}

	var existing *Position
	if !e.cfg.Hedging && positionID == 0 {
		if ps := e.book.Symbol(symbol); len(ps) > 0 {
			existing = ps[0]
		}
	}

	t, err := e.table.Create(CreateRequest{
		Time:       e.data.CurrentTime(),
		Symbol:     symbol,
		Kind:       kind,
		Side:       side,
		Units:      units,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		PositionID: positionID,
		Quote:      quote,
		Existing:   existing,
	})
	if err != nil {
		return nil, err
	}

	if kind == MarketOrder && e.cfg.ExecMode == ExecCurrent {
		e.executeEntry(t, quote)
		if entry := t.entry(); entry != nil && entry.Status != Executed {
			// Rejected entry: the protective legs have nothing to guard.
			e.cancelTicket(t)
			return t, nil
		}
		if t.resolved() {
			e.table.Unregister(t.ID)
		} else {
			e.table.Register(t)
		}
		return t, nil
	}

	e.table.Register(t)
	e.notifyOrder(e.leadLeg(t))
	return t, nil
}

// CancelOrder cancels every still-pending leg of the order and removes it
// from the pending registry.
func (e *Engine) CancelOrder(id int64) error {
	t, ok := e.table.Ticket(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	e.cancelTicket(t)
	return nil
}

// ModifyOrder amends a registered order; see Table.Modify for the rules.
func (e *Engine) ModifyOrder(id int64, am Amendment) error {
	t, ok := e.table.Ticket(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	quote, err := e.data.LatestPrice(symbolOf(t), e.cfg.PriceField)
	if err != nil {
		return err
	}
	if _, err := e.table.Modify(id, am, quote); err != nil {
		return err
	}
	e.notifyOrder(e.leadLeg(t))
	return nil
}

// ModifyPosition replaces the protective prices guarding an open position.
// A nil sl or tp removes that protection; when no pending order guards the
// position yet, a protective-only cover/bracket is created for it.
func (e *Engine) ModifyPosition(positionID int64, sl, tp *float64) error {
	if e.halted {
		return ErrHalted
	}
	p, ok := e.book.Position(positionID)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrPositionNotFound, positionID)
	}
	quote, err := e.data.LatestPrice(p.Symbol, e.cfg.PriceField)
	if err != nil {
		return err
	}

	for _, t := range e.table.PendingByPosition(positionID) {
		if t.StopLeg == nil && t.LimitLeg == nil {
			continue
		}
		am := Amendment{
			StopLoss:        sl,
			TakeProfit:      tp,
			ClearStopLoss:   sl == nil,
			ClearTakeProfit: tp == nil,
		}
		if _, err := e.table.Modify(t.ID, am, quote); err != nil {
			return err
		}
		e.notifyOrder(e.leadLeg(t))
		return nil
	}

	t, err := e.table.CreateProtection(p, sl, tp, quote, e.data.CurrentTime())
	if err != nil || t == nil {
		return err
	}
	e.table.Register(t)
	e.notifyOrder(e.leadLeg(t))
	return nil
}

// leadLeg is the leg a ticket is reported by in order events.
func (e *Engine) leadLeg(t *Ticket) *Order {
	for _, o := range t.Legs() {
		return o
	}
	return nil
}

func (e *Engine) cancelTicket(t *Ticket) {
	canceled := make([]*Order, 0, 4)
	for _, o := range t.Legs() {
		if o.Status == Pending {
			canceled = append(canceled, o)
		}
	}
	if _, err := e.table.Cancel(t.ID); err != nil {
		return
	}
	for _, o := range canceled {
		e.notifyOrder(o)
	}
}

// processPending walks the pending registry in registration order and fills
// whatever the current bar triggers.
func (e *Engine) processPending() {
	for _, t := range e.table.Pending() {
		if e.halted {
			return
		}
		e.evaluateTicket(t)
	}
}

func (e *Engine) evaluateTicket(t *Ticket) {
	lead := t.Primary
	if t.Kind == ReverseTicket {
		lead = t.CloseLeg
	}

	if lead != nil && lead.Status == Pending {
		price, triggered, err := e.entryPrice(lead)
		if err != nil {
			log.WithError(err).WithField("order", lead.ID).Error("pending order price lookup failed")
			return
		}
		if !triggered {
			return
		}
		e.executeEntry(t, price)
		if entry := t.entry(); entry != nil && entry.Status != Executed {
			// Rejected entry: the protective legs have nothing to guard.
			e.cancelTicket(t)
			return
		}
	}

	// Protective legs, stop before limit so a bar crossing both resolves
	// against the trader.
	for _, leg := range t.protective() {
		triggered, err := e.triggered(leg)
		if err != nil {
			log.WithError(err).WithField("order", leg.ID).Error("protective leg price lookup failed")
			return
		}
		if !triggered {
			continue
		}
		e.executeOrder(leg, *leg.Price)
		e.cancelSibling(t, leg)
		break
	}

	if t.resolved() {
		e.table.Unregister(t.ID)
	}
}

// entryPrice resolves the fill price of a pending lead leg against the
// current bar: market legs fill at the configured trading price, limit/stop
// legs at their own trigger price once the bar crosses it.
func (e *Engine) entryPrice(lead *Order) (float64, bool, error) {
	if lead.Kind == MarketOrder {
		price, err := e.data.LatestPrice(lead.Symbol, e.cfg.PriceField)
		return price, err == nil, err
	}
	triggered, err := e.triggered(lead)
	if err != nil || !triggered {
		return 0, false, err
	}
	return *lead.Price, true, nil
}

// triggered implements the bar-crossing rule for limit and stop orders.
func (e *Engine) triggered(o *Order) (bool, error) {
	high, err := e.data.LatestPrice(o.Symbol, market.High)
	if err != nil {
		return false, err
	}
	low, err := e.data.LatestPrice(o.Symbol, market.Low)
	if err != nil {
		return false, err
	}

	switch o.Kind {
	case LimitOrder:
		if o.Side == Buy {
			return low <= *o.Price, nil
		}
		return high >= *o.Price, nil
	case StopOrder:
		if o.Side == Buy {
			return high >= *o.Price, nil
		}
		return low <= *o.Price, nil
	}
	return false, nil
}

// cancelSibling enforces OCO between a bracket's protective legs.
func (e *Engine) cancelSibling(t *Ticket, executed *Order) {
	sibling := t.LimitLeg
	if executed == t.LimitLeg {
		sibling = t.StopLeg
	}
	if sibling != nil && sibling.Status == Pending {
		sibling.Status = Canceled
		e.notifyOrder(sibling)
	}
}

// executeEntry fills the exposure-changing legs of a ticket at price. A
// reverse executes its close leg first, then reopens the excess.
func (e *Engine) executeEntry(t *Ticket, price float64) {
	switch t.Kind {
	case ReverseTicket:
		e.executeOrder(t.CloseLeg, price)
		e.executeOrder(t.OpenLeg, price)
		if t.OpenLeg.Status != Executed {
			e.cancelTicket(t)
		}
	default:
		if t.Primary != nil {
			e.executeOrder(t.Primary, price)
		}
	}
}

// executeOrder resolves one leg at price. Opening legs are checked against
// free margin and rejected when it does not cover the net exposure increase;
// a rejection is a normal backtest outcome surfaced as order status, not an
// error. Closing legs always execute.
func (e *Engine) executeOrder(o *Order, price float64) *Fill {
	if o.Request == OpenRequest {
		required := e.requiredMargin(o, price)
		if required > e.freeMargin {
			o.Status = Rejected
			log.WithFields(log.Fields{
				"order":    o.ID,
				"symbol":   o.Symbol,
				"required": required,
				"free":     e.freeMargin,
			}).Warn("order rejected: insufficient free margin")
			e.notifyOrder(o)
			return nil
		}
	}

	fill := Fill{
		Time:       e.data.CurrentTime(),
		Symbol:     o.Symbol,
		Units:      o.Units,
		Side:       o.Side,
		Price:      price,
		Commission: e.cfg.Commission,
		Result:     o.Request,
		OrderID:    o.ID,
		PositionID: o.PositionID,
	}

	if o.Request == CloseRequest {
		closed := e.book.ApplyClose(fill)
		if closed == nil {
			// The target position is already gone; nothing to fill.
			o.Status = Canceled
			e.notifyOrder(o)
			return nil
		}
		o.Status = Executed
		e.balance += closed.PnL
	} else {
		o.Status = Executed
		p := e.book.ApplyOpen(fill)
		// A netting ledger absorbs an opposite-side open as a close; that
		// slice is realized and must move balance like any close fill.
		if p != nil && !p.CloseTime.IsZero() {
			e.balance += p.PnL
		}
	}

	log.WithFields(log.Fields{
		"order":    o.ID,
		"symbol":   o.Symbol,
		"side":     o.Side,
		"units":    o.Units,
		"price":    price,
		"result":   o.Request,
		"position": o.PositionID,
	}).Info("order executed")

	// Settle the account first so listeners observing Equity/FreeMargin on
	// the fill notification see post-fill values.
	e.updateAccount(&fill)
	e.notifyOrder(o)
	e.bus.Notify(events.Fill, fill)
	return &fill
}

// updateAccount marks open positions to the latest price, recomputes equity
// and free margin, snapshots the account and checks the stop-out level.
// Repeated updates within one bar overwrite that bar's snapshot.
func (e *Engine) updateAccount(f *Fill) {
	_ = f // realized PnL is booked by executeOrder before this runs

	if err := e.book.MarkToMarket(e.quote); err != nil {
		log.WithError(err).Error("mark to market failed")
	}

	e.equity = e.balance + e.book.TotalPnL()
	used := e.UsedMargin()
	e.freeMargin = e.equity - used

	ts := e.data.CurrentTime()
	snap := Snapshot{Time: ts, Balance: e.balance, Equity: e.equity}
	if n := len(e.history); n > 0 && e.history[n-1].Time.Equal(ts) {
		e.history[n-1] = snap
	} else {
		e.history = append(e.history, snap)
	}

	// No open exposure means no margin call.
	if used > 0 && e.equity/used <= e.cfg.StopOut && !e.halted {
		e.marginCall()
	}
}

// marginCall force-closes every open position and ends the run. It fires at
// most once; trading calls after it return ErrHalted.
func (e *Engine) marginCall() {
	e.halted = true
	log.WithFields(log.Fields{
		"equity":  e.equity,
		"used":    e.UsedMargin(),
		"stopOut": e.cfg.StopOut,
	}).Warn("margin call: liquidating all positions")

	for _, t := range e.table.Pending() {
		e.cancelTicket(t)
	}

	for _, p := range e.book.Positions() {
		t, err := e.table.Create(CreateRequest{
			Time:       e.data.CurrentTime(),
			Symbol:     p.Symbol,
			Kind:       MarketOrder,
			Side:       p.Side.Opposite(),
			Units:      p.Units,
			PositionID: p.ID,
			Quote:      p.LastPrice,
		})
		if err != nil {
			log.WithError(err).WithField("position", p.ID).Error("liquidation order failed")
			continue
		}
		e.executeOrder(t.Primary, p.LastPrice)
	}

	e.data.Stop()
}

func (e *Engine) quote(symbol string) (float64, error) {
	return e.data.LatestPrice(symbol, e.cfg.PriceField)
}

func (e *Engine) notifyOrder(o *Order) {
	if o != nil {
		e.bus.Notify(events.Order, o)
	}
}

// Account returns the current mark-to-market account view.
func (e *Engine) Account() Account {
	used := e.UsedMargin()
	return Account{
		ID:         e.cfg.AccountID,
		Balance:    e.balance,
		Equity:     e.equity,
		UsedMargin: used,
		FreeMargin: e.equity - used,
	}
}

func (e *Engine) Balance() float64    { return e.balance }
func (e *Engine) Equity() float64     { return e.equity }
func (e *Engine) FreeMargin() float64 { return e.freeMargin }
func (e *Engine) Halted() bool        { return e.halted }

// AccountHistory is the balance/equity time series, one row per bar.
func (e *Engine) AccountHistory() []Snapshot { return e.history }

// Positions returns the open positions.
func (e *Engine) Positions() []*Position { return e.book.Positions() }

// PositionHistory returns the closed-position records.
func (e *Engine) PositionHistory() []*Position { return e.book.History() }

// OrderRecords returns every order leg ever created, in creation order.
func (e *Engine) OrderRecords() []*Order { return e.table.Records() }
