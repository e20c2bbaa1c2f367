package broker

import (
	"fmt"
	"time"
)

// CreateRequest carries one trading intent into the order table, together
// with the market context the table validates against.
type CreateRequest struct {
	Time   time.Time
	Symbol string
	Kind   Kind
	Side   Side
	Units  int64

	Price      *float64
	StopLoss   *float64
	TakeProfit *float64

	// PositionID targets an existing position for an explicit close.
	// Zero means the request opens (or nets against) exposure.
	PositionID int64

	// Quote is the current trading price of the symbol.
	Quote float64

	// Existing is the open netting position for the symbol, nil when there
	// is none or the account hedges.
	Existing *Position
}

// Amendment describes a change to a registered order. Nil pointers leave the
// value unchanged; the Clear flags remove a protective condition.
type Amendment struct {
	Price           *float64
	StopLoss        *float64
	TakeProfit      *float64
	ClearStopLoss   bool
	ClearTakeProfit bool
}

// Table owns order identity allocation, the catalog of order shapes and the
// pending registry. The id counter is table state, reset only through Reset.
//
// The pending registry is an explicit insertion-ordered id list; execution
// order over pending orders is a contract, not a property of map iteration.
type Table struct {
	hedging bool
	nextID  int64
	tickets map[int64]*Ticket
	pending []int64
	records []*Order
}

func NewTable(hedging bool) *Table {
	return &Table{
		hedging: hedging,
		nextID:  1,
		tickets: make(map[int64]*Ticket),
	}
}

// Reset drops all table state and restarts the id counter.
func (tb *Table) Reset() {
	tb.nextID = 1
	tb.tickets = make(map[int64]*Ticket)
	tb.pending = nil
	tb.records = nil
}

// validate applies the construction rules. It fails fast: no table state is
// touched before it returns nil.
func validate(req CreateRequest) error {
	if req.Units <= 0 {
		return fmt.Errorf("%w: got %d", ErrOrderUnits, req.Units)
	}

	switch req.Kind {
	case MarketOrder:
		if req.Price != nil {
			return fmt.Errorf("%w: got %v", ErrMarketOrderPrice, *req.Price)
		}
	case LimitOrder:
		if req.Price == nil {
			return fmt.Errorf("%w: price is required", ErrLimitOrderPrice)
		}
		if req.Side == Buy && *req.Price >= req.Quote {
			return fmt.Errorf("%w: buy limit %v >= market %v", ErrLimitOrderPrice, *req.Price, req.Quote)
		}
		if req.Side == Sell && *req.Price <= req.Quote {
			return fmt.Errorf("%w: sell limit %v <= market %v", ErrLimitOrderPrice, *req.Price, req.Quote)
		}
	case StopOrder:
		if req.Price == nil {
			return fmt.Errorf("%w: price is required", ErrStopOrderPrice)
		}
		if req.Side == Buy && *req.Price <= req.Quote {
			return fmt.Errorf("%w: buy stop %v <= market %v", ErrStopOrderPrice, *req.Price, req.Quote)
		}
		if req.Side == Sell && *req.Price >= req.Quote {
			return fmt.Errorf("%w: sell stop %v >= market %v", ErrStopOrderPrice, *req.Price, req.Quote)
		}
	default:
		return fmt.Errorf("%w: %q", ErrOrderKind, req.Kind)
	}

	// Protective prices validate against the effective entry price.
	entry := req.Quote
	if req.Price != nil {
		entry = *req.Price
	}
	if sl := req.StopLoss; sl != nil {
		if (req.Side == Buy && *sl >= entry) || (req.Side == Sell && *sl <= entry) {
			return fmt.Errorf("%w: %v %v against entry %v", ErrStopLossPrice, req.Side, *sl, entry)
		}
	}
	if tp := req.TakeProfit; tp != nil {
		if (req.Side == Buy && *tp <= entry) || (req.Side == Sell && *tp >= entry) {
			return fmt.Errorf("%w: %v %v against entry %v", ErrTakeProfitPrice, req.Side, *tp, entry)
		}
	}
	return nil
}

// Create validates req and composes the resulting ticket. All legs share one
// freshly minted id; the counter advances exactly once per call.
func (tb *Table) Create(req CreateRequest) (*Ticket, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	id := tb.nextID
	tb.nextID++

	var t *Ticket
	switch {
	case req.PositionID != 0:
		// Explicit close of one position.
		t = &Ticket{
			Kind:    SingleTicket,
			ID:      id,
			Primary: tb.newLeg(id, req, req.Side, req.Units, req.Price, req.PositionID, CloseRequest),
		}

	case req.Existing != nil && req.Existing.Side != req.Side:
		t = tb.composeNetting(id, req)

	default:
		// No exposure to net against: plain open, promoted to cover or
		// bracket when protective prices were given. Same-side netting
		// exposure merges at fill time in the ledger.
		t = tb.composeOpen(id, req)
	}

	tb.tickets[id] = t
	tb.records = append(tb.records, t.Legs()...)
	return t, nil
}

// composeOpen builds a single, cover or bracket ticket opening new exposure.
func (tb *Table) composeOpen(id int64, req CreateRequest) *Ticket {
	t := &Ticket{
		Kind:    SingleTicket,
		ID:      id,
		Primary: tb.newLeg(id, req, req.Side, req.Units, req.Price, id, OpenRequest),
	}
	t.Primary.StopLoss = req.StopLoss
	t.Primary.TakeProfit = req.TakeProfit
	tb.attachProtection(t, req, id, req.Units)
	return t
}

// composeNetting resolves a buy/sell call against an opposite-side position:
// more units than held flips the position through a reverse ticket, fewer or
// equal units reduce it with a plain close.
func (tb *Table) composeNetting(id int64, req CreateRequest) *Ticket {
	pos := req.Existing
	if req.Units <= pos.Units {
		return &Ticket{
			Kind:    SingleTicket,
			ID:      id,
			Primary: tb.newLeg(id, req, req.Side, req.Units, req.Price, pos.ID, CloseRequest),
		}
	}

	t := &Ticket{
		Kind:     ReverseTicket,
		ID:       id,
		CloseLeg: tb.newLeg(id, req, req.Side, pos.Units, req.Price, pos.ID, CloseRequest),
		OpenLeg:  tb.newLeg(id, req, req.Side, req.Units-pos.Units, req.Price, id, OpenRequest),
	}
	t.OpenLeg.StopLoss = req.StopLoss
	t.OpenLeg.TakeProfit = req.TakeProfit
	tb.attachProtection(t, req, id, req.Units-pos.Units)
	return t
}

// attachProtection adds the protective close legs implied by the request's
// stop-loss/take-profit and upgrades the ticket kind accordingly.
func (tb *Table) attachProtection(t *Ticket, req CreateRequest, posID, units int64) {
	if req.StopLoss != nil {
		t.StopLeg = &Order{
			ID:         t.ID,
			PositionID: posID,
			Time:       req.Time,
			Symbol:     req.Symbol,
			Kind:       StopOrder,
			Side:       req.Side.Opposite(),
			Units:      units,
			Price:      req.StopLoss,
			Status:     Pending,
			Request:    CloseRequest,
		}
	}
	if req.TakeProfit != nil {
		t.LimitLeg = &Order{
			ID:         t.ID,
			PositionID: posID,
			Time:       req.Time,
			Symbol:     req.Symbol,
			Kind:       LimitOrder,
			Side:       req.Side.Opposite(),
			Units:      units,
			Price:      req.TakeProfit,
			Status:     Pending,
			Request:    CloseRequest,
		}
	}
	if t.Kind == ReverseTicket {
		return
	}
	switch {
	case t.StopLeg != nil && t.LimitLeg != nil:
		t.Kind = BracketTicket
	case t.StopLeg != nil || t.LimitLeg != nil:
		t.Kind = CoverTicket
	}
}

func (tb *Table) newLeg(id int64, req CreateRequest, side Side, units int64, price *float64, posID int64, r Request) *Order {
	return &Order{
		ID:         id,
		PositionID: posID,
		Time:       req.Time,
		Symbol:     req.Symbol,
		Kind:       req.Kind,
		Side:       side,
		Units:      units,
		Price:      price,
		Status:     Pending,
		Request:    r,
	}
}

// CreateProtection mints a protective-only cover/bracket guarding an open
// position that has no pending order against it. Returns nil when neither
// protective price was given.
func (tb *Table) CreateProtection(pos *Position, sl, tp *float64, quote float64, now time.Time) (*Ticket, error) {
	if sl == nil && tp == nil {
		return nil, nil
	}
	req := CreateRequest{
		Time:       now,
		Symbol:     pos.Symbol,
		Kind:       MarketOrder,
		Side:       pos.Side,
		Units:      pos.Units,
		StopLoss:   sl,
		TakeProfit: tp,
		Quote:      quote,
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	id := tb.nextID
	tb.nextID++

	t := &Ticket{Kind: SingleTicket, ID: id}
	tb.attachProtection(t, req, pos.ID, pos.Units)

	tb.tickets[id] = t
	tb.records = append(tb.records, t.Legs()...)
	return t, nil
}

// Ticket returns the composite registered under id.
func (tb *Table) Ticket(id int64) (*Ticket, bool) {
	t, ok := tb.tickets[id]
	return t, ok
}

// Register appends the ticket to the pending registry. Registering an
// already registered id is a no-op.
func (tb *Table) Register(t *Ticket) {
	for _, id := range tb.pending {
		if id == t.ID {
			return
		}
	}
	tb.pending = append(tb.pending, t.ID)
}

// Unregister removes id from the pending registry, keeping the order of the
// remaining entries.
func (tb *Table) Unregister(id int64) {
	for i, cur := range tb.pending {
		if cur == id {
			tb.pending = append(tb.pending[:i:i], tb.pending[i+1:]...)
			return
		}
	}
}

// Pending returns the registered tickets in registration order.
func (tb *Table) Pending() []*Ticket {
	out := make([]*Ticket, 0, len(tb.pending))
	for _, id := range tb.pending {
		if t, ok := tb.tickets[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// PendingByPosition returns the registered tickets holding a pending leg
// against the given position id.
func (tb *Table) PendingByPosition(posID int64) []*Ticket {
	var out []*Ticket
	for _, t := range tb.Pending() {
		for _, o := range t.Legs() {
			if o.Status == Pending && o.PositionID == posID {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Cancel marks every still-pending leg of id canceled and drops the ticket
// from the registry.
func (tb *Table) Cancel(id int64) (*Ticket, error) {
	t, ok := tb.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	for _, o := range t.Legs() {
		if o.Status == Pending {
			o.Status = Canceled
		}
	}
	tb.Unregister(id)
	return t, nil
}

// Modify amends the pending ticket registered under id. Price changes are
// re-validated against quote with the creation rules; adding or clearing
// protective conditions promotes or demotes the ticket shape.
func (tb *Table) Modify(id int64, am Amendment, quote float64) (*Ticket, error) {
	t, ok := tb.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}

	entry := t.entry()
	if am.Price != nil {
		if entry == nil || entry.Status == Executed {
			return nil, fmt.Errorf("%w: id %d", ErrOrderExecuted, id)
		}
		if entry.Status != Pending {
			return nil, fmt.Errorf("%w: id %d is %s", ErrOrderNotFound, id, entry.Status)
		}
	}

	// Build the candidate state first so a validation failure leaves the
	// ticket untouched.
	price := amended(priceOf(entry), am.Price, false)
	var sl, tp *float64
	if t.StopLeg != nil {
		sl = t.StopLeg.Price
	}
	if t.LimitLeg != nil {
		tp = t.LimitLeg.Price
	}
	sl = amended(sl, am.StopLoss, am.ClearStopLoss)
	tp = amended(tp, am.TakeProfit, am.ClearTakeProfit)

	side := sideOf(t)

	// A changed entry price re-validates with the creation rules.
	if am.Price != nil {
		req := CreateRequest{
			Symbol: symbolOf(t),
			Side:   side,
			Units:  unitsOf(t),
			Kind:   entry.Kind,
			Price:  price,
			Quote:  quote,
		}
		if err := validate(req); err != nil {
			return nil, err
		}
	}

	// Protective prices validate against the effective entry: the pending
	// entry's price, or the market once the entry executed.
	effective := quote
	if entry != nil && entry.Status == Pending && price != nil {
		effective = *price
	}
	if sl != nil && ((side == Buy && *sl >= effective) || (side == Sell && *sl <= effective)) {
		return nil, fmt.Errorf("%w: %v %v against entry %v", ErrStopLossPrice, side, *sl, effective)
	}
	if tp != nil && ((side == Buy && *tp <= effective) || (side == Sell && *tp >= effective)) {
		return nil, fmt.Errorf("%w: %v %v against entry %v", ErrTakeProfitPrice, side, *tp, effective)
	}

	if entry != nil && entry.Status == Pending {
		entry.Price = price
		entry.StopLoss = sl
		entry.TakeProfit = tp
	}
	tb.applyProtection(t, sl, tp)
	if t.resolved() {
		tb.Unregister(id)
	} else {
		tb.Register(t)
	}
	return t, nil
}

// applyProtection reshapes the ticket's protective legs to match the target
// stop-loss/take-profit, minting, repricing or canceling legs as needed.
func (tb *Table) applyProtection(t *Ticket, sl, tp *float64) {
	posID := t.ID
	units := unitsOf(t)
	if entry := t.entry(); entry != nil {
		posID = entry.PositionID
		units = entry.Units
	} else if t.StopLeg != nil {
		posID = t.StopLeg.PositionID
		units = t.StopLeg.Units
	} else if t.LimitLeg != nil {
		posID = t.LimitLeg.PositionID
		units = t.LimitLeg.Units
	}

	t.StopLeg = tb.reshapeLeg(t, t.StopLeg, sl, StopOrder, posID, units)
	t.LimitLeg = tb.reshapeLeg(t, t.LimitLeg, tp, LimitOrder, posID, units)
	if entry := t.entry(); entry != nil && entry.Status == Pending {
		entry.StopLoss = sl
		entry.TakeProfit = tp
	}

	if t.Kind == ReverseTicket {
		return
	}
	switch {
	case t.StopLeg != nil && t.LimitLeg != nil:
		t.Kind = BracketTicket
	case t.StopLeg != nil || t.LimitLeg != nil:
		t.Kind = CoverTicket
	default:
		t.Kind = SingleTicket
	}
}

func (tb *Table) reshapeLeg(t *Ticket, leg *Order, price *float64, kind Kind, posID, units int64) *Order {
	if price == nil {
		if leg != nil && leg.Status == Pending {
			leg.Status = Canceled
		}
		return nil
	}
	if leg != nil && leg.Status == Pending {
		leg.Price = price
		return leg
	}
	side := sideOf(t).Opposite()
	o := &Order{
		ID:         t.ID,
		PositionID: posID,
		Symbol:     symbolOf(t),
		Kind:       kind,
		Side:       side,
		Units:      units,
		Price:      price,
		Status:     Pending,
		Request:    CloseRequest,
	}
	tb.records = append(tb.records, o)
	return o
}

// Records returns every order leg ever created, in creation order.
func (tb *Table) Records() []*Order {
	return tb.records
}

func amended(cur, set *float64, clear bool) *float64 {
	if clear {
		return nil
	}
	if set != nil {
		return set
	}
	return cur
}

func priceOf(o *Order) *float64 {
	if o == nil {
		return nil
	}
	return o.Price
}

func symbolOf(t *Ticket) string {
	for _, o := range t.Legs() {
		return o.Symbol
	}
	return ""
}

func unitsOf(t *Ticket) int64 {
	if e := t.entry(); e != nil {
		return e.Units
	}
	for _, o := range t.Legs() {
		return o.Units
	}
	return 0
}

// sideOf reports the exposure side of the ticket: the entry leg's side, or
// for a protective-only ticket the opposite of its close legs.
func sideOf(t *Ticket) Side {
	if e := t.entry(); e != nil {
		return e.Side
	}
	for _, o := range t.Legs() {
		return o.Side.Opposite()
	}
	return Buy
}
