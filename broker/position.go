package broker

import "time"

// Position is one open exposure. Units stay positive while the position is
// open; Side carries the direction. ID equals the id of the order that
// opened it.
type Position struct {
	ID         int64
	Symbol     string
	Side       Side
	Units      int64
	FillPrice  float64
	LastPrice  float64
	Commission float64
	OpenTime   time.Time
	CloseTime  time.Time

	// PnL is unrealized while open, realized once the position moved to
	// history. Symmetric for both sides: side sign times price delta,
	// minus accrued commission.
	PnL float64
}

// MarkToMarket revalues the position at price.
func (p *Position) MarkToMarket(price float64) {
	p.LastPrice = price
	p.PnL = p.Side.Sign()*(price-p.FillPrice)*float64(p.Units) - p.Commission
}

// merge folds an additional same-side fill into the position using a
// unit-weighted average fill price.
func (p *Position) merge(f Fill) {
	total := p.Units + f.Units
	p.FillPrice = (p.FillPrice*float64(p.Units) + f.Price*float64(f.Units)) / float64(total)
	p.Units = total
	p.Commission += f.Commission
	p.MarkToMarket(f.Price)
}

// split carves a closed slice of f.Units off the position and returns it as
// a history record. The slice carries the closing fill's commission plus a
// pro-rata share of the commission accrued so far; the remainder keeps the
// rest, so commission is conserved across the lineage.
func (p *Position) split(f Fill) *Position {
	share := p.Commission * float64(f.Units) / float64(p.Units)

	closed := &Position{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Units:      f.Units,
		FillPrice:  p.FillPrice,
		LastPrice:  f.Price,
		Commission: share + f.Commission,
		OpenTime:   p.OpenTime,
		CloseTime:  f.Time,
	}
	closed.PnL = closed.Side.Sign()*(f.Price-closed.FillPrice)*float64(closed.Units) - closed.Commission

	p.Units -= f.Units
	p.Commission -= share
	p.MarkToMarket(f.Price)
	return closed
}

// close settles the whole position at the fill price and stamps it closed.
func (p *Position) close(f Fill) {
	p.Commission += f.Commission
	p.LastPrice = f.Price
	p.CloseTime = f.Time
	p.PnL = p.Side.Sign()*(f.Price-p.FillPrice)*float64(p.Units) - p.Commission
}

// Ledger is the position-management policy. Exactly one of the two
// implementations backs an account: netting or hedging.
type Ledger interface {
	// ApplyOpen books an opening fill and returns the affected position.
	ApplyOpen(f Fill) *Position

	// ApplyClose books a closing fill and returns the history record it
	// produced, nil when no position matched.
	ApplyClose(f Fill) *Position

	// Position resolves one open position by id.
	Position(id int64) (*Position, bool)

	// Symbol returns the open positions for a symbol.
	Symbol(symbol string) []*Position

	// Positions returns all open positions.
	Positions() []*Position

	// History returns the closed-position records, oldest first.
	History() []*Position

	// TotalPnL sums unrealized PnL over all open positions.
	TotalPnL() float64

	// MarkToMarket revalues every open position using quote.
	MarkToMarket(quote func(symbol string) (float64, error)) error
}
