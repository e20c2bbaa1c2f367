package broker

import "sort"

// NetLedger keeps at most one open position per symbol. Same-side fills
// merge into the position, opposite-side fills reduce or close it.
type NetLedger struct {
	open    map[string]*Position
	history []*Position
}

func NewNetLedger() *NetLedger {
	return &NetLedger{open: make(map[string]*Position)}
}

func (l *NetLedger) ApplyOpen(f Fill) *Position {
	if p, ok := l.open[f.Symbol]; ok {
		if p.Side == f.Side {
			p.merge(f)
			return p
		}
		// Opposite side routes to close logic.
		return l.ApplyClose(f)
	}

	p := &Position{
		ID:         f.PositionID,
		Symbol:     f.Symbol,
		Side:       f.Side,
		Units:      f.Units,
		FillPrice:  f.Price,
		Commission: f.Commission,
		OpenTime:   f.Time,
	}
	p.MarkToMarket(f.Price)
	l.open[f.Symbol] = p
	return p
}

func (l *NetLedger) ApplyClose(f Fill) *Position {
	p, ok := l.open[f.Symbol]
	if !ok {
		return nil
	}

	if f.Units < p.Units {
		closed := p.split(f)
		l.history = append(l.history, closed)
		return closed
	}

	p.close(f)
	delete(l.open, f.Symbol)
	l.history = append(l.history, p)
	return p
}

func (l *NetLedger) Position(id int64) (*Position, bool) {
	for _, p := range l.open {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (l *NetLedger) Symbol(symbol string) []*Position {
	if p, ok := l.open[symbol]; ok {
		return []*Position{p}
	}
	return nil
}

func (l *NetLedger) Positions() []*Position {
	out := make([]*Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *NetLedger) History() []*Position { return l.history }

func (l *NetLedger) TotalPnL() float64 {
	var total float64
	for _, p := range l.open {
		total += p.PnL
	}
	return total
}

func (l *NetLedger) MarkToMarket(quote func(symbol string) (float64, error)) error {
	for _, p := range l.open {
		price, err := quote(p.Symbol)
		if err != nil {
			return err
		}
		p.MarkToMarket(price)
	}
	return nil
}
