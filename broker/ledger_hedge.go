package broker

import "sort"

// HedgeLedger keeps every position independent: opening fills always create
// a new position keyed by id, and positions are never merged. A per-symbol
// group index serves symbol queries and is pruned once a group empties.
type HedgeLedger struct {
	open    map[int64]*Position
	groups  map[string][]int64
	history []*Position
}

func NewHedgeLedger() *HedgeLedger {
	return &HedgeLedger{
		open:   make(map[int64]*Position),
		groups: make(map[string][]int64),
	}
}

func (l *HedgeLedger) ApplyOpen(f Fill) *Position {
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
	l.open[p.ID] = p
	l.groups[f.Symbol] = append(l.groups[f.Symbol], p.ID)
	return p
}

func (l *HedgeLedger) ApplyClose(f Fill) *Position {
	p, ok := l.open[f.PositionID]
	if !ok {
		return nil
	}

	if f.Units < p.Units {
		closed := p.split(f)
		l.history = append(l.history, closed)
		return closed
	}

	p.close(f)
	delete(l.open, p.ID)
	l.prune(p.Symbol, p.ID)
	l.history = append(l.history, p)
	return p
}

func (l *HedgeLedger) prune(symbol string, id int64) {
	ids := l.groups[symbol]
	for i, cur := range ids {
		if cur == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(l.groups, symbol)
		return
	}
	l.groups[symbol] = ids
}

func (l *HedgeLedger) Position(id int64) (*Position, bool) {
	p, ok := l.open[id]
	return p, ok
}

func (l *HedgeLedger) Symbol(symbol string) []*Position {
	ids := l.groups[symbol]
	out := make([]*Position, 0, len(ids))
	for _, id := range ids {
		if p, ok := l.open[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (l *HedgeLedger) Positions() []*Position {
	out := make([]*Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *HedgeLedger) History() []*Position { return l.history }

func (l *HedgeLedger) TotalPnL() float64 {
	var total float64
	for _, p := range l.open {
		total += p.PnL
	}
	return total
}

func (l *HedgeLedger) MarkToMarket(quote func(symbol string) (float64, error)) error {
	for _, p := range l.open {
		price, err := quote(p.Symbol)
		if err != nil {
			return err
		}
		p.MarkToMarket(price)
	}
	return nil
}
