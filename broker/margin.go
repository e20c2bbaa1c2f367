package broker

// requiredMargin is the free margin an opening order consumes:
// units x price / leverage. When a netting account already holds the
// opposite side of the symbol, only the net increase in exposure is charged;
// the in-flight reduction frees the rest.
func (e *Engine) requiredMargin(o *Order, price float64) float64 {
	req := float64(o.Units) * price / e.cfg.Leverage
	if e.cfg.Hedging {
		return req
	}
	for _, p := range e.book.Symbol(o.Symbol) {
		if p.Side != o.Side {
			req -= float64(p.Units) * p.FillPrice / e.cfg.Leverage
		}
	}
	if req < 0 {
		req = 0
	}
	return req
}

// UsedMargin sums the margin held by the open positions at their fill
// prices.
func (e *Engine) UsedMargin() float64 {
	var used float64
	for _, p := range e.book.Positions() {
		used += float64(p.Units) * p.FillPrice / e.cfg.Leverage
	}
	return used
}
