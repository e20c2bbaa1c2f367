package strategy

import (
	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/simbroker/broker"
	"github.com/rustyeddy/simbroker/indicators"
	"github.com/rustyeddy/simbroker/market"
)

// SMACross goes long when the fast simple moving average crosses above the
// slow one and flat when it crosses back below. It reacts to market ticks
// only; order and fill notifications are logged for the journal trail.
type SMACross struct {
	broker *broker.Engine
	data   market.DataSource

	symbol string
	units  int64
	fast   int
	slow   int

	wasAbove bool
	primed   bool
}

func NewSMACross(b *broker.Engine, data market.DataSource, p Params) *SMACross {
	fast, slow := p.Fast, p.Slow
	if fast <= 0 {
		fast = 10
	}
	if slow <= fast {
		slow = fast * 3
	}
	return &SMACross{
		broker: b,
		data:   data,
		symbol: p.Symbol,
		units:  p.Units,
		fast:   fast,
		slow:   slow,
	}
}

func (s *SMACross) Name() string { return "sma-cross" }

func (s *SMACross) Update(payload any) {
	switch ev := payload.(type) {
	case nil:
		s.onTick()
	case *broker.Order:
		log.WithFields(log.Fields{
			"order":  ev.ID,
			"status": ev.Status,
		}).Debug("order update")
	case broker.Fill:
		log.WithFields(log.Fields{
			"order": ev.OrderID,
			"price": ev.Price,
		}).Debug("fill")
	}
}

func (s *SMACross) onTick() {
	bars := s.data.LatestBars(s.symbol, s.slow)
	fast, err := indicators.MA(bars, s.fast)
	if err != nil {
		return // still warming up
	}
	slow, err := indicators.MA(bars, s.slow)
	if err != nil {
		return
	}

	above := fast > slow
	defer func() {
		s.wasAbove = above
		s.primed = true
	}()

	if !s.primed || above == s.wasAbove {
		return
	}

	if above {
		if len(s.broker.Positions()) > 0 {
			return
		}
		if _, err := s.broker.Buy(s.symbol, broker.MarketOrder, s.units, nil, nil, nil); err != nil {
			log.WithError(err).Warn("buy failed")
		}
		return
	}

	for _, p := range s.broker.Positions() {
		if p.Symbol != s.symbol {
			continue
		}
		if _, err := s.broker.Close(p.ID, 0); err != nil {
			log.WithError(err).WithField("position", p.ID).Warn("close failed")
		}
	}
}
