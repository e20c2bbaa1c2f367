// Package strategy holds the trading logic collaborators of the simulation.
// A strategy is an event-bus listener: it reacts to market, order and fill
// notifications and issues trading calls against the broker engine.
package strategy

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/simbroker/broker"
	"github.com/rustyeddy/simbroker/market"
)

// Strategy is the minimal contract a backtest strategy must implement. The
// runner subscribes it to the event kinds it cares about; Update is invoked
// once per notification.
type Strategy interface {
	Name() string
	Update(payload any)
}

// Params carries the config-driven knobs shared by the built-in strategies.
type Params struct {
	Symbol string
	Units  int64
	Fast   int
	Slow   int
}

// ByName builds one of the built-in strategies.
func ByName(name string, b *broker.Engine, data market.DataSource, p Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "noop", "none":
		return NoopStrategy{}, nil

	case "sma-cross", "smacross":
		return NewSMACross(b, data, p), nil

	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: noop, sma-cross)", name)
	}
}
