// Package backtest drives a strategy and the simulated broker over a bar
// feed and summarizes the run.
package backtest

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/simbroker/broker"
	"github.com/rustyeddy/simbroker/events"
	"github.com/rustyeddy/simbroker/feed"
	"github.com/rustyeddy/simbroker/journal"
	"github.com/rustyeddy/simbroker/strategy"
)

// Runner wires the bus, feed, broker and strategy together and executes the
// backtest loop. The broker engine subscribes to market events at
// construction, so the per-bar ordering is fixed: pending orders fill first,
// then the strategy runs, then the account is final for the bar.
type Runner struct {
	Bus      *events.Bus
	Feed     *feed.BarFeed
	Broker   *broker.Engine
	Strategy strategy.Strategy

	// Journal is optional; when set, the exported history tables and run
	// metadata are flushed into it after the loop.
	Journal journal.Journal
	RunID   string
	Symbol  string
}

// Run consumes the feed until it is exhausted, the broker stops the run on a
// margin call, or ctx is canceled.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Bus == nil || r.Feed == nil || r.Broker == nil {
		return Result{}, fmt.Errorf("backtest: Bus, Feed and Broker are required")
	}
	if r.Strategy == nil {
		return Result{}, fmt.Errorf("backtest: Strategy is required")
	}

	r.Bus.Subscribe(events.Market, r.Strategy)
	r.Bus.Subscribe(events.Order, r.Strategy)
	r.Bus.Subscribe(events.Fill, r.Strategy)

	start := r.Broker.Balance()

	for r.Feed.ContinueBacktest() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if !r.Feed.Next() {
			break
		}
	}

	res := summarize(r.Broker, start)

	if r.Journal != nil {
		if err := r.flush(res); err != nil {
			return res, fmt.Errorf("backtest: flush journal: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"trades":  res.Trades,
		"balance": res.EndBalance,
		"equity":  res.Equity,
	}).Info("backtest finished")

	return res, nil
}

func (r *Runner) flush(res Result) error {
	for _, s := range r.Broker.AccountHistory() {
		err := r.Journal.RecordEquity(journal.EquityRecord{
			Time:    s.Time,
			Balance: s.Balance,
			Equity:  s.Equity,
		})
		if err != nil {
			return err
		}
	}

	for _, p := range r.Broker.PositionHistory() {
		err := r.Journal.RecordPosition(journal.PositionRecord{
			ID:         p.ID,
			Symbol:     p.Symbol,
			Side:       string(p.Side),
			Units:      p.Units,
			OpenPrice:  p.FillPrice,
			ClosePrice: p.LastPrice,
			Commission: p.Commission,
			PnL:        p.PnL,
			OpenTime:   p.OpenTime,
			CloseTime:  p.CloseTime,
		})
		if err != nil {
			return err
		}
	}

	for _, o := range r.Broker.OrderRecords() {
		err := r.Journal.RecordOrder(journal.OrderRecord{
			Time:       o.Time,
			Symbol:     o.Symbol,
			Kind:       string(o.Kind),
			Units:      o.Units,
			Side:       string(o.Side),
			Status:     string(o.Status),
			OrderID:    o.ID,
			PositionID: o.PositionID,
		})
		if err != nil {
			return err
		}
	}

	return r.Journal.RecordRun(journal.Run{
		RunID:        r.RunID,
		Created:      time.Now().UTC(),
		Strategy:     r.Strategy.Name(),
		Symbol:       r.Symbol,
		Start:        res.Start,
		End:          res.End,
		StartBalance: res.StartBalance,
		EndBalance:   res.EndBalance,
		Trades:       res.Trades,
		Wins:         res.Wins,
		Losses:       res.Losses,
	})
}
