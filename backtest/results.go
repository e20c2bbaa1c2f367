package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/rustyeddy/simbroker/broker"
)

// Result is a summary of one backtest run.
type Result struct {
	StartBalance float64
	EndBalance   float64
	Equity       float64

	Trades int
	Wins   int
	Losses int

	ReturnPct float64
	MaxDDPct  float64 // max peak-to-trough equity drawdown
	StdevPct  float64 // stdev of per-bar equity returns

	Start time.Time
	End   time.Time
}

func summarize(b *broker.Engine, startBalance float64) Result {
	res := Result{
		StartBalance: startBalance,
		EndBalance:   b.Balance(),
		Equity:       b.Equity(),
	}

	for _, p := range b.PositionHistory() {
		res.Trades++
		if p.PnL > 0 {
			res.Wins++
		} else if p.PnL < 0 {
			res.Losses++
		}
	}

	if startBalance != 0 {
		res.ReturnPct = (res.Equity - startBalance) / startBalance * 100
	}

	curve := b.AccountHistory()
	if len(curve) > 0 {
		res.Start = curve[0].Time
		res.End = curve[len(curve)-1].Time
	}

	res.MaxDDPct = maxDrawdownPct(curve)

	if returns := barReturns(curve); len(returns) > 1 {
		if sd, err := stats.StandardDeviation(returns); err == nil {
			res.StdevPct = sd * 100
		}
	}

	return res
}

func barReturns(curve []broker.Snapshot) stats.Float64Data {
	var out stats.Float64Data
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

func maxDrawdownPct(curve []broker.Snapshot) float64 {
	var peak, maxDD float64
	for _, s := range curve {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak > 0 {
			if dd := (peak - s.Equity) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Print writes a human-readable run summary.
func (r Result) Print(w io.Writer) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Start Balance: %.2f\n", r.StartBalance)
	fmt.Fprintf(w, "End Balance:   %.2f\n", r.EndBalance)
	fmt.Fprintf(w, "Equity:        %.2f\n", r.Equity)
	fmt.Fprintf(w, "Return:        %.2f%%\n", r.ReturnPct)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", r.MaxDDPct)
	fmt.Fprintf(w, "Return Stdev:  %.4f%%\n", r.StdevPct)
}
