package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/simbroker/backtest"
	"github.com/rustyeddy/simbroker/broker"
	"github.com/rustyeddy/simbroker/config"
	"github.com/rustyeddy/simbroker/events"
	"github.com/rustyeddy/simbroker/feed"
	"github.com/rustyeddy/simbroker/journal"
	"github.com/rustyeddy/simbroker/market"
	"github.com/rustyeddy/simbroker/strategy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest from a config file",
	Long: `Run a backtest using settings from a configuration file.

The config file specifies the account, execution and strategy parameters,
the bar file to replay and where the run history is journaled.

Example:
  simbroker run -f examples/configs/sma-cross.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bars, err := feed.LoadCSV(cfg.Data.File)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}

	bus := events.NewBus()
	barFeed := feed.New(bus)
	barFeed.Add(cfg.Data.Symbol, bars)

	engine := broker.NewEngine(broker.Config{
		AccountID:  cfg.Account.ID,
		Balance:    cfg.Account.Balance,
		Leverage:   cfg.Account.Leverage,
		StopOut:    cfg.Account.StopOut,
		Hedging:    cfg.Account.Hedging,
		Commission: cfg.Execution.Commission,
		PriceField: market.Field(cfg.Execution.PriceField),
		ExecMode:   broker.ExecMode(cfg.Execution.Mode),
	}, barFeed, bus)

	strat, err := strategy.ByName(cfg.Strategy.Name, engine, barFeed, strategy.Params{
		Symbol: cfg.Strategy.Symbol,
		Units:  cfg.Strategy.Units,
		Fast:   cfg.Strategy.Fast,
		Slow:   cfg.Strategy.Slow,
	})
	if err != nil {
		return err
	}

	runID := journal.NewRunID()
	var j journal.Journal
	switch cfg.Journal.Type {
	case "csv":
		j = journal.NewCSV(cfg.Journal.EquityFile, cfg.Journal.PositionsFile, cfg.Journal.OrdersFile)
	case "sqlite":
		j, err = journal.NewSQLite(cfg.Journal.DBPath, runID)
		if err != nil {
			return fmt.Errorf("create journal: %w", err)
		}
	}
	if j != nil {
		defer j.Close()
	}

	runner := &backtest.Runner{
		Bus:      bus,
		Feed:     barFeed,
		Broker:   engine,
		Strategy: strat,
		Journal:  j,
		RunID:    runID,
		Symbol:   cfg.Data.Symbol,
	}

	res, err := runner.Run(context.Background())
	if err != nil {
		return err
	}

	res.Print(os.Stdout)
	return nil
}
