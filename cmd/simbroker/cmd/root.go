package cmd

import (
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "simbroker",
	Short: "A margin-trading brokerage simulator for backtesting strategies",
	Long: `Simbroker replays historical price bars through a simulated margin
brokerage so trading strategies can be backtested deterministically.

It models order entry and validation, bracket/cover/reverse orders,
netting and hedging accounts, mark-to-market accounting, and forced
liquidation on margin call, and exports the run history for analysis.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Optional .env for local overrides; missing file is fine.
		_ = godotenv.Load()
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

var verbose bool

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
