package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the simbroker CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("simbroker version %s\n", version)
		fmt.Println("A margin-trading brokerage simulator for backtesting strategies")
		fmt.Println("https://github.com/rustyeddy/simbroker")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
