package main

import (
	"os"

	"github.com/rustyeddy/simbroker/cmd/simbroker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
