package main

import (
	"os"

	"github.com/runnerr0/tabtime/internal/cli"
)

var version = "dev"

func main() {
	// The parser already printed the error.
	if err := cli.Run(version); err != nil {
		os.Exit(1)
	}
}
