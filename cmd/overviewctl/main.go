package main

import (
	"os"

	"github.com/quantdash/overview-engine/cmd/overviewctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
