package main

import (
	"os"

	"github.com/finlearnhub/supportdesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
