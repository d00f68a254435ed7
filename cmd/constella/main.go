package main

import (
	"os"

	"github.com/hexbound/constella/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
