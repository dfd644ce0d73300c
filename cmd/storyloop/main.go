// Package main provides the entry point for the storyloop CLI.
package main

import (
	"os"

	"github.com/randalmurphal/storyloop/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
