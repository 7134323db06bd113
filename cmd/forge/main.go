// Package main provides the entry point for the forge CLI.
package main

import (
	"os"

	"github.com/forge-ai/forge/cmd/forge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
