// Package main is the entry point for the scribe CLI.
package main

import (
	"os"

	"github.com/scribe-rag/scribe/cmd/scribe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
