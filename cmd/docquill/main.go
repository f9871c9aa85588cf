// Package main provides the entry point for the docquill CLI.
package main

import (
	"os"

	"github.com/docquill/docquill/cmd/docquill/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
