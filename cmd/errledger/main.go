// Package main is the entry point for the errledger CLI.
package main

import (
	"fmt"
	"os"

	"github.com/bargom/errledger/cmd/errledger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
