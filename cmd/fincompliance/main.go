// Package main is the fincompliance executable.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fincompliance: %v\n", err)
		os.Exit(1)
	}
}
