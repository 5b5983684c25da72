// Package main is the pagemirror executable.
package main

import (
	"fmt"
	"os"

	"github.com/JakeFAU/pagemirror/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pagemirror: %v\n", err)
		os.Exit(1)
	}
}
