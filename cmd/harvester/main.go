// Package main provides the harvester command-line tool for exporting a help center
// into a Markdown tree with localized images.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(&options{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
