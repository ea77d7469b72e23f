// Package main provides the webpilot command: an HTTP server and CLI that
// drive a remote browser toward a natural-language goal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/webpilot/pkg/logging"
)

const version = "0.1.0"

func main() {
	// Create context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if closeErr := logging.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to close log file: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
