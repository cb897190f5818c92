// Package main is the entry point for the repoman CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/git-pkgs/repositories/internal/cli"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 45 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived signal %v, shutting down...\n", sig)
		cancel()

		timer := time.NewTimer(shutdownTimeout)
		defer timer.Stop()

		// A second signal or the timeout forces the exit.
		select {
		case <-done:
		case <-timer.C:
			fmt.Fprintf(os.Stderr, "Shutdown timeout (%v) exceeded, forcing exit\n", shutdownTimeout)
			os.Exit(1)
		case sig = <-sigChan:
			fmt.Fprintf(os.Stderr, "Received second signal %v, forcing exit\n", sig)
			os.Exit(1)
		}
	}()

	exitCode := 0
	if err := cli.ExecuteContext(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Operation canceled")
			exitCode = 130
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = 1
		}
	}
	close(done)
	cancel()
	os.Exit(exitCode)
}
