// Package main is the entry point for mongoinit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mongoinit/bootstrap"
	"mongoinit/cmd"
)

// run executes the CLI and returns the process exit code
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return bootstrap.ExitCode(err)
}

func main() {
	os.Exit(run())
}
