// Package main is the entry point for the warden threat detection and
// prevention engine.
package main

import (
	"context"
	"fmt"
	"os"

	"warden/bootstrap"
	"warden/cmd"
)

// run initializes and starts the engine, then blocks until shutdown.
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

func main() {
	// CLI mode: `warden catalog validate|show`.
	if len(os.Args) > 1 && os.Args[1] == "catalog" {
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

		catalogCmd := cmd.NewCatalogCmd()
		if err := catalogCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
