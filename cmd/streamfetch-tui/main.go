// streamfetch-tui is a terminal dashboard for a running streamfetch server.
package main

import (
	"fmt"
	"os"

	"github.com/iconidentify/streamfetch/cmd/streamfetch-tui/internal/config"
	"github.com/iconidentify/streamfetch/cmd/streamfetch-tui/internal/ui"
)

func main() {
	cfg := config.Load()

	app, err := ui.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing TUI: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
