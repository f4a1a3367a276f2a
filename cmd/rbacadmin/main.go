package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/rbacadmin/internal/console/app"
	"github.com/aussiebroadwan/rbacadmin/internal/console/cli"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer application.Close()

	if _, err := application.Start(ctx); err != nil {
		application.Logger().Warn("could not resume previous session", "error", err)
	}

	terminal := cli.OpenTerminal()
	defer terminal.Close()

	if err := cli.New(application, terminal, os.Stdout).Run(ctx); err != nil {
		log.Printf("console error: %v", err)
	}
}
