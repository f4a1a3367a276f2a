package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/rbacadmin/internal/devapi"
)

func main() {
	cfg, err := devapi.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	application, err := devapi.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
