package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"tutorpay/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		log.Fatalf("Bootstrap error: %v", err)
	}
	defer cleanup()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Run error: %v", err)
	}
}
