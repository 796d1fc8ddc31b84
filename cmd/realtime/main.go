// Package main starts the SafeHaven realtime service and handles termination.
//
// The process accepts WebSocket connections from shelter operators, first
// responders and coordinators, and fans out shelter status and alerts.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	realtimecmd "github.com/safehaven-connect/safehaven/internal/cmd/realtime"
)

func main() {
	cfg, err := realtimecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[REALTIME] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HealthCheck {
		if err := realtimecmd.CheckHealth(ctx, cfg); err != nil {
			log.Fatalf("unhealthy: %v", err)
		}
		return
	}

	if err := realtimecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
