// Package main is a one-shot operator tool: it removes duplicate rows or
// rebuilds product counters from lots, then exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lotledger/internal/app"
	"lotledger/internal/config"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/id"
	"lotledger/pkg/logger"
)

func main() {
	mode := flag.String("mode", "sweep", "sweep | recompute")
	catalogRef := flag.String("catalog-ref", "", "Optional: recompute only this catalog item (uuid)")
	timeout := flag.Duration("timeout", 10*time.Minute, "Abort after this long")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.IsDevelopment()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext(appctx.OriginCLI+":"+*mode))

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize services", "error", err)
	}
	defer a.Close()

	var out any
	switch strings.TrimSpace(*mode) {
	case "sweep":
		out, err = a.Reconciler.FullSweep(ctx)
	case "recompute":
		if *catalogRef != "" {
			ref, perr := id.Parse(*catalogRef)
			if perr != nil {
				log.Fatalw("invalid --catalog-ref", "value", *catalogRef, "error", perr)
			}
			out, err = a.Lots.Recompute(ctx, ref)
		} else {
			out, err = a.Lots.RecomputeAll(ctx)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown --mode %q (want sweep or recompute)\n", *mode)
		os.Exit(2)
	}
	if err != nil {
		log.Errorw("run failed", "mode", *mode, "error", err)
		a.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Errorw("write result", "error", err)
	}
}
