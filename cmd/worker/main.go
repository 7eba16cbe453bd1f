// Package main is the entrypoint for the ReelQueue background worker.
//
// With no flags it runs the worker loop until SIGINT or SIGTERM. -once runs a
// single dispatcher pass and -recover a single stuck-job recovery action, which
// lets an external scheduler drive the queue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/reelqueue/internal/app"
	"github.com/kiranshivaraju/reelqueue/internal/config"
	"github.com/kiranshivaraju/reelqueue/internal/jobs"
)

type mode int

const (
	modeLoop mode = iota
	modeOnce
	modeRecover
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	m, err := parseMode(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if err := run(m); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func parseMode(args []string, stderr io.Writer) (mode, error) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	once := fs.Bool("once", false, "run a single dispatcher pass and exit")
	recoverStale := fs.Bool("recover", false, "requeue stuck running jobs once and exit")
	if err := fs.Parse(args); err != nil {
		return modeLoop, err
	}
	switch {
	case *once && *recoverStale:
		err := errors.New("-once and -recover are mutually exclusive")
		fmt.Fprintln(stderr, err)
		return modeLoop, err
	case *once:
		return modeOnce, nil
	case *recoverStale:
		return modeRecover, nil
	}
	return modeLoop, nil
}

func run(m mode) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	switch m {
	case modeOnce:
		n, err := a.Dispatcher.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("dispatcher pass: %w", err)
		}
		slog.Info("dispatcher pass finished", "processed", n)
	case modeRecover:
		n, err := a.Recoverer.RecoverStale(ctx)
		if err != nil {
			return fmt.Errorf("stuck-job recovery: %w", err)
		}
		slog.Info("stuck-job recovery finished", "requeued", n)
	default:
		jobs.NewLoop(a.Dispatcher, a.Recoverer, cfg.Worker.Interval, cfg.Worker.RecoveryInterval, slog.Default()).Run(ctx)
	}
	return nil
}
