// Package main is the ReelQueue watch CLI. It follows jobs on the API until they
// finish and prints one line per outcome:
//
//	watch [-state FILE] <job-id>...
//
// Watches are persisted so an interrupted run resumes them on its next start,
// measured from when each job was first watched.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/client"
	"github.com/kiranshivaraju/reelqueue/internal/config"
	"github.com/kiranshivaraju/reelqueue/internal/reconciler"
)

const requestTimeout = 10 * time.Second

var errUnfinished = errors.New("one or more jobs did not succeed")

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUnfinished):
		os.Exit(1)
	default:
		slog.Error("watch failed", "error", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.LoadReconciler()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	statePath := fs.String("state", cfg.Reconciler.StateFile, "file holding in-progress watches")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, fs.NArg())
	for _, arg := range fs.Args() {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}

	var (
		mu      sync.Mutex
		printed int
		failed  int
	)
	printEvent := func(ev reconciler.Event) {
		mu.Lock()
		defer mu.Unlock()
		printed++
		if ev.Type != reconciler.EventSucceeded {
			failed++
		}
		fmt.Fprintln(stdout, formatEvent(ev))
	}

	source := client.NewHTTPClient(cfg.Reconciler.APIURL, cfg.Reconciler.APIKey, requestTimeout)
	r := reconciler.New(source, reconciler.NewFileState(*statePath), slog.Default(),
		reconciler.WithInterval(cfg.Reconciler.Interval),
		reconciler.WithWindow(cfg.Reconciler.Window),
		reconciler.OnEvent(printEvent),
	)

	for _, id := range ids {
		if _, err := r.Track(ctx, id); err != nil {
			return err
		}
	}
	if err := r.Resume(ctx); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if printed == 0 && len(ids) == 0 {
		fmt.Fprintln(stderr, "nothing to watch")
	}
	if failed > 0 {
		return errUnfinished
	}
	return nil
}

func formatEvent(ev reconciler.Event) string {
	elapsed := ev.Elapsed.Round(time.Second)
	switch ev.Type {
	case reconciler.EventSucceeded:
		out := "{}"
		if len(ev.Output) > 0 {
			var compact map[string]any
			if json.Unmarshal(ev.Output, &compact) == nil {
				b, _ := json.Marshal(compact)
				out = string(b)
			} else {
				out = string(ev.Output)
			}
		}
		return fmt.Sprintf("%s succeeded after %s: %s", ev.JobID, elapsed, out)
	case reconciler.EventFailed:
		return fmt.Sprintf("%s failed after %s: %s", ev.JobID, elapsed, ev.Error)
	default:
		return fmt.Sprintf("%s gave up after %s: still running, outcome unknown", ev.JobID, elapsed)
	}
}
