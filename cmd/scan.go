package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/export"
	"github.com/maxpert/tablescan/scan"
	"github.com/maxpert/tablescan/store"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
)

// signalContext is canceled on SIGINT/SIGTERM so a running scan stops between
// pages
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withView opens the configured store and runs fn inside one read-only
// transaction
func withView(ctx context.Context, fn func(store.Tx) error) error {
	s, err := store.Open(cfg.Config.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Config.Store.Backend, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()
	return s.View(ctx, fn)
}

// scanOptions builds options for one run, opening the exporter when enabled.
// The returned closer must be called once the scan finished.
func scanOptions() (scan.Options, func(), error) {
	opts := scan.OptionsFrom(cfg.Config.Scan)
	opts.RunID = ksuid.New().String()

	if !cfg.Config.Export.Enabled {
		return opts, func() {}, nil
	}

	exp, err := export.Open(cfg.Config.Export, opts.RunID)
	if err != nil {
		return opts, nil, err
	}
	opts.Exporter = exp
	log.Info().
		Str("run_id", opts.RunID).
		Str("sink", string(cfg.Config.Export.Sink)).
		Msg("Exporting pages")

	return opts, func() {
		if err := exp.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close exporter")
		}
	}, nil
}

func printResult(res scan.Result) {
	fmt.Printf("run %s: %d records in %d pages of %d (%d retries, %d exported) in %s\n",
		res.RunID, res.Records, res.Pages, res.PageSize, res.Retries, res.Exported, res.Duration)
}
