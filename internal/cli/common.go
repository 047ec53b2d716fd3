package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/chatlogd/chatlogd/internal/clock"
	"github.com/chatlogd/chatlogd/internal/config"
	"github.com/chatlogd/chatlogd/internal/metrics"
	"github.com/chatlogd/chatlogd/internal/msgstore"
)

func openStore(opts *RootOptions) (*msgstore.Store, *config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	// Every invocation gets a random run id so log lines from concurrent
	// "chatlogd serve" instances writing to the same stderr stream (e.g.
	// under a process supervisor) can be told apart.
	runID := uuid.NewString()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("run_id", runID)

	st, err := msgstore.Open(cfg.ToOptions(), clock.Real{}, metrics.NewPrometheus(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, cfg, nil
}
