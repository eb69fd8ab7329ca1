package infrastructure

import (
	"log/slog"
	"os"

	"promptmeter/internal/config"
)

// SetupLogger installs the process-wide slog handler: JSON in production, text elsewhere.
func SetupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler).With("service", "promptmeter"))
}
