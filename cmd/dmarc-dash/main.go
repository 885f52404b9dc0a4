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

	"dmarc-dash/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stderr)
		return 2
	}
	cmd, ok := findCommand(args[0])
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 2
	}

	serving := cmd.name == "serve"
	logger := newLogger(cfg.LogLevel, serving, stderr)
	if serving {
		logConfig(logger, cfg)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, stdin, stdout, serving)
	if err != nil {
		logger.Error("startup failed", "err", err)
		return 1
	}
	defer a.close()

	if cmd.view != "" {
		if err := a.require(ctx, cmd.view); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
	}

	if err := cmd.run(ctx, a, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: dmarc-dash <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
}

// newLogger writes JSON for serve and text for one-shot commands.
func newLogger(level string, json bool, w io.Writer) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "info":
		lvl.Set(slog.LevelInfo)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	// One-shot commands stay quiet unless something goes wrong.
	if lvl.Level() < slog.LevelWarn && level != "debug" {
		lvl.Set(slog.LevelWarn)
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	logger.Info("configuration",
		"api_base_url", cfg.APIBaseURL,
		"log_level", cfg.LogLevel,
		"prefs_backend", string(cfg.PrefsBackend),
		"prefs_path", cfg.PrefsPath,
		"request_timeout", cfg.RequestTimeout,
		"search_debounce", cfg.SearchDebounce,
		"reports_page_size", cfg.ReportsPageSize,
		"domains_page_size", cfg.DomainsPageSize,
		"files_page_size", cfg.FilesPageSize,
		"list_cache_ttl", cfg.ListCacheTTL,
		"confirm_ttl", cfg.ConfirmTTL,
		"listen_addr", cfg.ListenAddr,
		"health_check_interval", cfg.HealthCheckInterval,
		"health_check_timeout", cfg.HealthCheckTimeout,
		"timezone", cfg.Timezone,
	)
}
