package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// setupLogger installs the process logger. While the terminal shows a visualization the
// logs move to stderr and only warnings get through, unless debugging.
func setupLogger(level slog.Level, screen bool) *slog.Logger {
	logOutput := os.Stdout
	if screen {
		logOutput = os.Stderr
		if level > slog.LevelDebug {
			level = max(level, slog.LevelWarn)
		}
	}

	logger := slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return logger
}
