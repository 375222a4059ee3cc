// Command stm32pio keeps an STM32CubeMX project and its PlatformIO build
// configuration in sync.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	perrors "github.com/p-blackswan/stm32pio/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.execute(ctx, os.Args[1:]); err != nil {
		a.logger.Debug().Err(err).Str("kind", perrors.Kind(err)).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newLogger builds the root logger: human-readable on a terminal, JSON
// otherwise.
func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(w).With().Timestamp().Logger().Level(level)

	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
	}

	log.Logger = logger
	return logger
}

// logLevel picks the level from --verbose or the environment.
func logLevel(verbose bool, env string) zerolog.Level {
	if verbose {
		return zerolog.DebugLevel
	}
	if lvl, err := zerolog.ParseLevel(env); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
