package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/config"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var overrides config.Overrides

	rootCmd := &cobra.Command{
		Use:           "subcache",
		Short:         "Content-addressed subtitle transcription service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), overrides)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	flags.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flags.StringVar(&overrides.DataDir, "data-dir", "", "Data directory (overrides DATA_DIR)")
	flags.StringVar(&overrides.InboxDir, "inbox-dir", "", "Drop folder to transcribe from (overrides INBOX_DIR)")

	rootCmd.AddCommand(newServeCommand(&overrides))
	rootCmd.AddCommand(newHashCommand())
	rootCmd.AddCommand(newRenderCommand())

	return rootCmd
}

// newLogger writes human-readable output on a terminal and JSON lines
// everywhere else.
func newLogger(out *os.File, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var w io.Writer = out
	if isTerminal(out) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
