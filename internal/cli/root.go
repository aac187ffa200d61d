// Package cli implements the sai command line.
package cli

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/sai/internal/config"
	"github.com/PipeOpsHQ/sai/llm"
	providerfactory "github.com/PipeOpsHQ/sai/providers/factory"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

type rootOptions struct {
	configPath   string
	envFile      string
	logLevel     string
	model        string
	sessionID    string
	stateBackend string
	trace        bool
}

// deps are the seams tests replace.
type deps struct {
	newProvider func(ctx context.Context, cfg config.Config) (llm.Provider, error)
	logOutput   io.Writer
}

func defaultDeps() deps {
	return deps{
		newProvider: providerfactory.FromConfig,
		logOutput:   zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly},
	}
}

func Execute(ctx context.Context) error {
	return newRootCmd(defaultDeps()).ExecuteContext(ctx)
}

func newRootCmd(d deps) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "sai",
		Short:         "Sai: a Gemini chat assistant with local tools and prompt chains",
		Long:          "sai talks to Google Gemini with a rolling conversation memory, answers arithmetic, date and random-number requests locally, and runs multi-step prompt chains.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "session profile file (yaml, json or toml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.model, "model", "", "Gemini model name")
	flags.StringVar(&opts.sessionID, "session-id", "", "session id used for saved settings and chain runs")
	flags.StringVar(&opts.stateBackend, "state-backend", "", "state backend: none, memory, sqlite, redis or hybrid")
	flags.BoolVar(&opts.trace, "trace", false, "log OpenTelemetry spans for every session event")

	rootCmd.AddCommand(
		newVersionCmd(),
		newChatCmd(opts, d),
		newAskCmd(opts, d),
		newChainCmd(opts, d),
		newToolCmd(),
		newAnalyticsCmd(opts, d),
		newExportCmd(opts, d),
		newTemplatesCmd(opts, d),
		newServeCmd(opts, d),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), Version+"\n")
			return err
		},
	}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("app", "sai").Logger()
}
