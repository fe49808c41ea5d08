package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/timzifer/stringqueue/internal/alloc"
	"github.com/timzifer/stringqueue/internal/config"
	"github.com/timzifer/stringqueue/internal/harness"
	"github.com/timzifer/stringqueue/memcheck"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.WithContext(ctx).Fatal(err)
	}

	logger := newLogger(cfg)

	root := Command{Logger: logger}.Command(ctx, cfg)
	if err := root.Execute(); err != nil {
		logger.WithContext(ctx).Errorf("qtest : %v", err)
		cancel()
		os.Exit(1)
	}
}

// newLogger builds the logger for cfg.AppEnv: JSON for test runs, text with
// caller information while developing, plain text otherwise.
func newLogger(cfg *config.Config) *log.Logger {
	logger := log.New()
	logger.SetLevel(cfg.LogLevel)

	switch cfg.AppEnv {
	case config.TestEnv:
		logger.SetFormatter(&log.JSONFormatter{})
	case config.DevelopEnv:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		logger.SetReportCaller(true)
	}
	return logger
}

type Command struct {
	Logger *log.Logger
}

func (cmd Command) Command(ctx context.Context, cfg *config.Config) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "qtest",
		Short:         "Exercise a string queue from a command script",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if logLevel != "" {
				level, err := log.ParseLevel(logLevel)
				if err != nil {
					return errors.Wrap(err, "invalid log level")
				}
				cmd.Logger.SetLevel(level)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return cmd.main(ctx, cfg)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&cfg.Harness.Script, "file", "f", cfg.Harness.Script, "read commands from file instead of stdin")
	flags.IntVar(&cfg.Harness.FailPercent, "fail", cfg.Harness.FailPercent, "allocation failure percentage")
	flags.Uint64Var(&cfg.Harness.Seed, "seed", cfg.Harness.Seed, "seed for allocation failures")
	flags.IntVar(&cfg.Harness.BufferLength, "length", cfg.Harness.BufferLength, "buffer length used by remove head")
	flags.StringVar(&logLevel, "log-level", "", "log level (overrides QTEST_LOG_LEVEL)")

	return root
}

func (cmd Command) main(ctx context.Context, cfg *config.Config) error {
	var input io.Reader = os.Stdin
	if cfg.Harness.Script != "" {
		f, err := os.Open(cfg.Harness.Script)
		if err != nil {
			return errors.Wrap(err, "failed to open script")
		}
		defer f.Close()
		input = f
	}

	interp := harness.New(cmd.Logger, os.Stdout, cfg.Harness)
	errs, err := interp.Run(ctx, input)
	if err != nil {
		return err
	}

	logger := cmd.Logger.WithContext(ctx).WithField("errors", errs)
	for _, kind := range []alloc.Kind{alloc.KindQueue, alloc.KindNode, alloc.KindString} {
		stats := memcheck.ProcessStats(kind)
		logger.WithFields(log.Fields{
			"kind":     kind.String(),
			"allocs":   stats.Allocs,
			"releases": stats.Releases,
			"failures": stats.Failures,
		}).Debug("allocation totals")
	}
	if errs > 0 {
		return errors.Errorf("%d check(s) failed", errs)
	}
	logger.Info("all checks passed")
	return nil
}
