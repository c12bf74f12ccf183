package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	exitOK         = 0
	exitSinkFailed = 1
	exitUsage      = 2
)

// usageError marks command line mistakes, which exit like configuration errors.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// cliOptions holds the flags that are not configuration keys.
type cliOptions struct {
	configFile           string
	logFormat            string
	verbose              bool
	observabilityEnabled bool
}

// execute runs the root command and maps its outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	_, _ = fmt.Fprintln(stderr, "Error:", err)

	return exitCode(err)
}

func exitCode(err error) int {
	var usage usageError

	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage), errors.Is(err, xapiload.ErrInvalidConfiguration):
		return exitUsage
	default:
		return exitSinkFailed
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{}
	overrides := &xapiload.Config{}

	cmd := &cobra.Command{
		Use:   "xapi-db-load [config_file]",
		Short: "Generate synthetic xAPI learning data and load it into a database.",
		Long: `xapi-db-load builds a deterministic corpus of organizations, courses, blocks, tags and
learners from a YAML configuration, then streams enrollments, profile changes and random learner
activity into the configured backend using a pool of parallel workers.

Backends: clickhouse, chdb (staged through S3), csv, ralph, mongo, postgres and citus.

Flags override the matching keys of the configuration file.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 1 {
				return usageError{fmt.Errorf("accepts at most one config file, received %d arguments", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if opts.configFile != "" && opts.configFile != args[0] {
					return usageError{errors.New("config file given both as argument and as --config_file")}
				}
				opts.configFile = args[0]
			}

			cfg, err := loadConfig(cmd, opts.configFile, overrides)
			if err != nil {
				return err
			}

			return runLoad(cmd.Context(), cfg, *opts, stdout, stderr)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config_file", "", "path to the YAML configuration file")
	flags.StringVar(&opts.logFormat, "log_format", logFormatText, "log output format: text or json")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every written batch")
	flags.BoolVar(&opts.observabilityEnabled, "observability_enabled", false,
		"record OpenTelemetry metrics and spans, correlate log records with spans and print a metrics summary")

	flags.StringVar(&overrides.Backend, "backend", "", "backend to load: clickhouse, chdb, csv, ralph, mongo, postgres or citus")
	flags.IntVar(&overrides.NumWorkers, "num_workers", 0, "number of parallel batch writers")
	flags.IntVar(&overrides.NumXAPIBatches, "num_xapi_batches", 0, "number of batches of random events")
	flags.IntVar(&overrides.BatchSize, "batch_size", 0, "rows per batch, num_xapi_batches * batch_size is the number of events")
	flags.BoolVar(&overrides.DropTablesFirst, "drop_tables_first", false, "drop the target tables before creating them")
	flags.BoolVar(&overrides.DistributionsOnly, "distributions_only", false, "only run the distribution queries")
	flags.BoolVar(&overrides.LoadDBOnly, "load_db_only", false, "only load previously staged artifacts")
	flags.StringVar(&overrides.DBPassword, "db_password", "", "database password, so it need not be stored on disk")
	flags.StringVar(&overrides.LogDir, "log_dir", "", "directory for the timing log, stderr when empty")
	flags.Uint64Var(&overrides.Seed, "seed", 0, "seed of the deterministic generator")

	return cmd
}

// loadConfig reads the configuration file, or the defaults when none is given, and applies every
// flag the user set explicitly.
func loadConfig(cmd *cobra.Command, path string, overrides *xapiload.Config) (xapiload.Config, error) {
	cfg := xapiload.DefaultConfig()
	if path != "" {
		loaded, err := xapiload.LoadConfig(path)
		if err != nil {
			return cfg, usageError{err}
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	apply := map[string]func(){
		"backend":            func() { cfg.Backend = overrides.Backend },
		"num_workers":        func() { cfg.NumWorkers = overrides.NumWorkers },
		"num_xapi_batches":   func() { cfg.NumXAPIBatches = overrides.NumXAPIBatches },
		"batch_size":         func() { cfg.BatchSize = overrides.BatchSize },
		"drop_tables_first":  func() { cfg.DropTablesFirst = overrides.DropTablesFirst },
		"distributions_only": func() { cfg.DistributionsOnly = overrides.DistributionsOnly },
		"load_db_only":       func() { cfg.LoadDBOnly = overrides.LoadDBOnly },
		"db_password":        func() { cfg.DBPassword = overrides.DBPassword },
		"log_dir":            func() { cfg.LogDir = overrides.LogDir },
		"seed":               func() { cfg.Seed = overrides.Seed },
	}
	for name, set := range apply {
		if flags.Changed(name) {
			set()
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
