package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/InflationLens/internal/domain/cpi"
	"github.com/GriffinCanCode/InflationLens/internal/domain/inflation"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/logging"
	"github.com/GriffinCanCode/InflationLens/internal/shared/digest"
)

// app carries the global flags and lazily built collaborators shared by
// every subcommand.
type app struct {
	verbose   bool
	cpiSource string
	cpiFormat string
	timeout   time.Duration

	now     func() time.Time
	logger  *zap.Logger
	fetcher *fetch.Client
	calc    *inflation.Calculator
	// digests is set in watch mode to skip saves that leave content unchanged.
	digests *digest.Tracker
}

func newRootCmd() *cobra.Command {
	a := &app{now: time.Now, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "lens",
		Short: "Inflation Lens - read old prices in today's dollars",
		Long: `lens finds dollar amounts in HTML and annotates each one with its
value adjusted to the latest CPI year.

The publication year is detected from meta tags, JSON-LD or the URL unless
--year is given. CPI data is embedded; --cpi points at a replacement
dataset file or URL (json, yaml or toml, optionally gzipped).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.CLIConfig(a.verbose))
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	flags.StringVar(&a.cpiSource, "cpi", "embedded", "CPI dataset: embedded, a file path or an http(s) URL")
	flags.StringVar(&a.cpiFormat, "cpi-format", "", "CPI dataset format (json, yaml, toml); detected when empty")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "Timeout for remote fetches")

	root.AddCommand(
		newAnnotateCmd(a),
		newConvertCmd(a),
		newScanCmd(a),
		newBoundsCmd(a),
	)
	return root
}

// client returns the shared fetch client.
func (a *app) client() *fetch.Client {
	if a.fetcher == nil {
		opts := fetch.DefaultOptions()
		opts.Timeout = a.timeout
		opts.Logger = a.logger.Named("fetch")
		a.fetcher = fetch.New(opts)
	}
	return a.fetcher
}

// source resolves the --cpi flags.
func (a *app) source() (cpi.Source, error) {
	format, err := cpi.ParseFormat(a.cpiFormat)
	if err != nil {
		return nil, err
	}
	return cpi.ParseSource(a.cpiSource, format, a.client()), nil
}

// calculator loads the CPI table once. Unlike the server, the CLI treats
// missing data as fatal since every command needs it.
func (a *app) calculator(ctx context.Context) (*inflation.Calculator, error) {
	if a.calc != nil {
		return a.calc, nil
	}
	src, err := a.source()
	if err != nil {
		return nil, err
	}
	table, err := cpi.NewLoader(src, a.logger.Named("cpi")).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load CPI data from %s: %w", src, err)
	}
	a.calc = inflation.New(table).WithClock(a.now)
	return a.calc, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
