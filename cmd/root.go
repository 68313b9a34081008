// Package cmd defines the crawlgrep command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgrep/internal/app"
	"github.com/JakeFAU/crawlgrep/internal/config"
	"github.com/JakeFAU/crawlgrep/internal/logging"
	"github.com/JakeFAU/crawlgrep/internal/results"
)

// newRootCmd creates the crawlgrep command. Results go to the command's
// stdout; logs and errors go to stderr.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "crawlgrep [flags] <url> <word> [word...]",
		Short: "Fetch a URL with a pool of workers and report pages containing a phrase.",
		Long: `crawlgrep seeds a shared frontier with <url>, fetches it with a pool of
workers and prints every URL whose visible text contains the words, joined
by single spaces, as one literal phrase.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), cmd.OutOrStdout(), cfgFile, cmd, args)
		},
	}

	flags := cmd.Flags()
	// Flags must precede <url> so expression words like "-O2" stay literal.
	flags.SetInterspersed(false)
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.Int("workers", 8, "number of workers")
	flags.Int("queue-capacity", 16384, "frontier capacity")
	flags.String("engine", config.EngineHTTP, "fetch engine: http, colly, headless or auto")
	flags.Bool("stop-on-first-match", false, "stop all workers after the first match")
	flags.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	flags.Bool("dev-logs", false, "human-readable debug logging")

	return cmd
}

func run(ctx context.Context, out io.Writer, cfgFile string, cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() {
		if syncErr := logging.Sync(logger); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	if addr := a.MetricsAddr(); addr != "" {
		logger.Info("serving metrics", zap.String("url", "http://"+addr+"/metrics"))
	}

	list, err := a.Search(ctx, args[0], strings.Join(args[1:], " "))
	if list != nil {
		if perr := printResults(out, list); perr != nil && err == nil {
			err = perr
		}
		list.Destroy(nil)
	}
	return err
}

// printResults writes each match as "\n<ordinal>: <url>\n", 1-based.
func printResults(out io.Writer, list *results.List[string]) error {
	var werr error
	err := list.ForEach(func(i int, url string) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(out, "\n%d: %s\n", i+1, url)
	})
	if err != nil {
		return err
	}
	return werr
}

// Execute runs the root command and exits 1 on any error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
