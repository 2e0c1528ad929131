package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/breachrange/internal/app"
	"github.com/charlesng35/breachrange/internal/breach"
	"github.com/charlesng35/breachrange/pkg/crypto"
	"github.com/charlesng35/breachrange/pkg/logger"
)

type rootFlags struct {
	config string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := new(rootFlags)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the breach range HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
		SilenceUsage: true,
	}

	root := &cobra.Command{
		Use:           "breachrange",
		Short:         "k-anonymity breached password range service",
		Args:          cobra.NoArgs,
		RunE:          serveCmd.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "Path to configuration directory or file")

	root.AddCommand(
		serveCmd,
		newLookupCommand(flags),
		newCheckCommand(flags),
		newPruneCommand(flags),
	)
	return root
}

func newLookupCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup PREFIX",
		Short: "Resolve one 5-character hash prefix and print the range as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd.Context(), flags, func(ctx context.Context, stack *runtimeStack) error {
				result, err := stack.Resolver.Lookup(ctx, args[0])
				if err != nil {
					return err
				}
				records := result.Records
				if records == nil {
					records = breach.RangeResult{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"prefix":    result.Prefix,
					"results":   records,
					"cache_hit": result.CacheHit,
					"stale":     result.Stale,
				})
			})
		},
		SilenceUsage: true,
	}
}

func newCheckCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [PASSWORD|-]",
		Short: "Check a password against the breach corpus. Reads stdin when the argument is - or absent.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			prefix, suffix := crypto.RangeHash(secret)

			return withCore(cmd.Context(), flags, func(ctx context.Context, stack *runtimeStack) error {
				result, err := stack.Resolver.Lookup(ctx, prefix)
				if err != nil {
					return err
				}
				pwned, count := breach.MatchSuffix(result.Records, suffix)
				return writeJSON(cmd.OutOrStdout(), map[string]any{"pwned": pwned, "count": count})
			})
		},
		SilenceUsage: true,
	}
}

func newPruneCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete cache entries past their stale-retention window.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd.Context(), flags, func(ctx context.Context, stack *runtimeStack) error {
				if !stack.Cleaner.Enabled() {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to prune for this cache backend")
					return nil
				}
				return stack.Cleaner.RunOnce(ctx)
			})
		},
		SilenceUsage: true,
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}
	defer logger.Sync() // best effort

	stack, err := bootstrapRuntime(cfg, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr), zap.String("cache_backend", cfg.Cache.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		_ = stack.Shutdown(context.Background(), log)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = stack.Shutdown(shutdownCtx, log)
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	_ = stack.Shutdown(shutdownCtx, log)

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

// withCore runs fn against the resolver stack and releases it afterwards.
func withCore(ctx context.Context, flags *rootFlags, fn func(context.Context, *runtimeStack) error) error {
	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}
	defer logger.Sync() // best effort

	stack, err := buildCore(cfg, log)
	if err != nil {
		return err
	}

	runErr := fn(ctx, stack)
	return multierr.Combine(runErr, stack.Shutdown(context.Background(), log))
}

func setup(flags *rootFlags) (*app.Config, *zap.Logger, error) {
	cfg, err := loadApplicationConfig(flags.config)
	if err != nil {
		return nil, nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := app.ConfigureLogging(cfg.Server); err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Info("applied runtime default", zap.String("key", key))
	}
	return cfg, log, nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return app.LoadConfig(path)
	case err == nil:
		return app.LoadConfigFile(path)
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	default:
		return nil, fmt.Errorf("stat config path %s: %w", filepath.Clean(path), err)
	}
}

func readSecret(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password must not be empty")
	}
	return line, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
