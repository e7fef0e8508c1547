// Package cli implements the watchledger administrative commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/store"
)

// StoreOpener opens the store named by cfg.
type StoreOpener func(ctx context.Context, cfg *Config) (store.Store, error)

type app struct {
	configPath string
	jsonOutput bool
	out        io.Writer
	errOut     io.Writer
	openStore  StoreOpener

	cfg    *Config
	logger *slog.Logger
	store  store.Store
	engine *watchledger.Engine
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. A nil opener uses OpenStore.
func NewRootCommand(opener StoreOpener) *cobra.Command {
	if opener == nil {
		opener = OpenStore
	}
	a := &app{out: os.Stdout, errOut: os.Stderr, openStore: opener}

	root := &cobra.Command{
		Use:   "watchledger",
		Short: "watchledger - watch-time token ledger administration",
		Long: `watchledger inspects and repairs a watch-time token ledger: per-user
statistics, retroactive reconciliation, video token pools and the
catalog used to estimate historical watch-time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("WATCHLEDGER_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		a.migrateCommand(),
		a.statsCommand(),
		a.spendCommand(),
		a.reconcileCommand(),
		a.reconcileAllCommand(),
		a.resetGrantCommand(),
		a.poolCommand(),
		a.catalogCommand(),
		a.historyCommand(),
	)
	return root
}

// runE opens the configured store around fn and closes it afterwards.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := a.setup(cmd); err != nil {
			return err
		}
		defer func() {
			if cerr := a.teardown(); cerr != nil && err == nil {
				err = fmt.Errorf("close store: %w", cerr)
			}
		}()
		return fn(cmd, args)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()

	cfg, errs := LoadConfig(a.configPath)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	s, err := a.openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	a.store = s
	a.engine = watchledger.New(s,
		watchledger.WithLogger(a.logger),
		watchledger.WithRetry(uint(cfg.MaxAttempts), 0, 0),
		watchledger.WithReconcileDelay(cfg.ReconcileDelay),
		watchledger.WithRetroactiveWatchPercent(int64(cfg.RetroactiveWatchPercent)),
	)
	a.logger.Debug("watchledger cli configured", "config", cfg.LogSummary())
	return nil
}

func (a *app) teardown() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// print writes v as JSON when --json is set, otherwise calls text.
func (a *app) print(v any, text func(w io.Writer)) error {
	if a.jsonOutput {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
