package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"example.com/teamdash/internal/bootstrap"
	"example.com/teamdash/internal/config"
	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/platform/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	driver     string
	sqlitePath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "teamdashctl",
		Short:         "Import team activity snapshots and inspect the dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.driver, "store", "", "store driver: postgres|sqlite|memory (default from STORE_DRIVER)")
	root.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite-path", "", "sqlite database file (default from SQLITE_PATH)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log import lifecycle to stderr")

	root.AddCommand(newImportCmd(opts))
	root.AddCommand(newPublishCmd())
	root.AddCommand(newRestoreCmd(opts))
	root.AddCommand(newDeleteImportCmd(opts))
	root.AddCommand(newDeleteMemberCmd(opts))
	root.AddCommand(newMembersCmd(opts))
	root.AddCommand(newImportsCmd(opts))
	root.AddCommand(newStatsCmd(opts))
	root.AddCommand(newLeaderboardCmd(opts))
	root.AddCommand(newPipelineCmd(opts))
	root.AddCommand(newContactsCmd(opts))
	root.AddCommand(newWeeklyCmd(opts))
	root.AddCommand(newProgressCmd(opts))
	return root
}

type app struct {
	svc   *domain.Service
	store *bootstrap.Store
	log   *logger.Logger
}

func (a *app) Close() {
	a.store.Close()
	a.log.Sync()
}

func loadApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg := config.Load()
	if opts.driver != "" {
		cfg.StoreDriver = opts.driver
	}
	if opts.sqlitePath != "" {
		cfg.SQLitePath = opts.sqlitePath
	}

	log := logger.NewNop()
	if opts.verbose {
		var err error
		if log, err = logger.New(cfg.LogMode); err != nil {
			return nil, err
		}
	}

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &app{svc: domain.NewService(store.Repo, domain.WithLogger(log)), store: store, log: log}, nil
}

// withApp opens the store for the duration of one command.
func withApp(opts *rootOptions, run func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := loadApp(ctx, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(ctx, cmd, a, args)
	}
}
