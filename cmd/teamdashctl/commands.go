package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"example.com/teamdash/internal/config"
	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/outbox"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var member, key string

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import snapshot files; each becomes its owner's current import",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if key != "" && len(args) > 1 {
				return errors.New("--idempotency-key applies to a single file")
			}
			var failed int
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				importOpts := domain.ImportOptions{Source: filepath.Base(path), IdempotencyKey: key}

				var result *domain.ImportResult
				if member != "" {
					result, err = a.svc.ImportSnapshot(ctx, member, raw, importOpts)
				} else {
					result, err = a.svc.ImportFile(ctx, raw, importOpts)
				}
				if errors.Is(err, domain.ErrMalformedSnapshot) {
					// Keep going so one bad file does not block the rest of the batch.
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %v\n", err)
					failed++
					continue
				}
				if err != nil {
					return err
				}
				printImportResult(cmd.OutOrStdout(), result)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files rejected", failed, len(args))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&member, "member", "", "import for this member id instead of the owner named in the file")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "replay the earlier import made with this key instead of importing again")
	return cmd
}

func newPublishCmd() *cobra.Command {
	var brokers []string
	var topic string

	cmd := &cobra.Command{
		Use:   "publish <file>...",
		Short: "Send snapshot files to the upload topic for the import consumer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if len(brokers) == 0 {
				brokers = cfg.KafkaBrokers
			}
			if topic == "" {
				topic = cfg.UploadTopic
			}

			producer := outbox.NewKafkaProducer(brokers)
			defer producer.Close()

			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				name := filepath.Base(path)
				if err := producer.PublishSnapshot(cmd.Context(), topic, name, raw); err != nil {
					return fmt.Errorf("publish %s: %w", name, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", name, topic)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "kafka brokers (default from KAFKA_BROKERS)")
	cmd.Flags().StringVar(&topic, "topic", "", "upload topic (default from UPLOAD_TOPIC)")
	return cmd
}

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <import-id>",
		Short: "Make a past import current again",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			result, err := a.svc.RestoreImport(ctx, args[0])
			if err != nil {
				return err
			}
			printImportResult(cmd.OutOrStdout(), result)
			return nil
		}),
	}
}

func newDeleteImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-import <import-id>",
		Short: "Delete an import and its rows",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if err := a.svc.DeleteImport(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted import %s\n", args[0])
			return nil
		}),
	}
}

func newDeleteMemberCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-member <member-id>",
		Short: "Delete a member's history and hide the member",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if err := a.svc.DeleteTeamMember(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted member %s\n", args[0])
			return nil
		}),
	}
}

func newMembersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List active team members",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			members, err := a.svc.ListTeamMembers(ctx)
			if err != nil {
				return err
			}
			printMembers(cmd.OutOrStdout(), members)
			return nil
		}),
	}
}

func newImportsCmd(opts *rootOptions) *cobra.Command {
	var member string
	var currentOnly bool

	cmd := &cobra.Command{
		Use:   "imports",
		Short: "List import history, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			var (
				imports []domain.Import
				err     error
			)
			if currentOnly {
				imports, err = a.svc.ListCurrentImports(ctx)
			} else {
				imports, err = a.svc.ListImports(ctx, member)
			}
			if err != nil {
				return err
			}
			printImports(cmd.OutOrStdout(), imports)
			return nil
		}),
	}
	cmd.Flags().StringVar(&member, "member", "", "only this member id")
	cmd.Flags().BoolVar(&currentOnly, "current", false, "only current imports")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show team totals over current imports",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			stats, err := a.svc.GetTeamStats(ctx)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		}),
	}
}

func newLeaderboardCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank members by current activity",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			entries, err := a.svc.Leaderboard(ctx)
			if err != nil {
				return err
			}
			printLeaderboard(cmd.OutOrStdout(), entries)
			return nil
		}),
	}
}

func newPipelineCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Summarize prospects per stage",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			stages, err := a.svc.PipelineSummary(ctx)
			if err != nil {
				return err
			}
			printPipeline(cmd.OutOrStdout(), stages)
			return nil
		}),
	}
}

func newContactsCmd(opts *rootOptions) *cobra.Command {
	var query string
	var duplicates bool

	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Search prospects and flag duplicate companies",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			contacts, err := a.svc.Contacts(ctx, query, duplicates)
			if err != nil {
				return err
			}
			printContacts(cmd.OutOrStdout(), contacts)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive match on company, contact, email or phone")
	cmd.Flags().BoolVar(&duplicates, "duplicates", false, "only duplicated companies")
	return cmd
}

func newWeeklyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "weekly",
		Short: "Show activity totals per week",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			weeks, err := a.svc.WeeklyTotals(ctx)
			if err != nil {
				return err
			}
			printWeekly(cmd.OutOrStdout(), weeks)
			return nil
		}),
	}
}

func newProgressCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <member-id>",
		Short: "Compare a member's current counts with its targets",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			progress, err := a.svc.MemberProgress(ctx, args[0])
			if err != nil {
				return err
			}
			printProgress(cmd.OutOrStdout(), progress)
			return nil
		}),
	}
}
