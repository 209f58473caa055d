package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/middleware"
)

const commandTimeout = 5 * time.Minute

// Operator is the part of the billing service the admin CLI drives.
type Operator interface {
	RetryMany(ctx context.Context, ids []uint) (map[uint]billing.RetryOutcome, error)
	RetryFailed(ctx context.Context, provider string, limit int) (int, error)
	RecoverStale(ctx context.Context) (billing.RecoveryReport, error)
}

// Deps are resolved lazily so that commands like hash-token run without a
// database.
type Deps struct {
	Operator Operator
	Events   repository.WebhookEventRepository
	Settings repository.SettingRepository
}

type DepsFunc func() (*Deps, error)

// NewRootCommand builds the billingctl command tree.
func NewRootCommand(deps DepsFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the billing webhook pipeline",
		Long:          `billingctl operates the stored webhook events and the tunables of the processing pipeline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newEventsCommand(deps),
		newRetryCommand(deps),
		newRetryFailedCommand(deps),
		newRecoverStaleCommand(deps),
		newSettingsCommand(deps),
		newHashTokenCommand(),
	)
	return root
}

func newEventsCommand(deps DepsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect stored webhook events",
	}

	var filter repository.WebhookEventFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List webhook events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := deps()
			if err != nil {
				return err
			}
			events, total, err := d.Events.List(filter)
			if err != nil {
				return fmt.Errorf("list webhook events: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tEVENT ID\tTYPE\tSTATUS\tATTEMPTS\tUPDATED\tERROR")
			for _, ev := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					ev.ID, ev.Provider, ev.EventID, ev.Type, ev.Status, ev.Attempts,
					ev.UpdatedAt.UTC().Format(time.RFC3339), truncate(ev.Error(), 60))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			page := filter.Page.Normalize()
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d events (page %d)\n", len(events), total, page.Page)
			return nil
		},
	}
	list.Flags().StringVar(&filter.Status, "status", "", "Filter by status (received, processing, processed, failed)")
	list.Flags().StringVar(&filter.Provider, "provider", "", "Filter by provider slug")
	list.Flags().StringVar(&filter.Type, "type", "", "Filter by event type")
	list.Flags().IntVar(&filter.Page.Page, "page", 1, "Page number")
	list.Flags().IntVar(&filter.Page.PerPage, "per-page", repository.DefaultPerPage, "Events per page")

	cmd.AddCommand(list)
	return cmd
}

func newRetryCommand(deps DepsFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id> [id...]",
		Short: "Reset webhook events and put them back on the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			d, err := deps()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			outcomes, err := d.Operator.RetryMany(ctx, ids)
			printOutcomes(cmd, outcomes)
			return err
		},
	}
}

func newRetryFailedCommand(deps DepsFunc) *cobra.Command {
	var provider string
	var limit int
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Retry every failed webhook event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := deps()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			requeued, err := d.Operator.RetryFailed(ctx, strings.ToLower(strings.TrimSpace(provider)), limit)
			fmt.Fprintf(cmd.OutOrStdout(), "%d failed events re-enqueued\n", requeued)
			return err
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Only retry events of this provider")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events to retry (0 = all)")
	return cmd
}

func newRecoverStaleCommand(deps DepsFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "recover-stale",
		Short: "Run one stale event recovery sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := deps()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			report, err := d.Operator.RecoverStale(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "stale processing: %d, stale received: %d, enqueue failures: %d\n",
				report.StaleProcessing, report.StaleReceived, report.EnqueueFailures)
			return err
		},
	}
}

func newSettingsCommand(deps DepsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the pipeline tunables",
	}

	show := &cobra.Command{
		Use:   "list",
		Short: "Print every tunable with its current value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := deps()
			if err != nil {
				return err
			}
			settings, err := d.Settings.Current()
			if err != nil {
				return err
			}
			return printSettings(cmd, settings)
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one tunable",
		Long:  `Values are validated as a whole set; running workers pick the change up on restart.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("invalid value %q for %s", args[1], args[0])
			}
			d, err := deps()
			if err != nil {
				return err
			}
			settings, err := d.Settings.Update(strings.TrimSpace(args[0]), value)
			if err != nil {
				return err
			}
			return printSettings(cmd, settings)
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore the default tunables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := deps()
			if err != nil {
				return err
			}
			settings, err := d.Settings.Reset()
			if err != nil {
				return err
			}
			return printSettings(cmd, settings)
		},
	}

	cmd.AddCommand(show, set, reset)
	return cmd
}

func printSettings(cmd *cobra.Command, settings *models.AppSettings) error {
	values := settings.Values()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, key := range models.SettingKeys() {
		fmt.Fprintf(w, "%s\t%d\n", key, values[key])
	}
	return w.Flush()
}

func newHashTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use as ADMIN_API_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := middleware.HashAdminToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func parseIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid webhook event id %q", arg)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

func printOutcomes(cmd *cobra.Command, outcomes map[uint]billing.RetryOutcome) {
	ids := make([]uint, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, outcomes[id])
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
