package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store schema and every collection",
		Long: `Create the store schema and every collection.

The postgres backend gets its table through gorm's AutoMigrate. Every
collection is then written once so that empty ones exist on disk.` + lockNote,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			names, err := migrate(cmd.Context(), e.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d collections ready\n", len(names))
			return nil
		},
	}
}

// migrate writes every known collection back unchanged.
func migrate(ctx context.Context, store *db.Store) ([]string, error) {
	names := make([]string, 0, len(models.Schema))
	for name := range models.Schema {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := store.Mutate(ctx, name, func(*db.Collection) error { return nil }); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return names, nil
}

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Finish booking operations that were interrupted",
		Long: `Finish booking operations that were interrupted.

Every pending operation in the operation log is run to completion or marked
failed, exactly as a running server does on startup.` + lockNote,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			report, err := manager(e).Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report bookings, payments and references that are inconsistent",
		Long: `Report bookings, payments and references that are inconsistent.

The command exits non-zero when anything is found.` + lockNote,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			found, err := manager(e).Anomalies(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), found); err != nil {
				return err
			}
			if len(found) > 0 {
				return fmt.Errorf("%d anomalies found", len(found))
			}
			return nil
		},
	}
}

// manager builds a lifecycle manager whose notifications only go to the
// store; maintenance runs do not send email or events.
func manager(e *env) *lifecycle.Manager {
	e.log.Debug("maintenance manager", zap.String("driver", e.cfg.Store.Driver))
	return lifecycle.NewManager(e.tables, notify.NewDispatcher(e.tables, e.log), e.log)
}
