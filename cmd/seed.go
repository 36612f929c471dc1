package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type SeedOptions struct {
	AdminName     string
	AdminEmail    string
	AdminPassword string
	Categories    []string
}

// SeedReport counts what a seed run created.
type SeedReport struct {
	Admin      bool `json:"admin_created"`
	Settings   int  `json:"settings_created"`
	Categories int  `json:"categories_created"`
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := SeedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the admin account, default settings and categories",
		Long: `Create the admin account, default settings and categories.

Records that already exist are left as they are, so seed can run on every
deploy.` + lockNote,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			report, err := seed(cmd.Context(), e.tables, opts, e.log)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&opts.AdminName, "admin-name", "Administrator", "admin display name")
	cmd.Flags().StringVar(&opts.AdminEmail, "admin-email", "admin@example.com", "admin email")
	cmd.Flags().StringVar(&opts.AdminPassword, "admin-password", "", "admin password (required to create the admin)")
	cmd.Flags().StringSliceVar(&opts.Categories, "categories",
		[]string{"Home Cleaning", "Plumbing", "Electrical", "Tutoring"}, "categories to create")
	return cmd
}

func seed(ctx context.Context, tables *models.Tables, opts SeedOptions, log *zap.Logger) (SeedReport, error) {
	var report SeedReport
	now := time.Now().UTC()

	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	_, exists, err := tables.Users.FirstBy(ctx, "email", email)
	if err != nil {
		return report, err
	}
	switch {
	case exists:
		log.Info("admin already present", zap.String("email", email))
	case opts.AdminPassword == "":
		log.Warn("no admin password given, admin not created")
	default:
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return report, fmt.Errorf("hash admin password: %w", err)
		}
		if _, err := tables.Users.Insert(ctx, models.User{
			Name:          opts.AdminName,
			Email:         email,
			PasswordHash:  string(hash),
			Role:          models.RoleAdmin,
			Status:        models.UserActive,
			EmailVerified: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return report, err
		}
		report.Admin = true
	}

	defaults := []models.PlatformSetting{
		{SettingKey: models.SettingPlatformFee, SettingValue: fmt.Sprint(models.DefaultPlatformFee), Description: "Platform fee percentage charged on each booking"},
		{SettingKey: models.SettingPaymentMethods, SettingValue: models.DefaultPaymentMethods, Description: "Accepted payment methods"},
	}
	for _, s := range defaults {
		s.UpdatedAt = now
		_, err := tables.Settings.Insert(ctx, s)
		switch {
		case errors.Is(err, apperrors.ErrDuplicateValue):
		case err != nil:
			return report, err
		default:
			report.Settings++
		}
	}

	for i, name := range opts.Categories {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		_, err := tables.Categories.Insert(ctx, models.ServiceCategory{
			CategoryName: name,
			IsActive:     true,
			DisplayOrder: i + 1,
			CreatedAt:    now,
		})
		switch {
		case errors.Is(err, apperrors.ErrDuplicateValue):
		case err != nil:
			return report, err
		default:
			report.Categories++
		}
	}
	log.Info("seed finished",
		zap.Bool("admin", report.Admin), zap.Int("settings", report.Settings), zap.Int("categories", report.Categories))
	return report, nil
}
