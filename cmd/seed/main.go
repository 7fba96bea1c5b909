// Command seed bootstraps a PEARL database with an admin account and a small
// set of sample data for local development. Running it against an existing
// database is safe: records that already exist are left untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pearl-rdm/pearl/internal/auth"
	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

type seedOptions struct {
	dbDriver      string
	dbDSN         string
	adminEmail    string
	adminPassword string
	withSamples   bool
}

func main() {
	opts := &seedOptions{}

	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the PEARL database with an admin user and sample data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.dbDriver, "db-driver", envOrDefault("PEARL_DB_DRIVER", "sqlite"), "database driver (sqlite or postgres)")
	flags.StringVar(&opts.dbDSN, "db-dsn", envOrDefault("PEARL_DB_DSN", "pearl.db"), "database DSN")
	flags.StringVar(&opts.adminEmail, "admin-email", envOrDefault("PEARL_ADMIN_EMAIL", "admin@example.com"), "admin account email")
	flags.StringVar(&opts.adminPassword, "admin-password", envOrDefault("PEARL_ADMIN_PASSWORD", ""), "admin account password (required)")
	flags.BoolVar(&opts.withSamples, "samples", true, "create sample studies, packages and trackers")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *seedOptions) error {
	if opts.adminPassword == "" {
		return errors.New("admin password is required (--admin-password or PEARL_ADMIN_PASSWORD)")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.New(db.Config{
		Driver:   opts.dbDriver,
		DSN:      opts.dbDSN,
		Logger:   logger,
		LogLevel: gormlogger.Warn,
	})
	if err != nil {
		return err
	}

	users := repositories.NewUserRepository(database)

	if _, err := users.GetByEmail(ctx, opts.adminEmail); err == nil {
		logger.Info("admin user already exists, skipping", zap.String("email", opts.adminEmail))
	} else if errors.Is(err, repositories.ErrNotFound) {
		hash, err := auth.HashPassword(opts.adminPassword)
		if err != nil {
			return err
		}
		admin := &db.User{
			Email:        opts.adminEmail,
			PasswordHash: hash,
			DisplayName:  "Administrator",
			Role:         "admin",
			IsActive:     true,
		}
		if err := users.Create(ctx, admin); err != nil {
			return fmt.Errorf("creating admin user: %w", err)
		}
		logger.Info("admin user created", zap.String("email", opts.adminEmail))
	} else {
		return err
	}

	if opts.withSamples {
		if err := seedSamples(ctx, database, logger); err != nil {
			return err
		}
	}

	logger.Info("seed complete")
	return nil
}

// seedSamples creates one sample study with a package, items and trackers.
// Events are not broadcast — no server is running while seeding.
func seedSamples(ctx context.Context, database *gorm.DB, logger *zap.Logger) error {
	studies := repositories.NewStudyRepository(database)
	packages := repositories.NewPackageRepository(database)
	items := repositories.NewPackageItemRepository(database)
	trackers := repositories.NewTrackerRepository(database)

	const sampleCode = "ONC-2026-001"
	if _, err := studies.GetByCode(ctx, sampleCode); err == nil {
		logger.Info("sample study already exists, skipping", zap.String("code", sampleCode))
		return nil
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return err
	}

	study := &db.Study{
		Code:        sampleCode,
		Title:       "28-Day Repeat Dose Toxicity Study in Rats",
		Phase:       "nonclinical",
		Species:     "rat",
		Status:      "active",
		Description: "Sample study created by the seed command.",
	}
	if err := studies.Create(ctx, study); err != nil {
		return fmt.Errorf("creating sample study: %w", err)
	}

	pkg := &db.Package{
		StudyID:  study.ID,
		Name:     "SEND 3.1 Submission Package",
		Standard: "SEND",
		Status:   "draft",
	}
	if err := packages.Create(ctx, pkg); err != nil {
		return fmt.Errorf("creating sample package: %w", err)
	}

	for i, domain := range []string{"DM", "EX", "LB", "BW"} {
		item := &db.PackageItem{
			PackageID:  pkg.ID,
			Name:       domain + " dataset",
			DomainCode: domain,
			Status:     "pending",
			SortOrder:  i,
		}
		if err := items.Create(ctx, item); err != nil {
			return fmt.Errorf("creating sample package item: %w", err)
		}
	}

	due := time.Now().AddDate(0, 1, 0)
	tracker := &db.ReportingEffortTracker{
		StudyID: study.ID,
		Effort:  "Final Report",
		Item:    "Pathology peer review",
		Status:  "open",
		DueDate: &due,
	}
	if err := trackers.Create(ctx, tracker); err != nil {
		return fmt.Errorf("creating sample tracker: %w", err)
	}

	logger.Info("sample data created", zap.String("study", study.Code))
	return nil
}

// envOrDefault returns the environment variable's value if set, otherwise def.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
