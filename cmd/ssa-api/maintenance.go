package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ssaucsd/ssaucsd-org/internal/config"
	"github.com/ssaucsd/ssaucsd-org/internal/legacy"
	"github.com/ssaucsd/ssaucsd-org/internal/logging"
	"github.com/ssaucsd/ssaucsd-org/internal/migrations"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"go.uber.org/zap"
)

type maintenanceRun struct {
	config  config.AppConfig
	logger  *zap.Logger
	service *migrations.Service
	close   func()
}

func newBackfillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-going-counts",
		Short: "Recompute every event's going count from its rsvps",
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := openMaintenance()
			if err != nil {
				return err
			}
			defer run.close()

			result, err := run.service.BackfillGoingCounts(cmd.Context(), run.config.MigrationSecret)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newImportSnapshotCommand() *cobra.Command {
	var (
		file          string
		clearExisting bool
	)
	cmd := &cobra.Command{
		Use:   "import-snapshot",
		Short: "Import a legacy snapshot document",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			snapshot, err := migrations.DecodeSnapshot(data)
			if err != nil {
				return err
			}

			run, err := openMaintenance()
			if err != nil {
				return err
			}
			defer run.close()
			return importAndReport(cmd.Context(), cmd.OutOrStdout(), run, snapshot, clearExisting)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the snapshot JSON document")
	cmd.Flags().BoolVar(&clearExisting, "clear-existing", false, "Empty every collection before importing")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newMigrateLegacyCommand() *cobra.Command {
	var (
		snapshotOut   string
		clearExisting bool
	)
	cmd := &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Read the legacy Postgres tables and import them",
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := openMaintenance()
			if err != nil {
				return err
			}
			defer run.close()

			if run.config.LegacyDatabaseURL == "" {
				return fmt.Errorf("legacy.database_url is required")
			}
			reader, err := legacy.Connect(cmd.Context(), run.config.LegacyDatabaseURL, run.logger)
			if err != nil {
				return err
			}
			defer reader.Close()

			snapshot, err := reader.ReadSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			if snapshotOut != "" {
				encoded, err := json.MarshalIndent(snapshot, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(snapshotOut, encoded, 0o600); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				run.logger.Info("snapshot saved", zap.String("path", snapshotOut))
			}
			return importAndReport(cmd.Context(), cmd.OutOrStdout(), run, snapshot, clearExisting)
		},
	}
	cmd.Flags().StringVar(&snapshotOut, "snapshot-out", "", "Also write the snapshot JSON to this path")
	cmd.Flags().BoolVar(&clearExisting, "clear-existing", false, "Empty every collection before importing")
	return cmd
}

func openMaintenance() (maintenanceRun, error) {
	appConfig, err := config.LoadMaintenance(viper.GetViper())
	if err != nil {
		return maintenanceRun{}, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return maintenanceRun{}, err
	}
	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return maintenanceRun{}, err
	}
	service, err := migrations.NewService(migrations.ServiceConfig{
		Database:   db,
		IDProvider: models.NewUUIDProvider(),
		Logger:     logger,
		Secret:     appConfig.MigrationSecret,
	})
	if err != nil {
		closeDB()
		return maintenanceRun{}, err
	}
	return maintenanceRun{
		config:  appConfig,
		logger:  logger,
		service: service,
		close: func() {
			closeDB()
			_ = logger.Sync()
		},
	}, nil
}

func importAndReport(ctx context.Context, out io.Writer, run maintenanceRun, snapshot migrations.Snapshot, clearExisting bool) error {
	imported, err := run.service.ImportSnapshot(ctx, run.config.MigrationSecret, snapshot, clearExisting)
	if err != nil {
		return err
	}
	totals, err := run.service.TableCounts(ctx, run.config.MigrationSecret)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]migrations.Counts{"imported": imported, "tables": totals})
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
