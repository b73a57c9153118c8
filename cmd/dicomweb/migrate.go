package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/axisimaging/dicomweb/database/postgres"
	"github.com/axisimaging/dicomweb/database/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long: `Create the instance index and worklist tables, then validate the
resulting schema. With --drop, existing tables are removed first; all
indexed metadata and workitems are lost.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("drop", false, "drop existing tables before migrating")
	rootCmd.AddCommand(migrateCmd)
}

type schemaManager interface {
	Migrate(ctx context.Context) error
	ValidateSchema(ctx context.Context) error
	DropTables(ctx context.Context) error
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dbType := viper.GetString("database.type")
	dsn := viper.GetString("database.dsn")

	db, closeDB, err := openSchemaManager(ctx, dbType, dsn)
	if err != nil {
		return err
	}
	defer closeDB()

	if drop, _ := cmd.Flags().GetBool("drop"); drop {
		slog.Warn("dropping existing tables", "type", dbType)
		if err := db.DropTables(ctx); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
	}

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := db.ValidateSchema(ctx); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}

	slog.Info("migration complete", "type", dbType)
	return nil
}

func openSchemaManager(ctx context.Context, dbType, dsn string) (schemaManager, func(), error) {
	switch dbType {
	case "sqlite":
		db, err := sqlite.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, func() { _ = db.Close() }, nil
	case "postgres":
		db, err := postgres.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
