package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/axisimaging/dicomweb"
	"github.com/axisimaging/dicomweb/database"
	"github.com/axisimaging/dicomweb/filesystem"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Audit storage blobs against the instance index",
	Long: `Walk the storage directory and cross-check every blob against the
instance index. Reports:
  - orphan blobs with no index entry
  - indexed instances whose blob is missing
  - etag mismatches between blob content and index`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dbCfg := database.Config{
		Type: viper.GetString("database.type"),
		DSN:  viper.GetString("database.dsn"),
	}

	repos, closeDB, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer closeDB()

	storagePath := viper.GetString("storage.path")
	_, err = os.Stat(storagePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("storage directory does not exist: %s", storagePath)
	}

	root, err := os.OpenRoot(storagePath)
	if err != nil {
		return fmt.Errorf("open storage root: %w", err)
	}
	defer func() { _ = root.Close() }()

	storage := filesystem.NewFileStorage(root)

	slog.Info("scanning storage directory", "path", storagePath)

	blobs, err := storage.List(ctx)
	if err != nil {
		return fmt.Errorf("list storage: %w", err)
	}

	indexed, err := loadIndex(cmd, repos.Instances)
	if err != nil {
		return fmt.Errorf("load instance index: %w", err)
	}

	var orphans, mismatches int
	seen := make(map[string]bool, len(blobs))
	for _, blob := range blobs {
		seen[blob.Path] = true
		meta, ok := indexed[blob.Path]
		if !ok {
			slog.Warn("orphan blob", "path", blob.Path, "size", blob.Size)
			orphans++
			continue
		}
		if meta.Etag != blob.Etag {
			slog.Warn("etag mismatch", "path", blob.Path,
				"index", meta.Etag, "blob", blob.Etag)
			mismatches++
		}
	}

	var missing int
	for path := range indexed {
		if !seen[path] {
			slog.Warn("missing blob", "path", path)
			missing++
		}
	}

	slog.Info("verification complete",
		"blobs", len(blobs),
		"indexed", len(indexed),
		"orphans", orphans,
		"missing", missing,
		"etag_mismatches", mismatches)

	if orphans+missing+mismatches > 0 {
		return fmt.Errorf("verification found %d inconsistencies", orphans+missing+mismatches)
	}
	return nil
}

func loadIndex(cmd *cobra.Command, repo dicomweb.InstanceRepo) (map[string]dicomweb.InstanceMeta, error) {
	ctx := cmd.Context()
	indexed := make(map[string]dicomweb.InstanceMeta)

	const pageSize = 1000
	offset := 0
	for {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level:  dicomweb.LevelInstance,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		for _, meta := range result.Items {
			indexed[meta.StoragePath()] = meta
		}
		offset += len(result.Items)
		if len(result.Items) < pageSize || offset >= result.Total {
			break
		}
	}

	return indexed, nil
}
