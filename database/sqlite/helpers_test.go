package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axisimaging/dicomweb"
	"github.com/axisimaging/dicomweb/database/sqlite"
)

// setupTestDatabase connects an in-memory database with the schema
// migrated. Each test gets its own database.
func setupTestDatabase(t *testing.T) *sqlite.Database {
	t.Helper()

	ctx := context.Background()

	db, err := sqlite.Connect(ctx, ":memory:")
	require.NoError(t, err, "failed to connect")

	err = db.Migrate(ctx)
	require.NoError(t, err, "failed to migrate")

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func seedInstance(t *testing.T, repo dicomweb.InstanceRepo, study, series, sop, patient string) dicomweb.InstanceMeta {
	t.Helper()

	meta, inserted, err := repo.Upsert(context.Background(), dicomweb.InstanceEntry{
		InstanceKey: dicomweb.InstanceKey{
			StudyUID:       study,
			SeriesUID:      series,
			SOPInstanceUID: sop,
		},
		SOPClassUID: "1.2.840.10008.5.1.4.1.1.2",
		PatientID:   patient,
		ContentType: dicomweb.MediaTypeDICOM,
		Etag:        "etag-" + sop,
		SizeBytes:   128,
	})
	require.NoError(t, err, "seed instance")
	require.True(t, inserted, "seed should insert")

	return meta
}
