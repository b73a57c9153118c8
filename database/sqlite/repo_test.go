package sqlite_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisimaging/dicomweb"
)

func TestInstanceRepo_Upsert(t *testing.T) {
	t.Run("success - first write inserts", func(t *testing.T) {
		db := setupTestDatabase(t)
		repo := db.Instances()

		meta := seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")

		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", meta.ID.String())
		assert.Equal(t, "PAT001", meta.PatientID)
		assert.False(t, meta.CreatedAt.IsZero())

		got, err := repo.Get(context.Background(), meta.InstanceKey)
		require.NoError(t, err)
		assert.Equal(t, meta.ID, got.ID)
		assert.Equal(t, meta.Etag, got.Etag)
	})

	t.Run("success - second write updates in place", func(t *testing.T) {
		db := setupTestDatabase(t)
		repo := db.Instances()
		ctx := context.Background()

		first := seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")

		updated, inserted, err := repo.Upsert(ctx, dicomweb.InstanceEntry{
			InstanceKey: first.InstanceKey,
			SOPClassUID: first.SOPClassUID,
			PatientID:   "PAT001",
			ContentType: dicomweb.MediaTypeDICOM,
			Etag:        "etag-replaced",
			SizeBytes:   256,
		})
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, first.ID, updated.ID)
		assert.Equal(t, "etag-replaced", updated.Etag)
		assert.Equal(t, int64(256), updated.SizeBytes)
		assert.Equal(t, first.CreatedAt, updated.CreatedAt)

		got, err := repo.Get(ctx, first.InstanceKey)
		require.NoError(t, err)
		assert.Equal(t, "etag-replaced", got.Etag)
	})

	t.Run("success - concurrent first writes of one triple", func(t *testing.T) {
		db := setupTestDatabase(t)
		repo := db.Instances()
		ctx := context.Background()

		entry := dicomweb.InstanceEntry{
			InstanceKey: dicomweb.InstanceKey{
				StudyUID:       "1.2.840.9",
				SeriesUID:      "1.2.840.9.1",
				SOPInstanceUID: "1.2.840.9.1.1",
			},
			SOPClassUID: "1.2.840.10008.5.1.4.1.1.2",
			ContentType: dicomweb.MediaTypeDICOM,
			Etag:        "etag-race",
			SizeBytes:   128,
		}

		const writers = 8
		inserts := make(chan bool, writers)
		errs := make(chan error, writers)

		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, inserted, err := repo.Upsert(ctx, entry)
				inserts <- inserted
				errs <- err
			}()
		}
		wg.Wait()
		close(inserts)
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		var insertCount int
		for inserted := range inserts {
			if inserted {
				insertCount++
			}
		}
		assert.Equal(t, 1, insertCount)

		got, err := repo.Get(ctx, entry.InstanceKey)
		require.NoError(t, err)
		assert.Equal(t, "etag-race", got.Etag)
	})
}

func TestInstanceRepo_Get(t *testing.T) {
	db := setupTestDatabase(t)
	repo := db.Instances()

	_, err := repo.Get(context.Background(), dicomweb.InstanceKey{
		StudyUID:       "9.9.9",
		SeriesUID:      "9.9.9.1",
		SOPInstanceUID: "9.9.9.1.1",
	})
	assert.ErrorIs(t, err, dicomweb.ErrNotFound)
}

func TestInstanceRepo_Search(t *testing.T) {
	db := setupTestDatabase(t)
	repo := db.Instances()
	ctx := context.Background()

	// Two studies; the first holds two series.
	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")
	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.2", "PAT001")
	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.2", "1.2.840.1.2.1", "PAT001")
	seedInstance(t, repo, "1.2.840.2", "1.2.840.2.1", "1.2.840.2.1.1", "PAT002")

	t.Run("success - instance level counts every row", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level: dicomweb.LevelInstance, Limit: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, result.Total)
		assert.Len(t, result.Items, 4)
	})

	t.Run("success - study level groups to one row per study", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level: dicomweb.LevelStudy, Limit: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
		require.Len(t, result.Items, 2)

		studies := []string{result.Items[0].StudyUID, result.Items[1].StudyUID}
		assert.ElementsMatch(t, []string{"1.2.840.1", "1.2.840.2"}, studies)
	})

	t.Run("success - series level groups by study and series", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level: dicomweb.LevelSeries, Limit: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Total)
		assert.Len(t, result.Items, 3)
	})

	t.Run("success - study scope filter", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level: dicomweb.LevelInstance, StudyUID: "1.2.840.1", Limit: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Total)
	})

	t.Run("success - patient filter", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level: dicomweb.LevelInstance, PatientID: "PAT002", Limit: 10,
		})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "1.2.840.2", result.Items[0].StudyUID)
	})

	t.Run("success - paging window", func(t *testing.T) {
		page, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level: dicomweb.LevelInstance, Limit: 2, Offset: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Len(t, page.Items, 2)
	})

	t.Run("success - no matches", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level: dicomweb.LevelInstance, PatientID: "PAT404", Limit: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Total)
		assert.Empty(t, result.Items)
	})
}

func TestInstanceRepo_List(t *testing.T) {
	db := setupTestDatabase(t)
	repo := db.Instances()
	ctx := context.Background()

	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")
	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.2", "1.2.840.1.2.1", "PAT001")
	seedInstance(t, repo, "1.2.840.2", "1.2.840.2.1", "1.2.840.2.1.1", "PAT002")

	t.Run("success - whole study", func(t *testing.T) {
		items, err := repo.List(ctx, "1.2.840.1", "")
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("success - single series", func(t *testing.T) {
		items, err := repo.List(ctx, "1.2.840.1", "1.2.840.1.2")
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "1.2.840.1.2.1", items[0].SOPInstanceUID)
	})

	t.Run("success - unknown study is empty", func(t *testing.T) {
		items, err := repo.List(ctx, "9.9.9", "")
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestInstanceRepo_Delete(t *testing.T) {
	seed := func(t *testing.T) dicomweb.InstanceRepo {
		t.Helper()
		db := setupTestDatabase(t)
		repo := db.Instances()
		seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")
		seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.2", "PAT001")
		seedInstance(t, repo, "1.2.840.1", "1.2.840.1.2", "1.2.840.1.2.1", "PAT001")
		return repo
	}

	t.Run("success - instance scope removes one row", func(t *testing.T) {
		repo := seed(t)
		ctx := context.Background()

		err := repo.Delete(ctx, dicomweb.InstanceKey{
			StudyUID: "1.2.840.1", SeriesUID: "1.2.840.1.1", SOPInstanceUID: "1.2.840.1.1.1",
		})
		require.NoError(t, err)

		items, err := repo.List(ctx, "1.2.840.1", "")
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("success - series scope removes the series", func(t *testing.T) {
		repo := seed(t)
		ctx := context.Background()

		err := repo.Delete(ctx, dicomweb.InstanceKey{StudyUID: "1.2.840.1", SeriesUID: "1.2.840.1.1"})
		require.NoError(t, err)

		items, err := repo.List(ctx, "1.2.840.1", "")
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "1.2.840.1.2", items[0].SeriesUID)
	})

	t.Run("success - study scope empties the study", func(t *testing.T) {
		repo := seed(t)
		ctx := context.Background()

		err := repo.Delete(ctx, dicomweb.InstanceKey{StudyUID: "1.2.840.1"})
		require.NoError(t, err)

		items, err := repo.List(ctx, "1.2.840.1", "")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("error - nothing matched", func(t *testing.T) {
		repo := seed(t)

		err := repo.Delete(context.Background(), dicomweb.InstanceKey{StudyUID: "9.9.9"})
		assert.ErrorIs(t, err, dicomweb.ErrNotFound)
	})
}

func TestWorklistRepo_CreateAndGet(t *testing.T) {
	t.Run("success - round trip with labels", func(t *testing.T) {
		db := setupTestDatabase(t)
		repo := db.Worklist()
		ctx := context.Background()

		created, err := repo.Create(ctx, dicomweb.Workitem{
			UID:       "2.25.100",
			State:     dicomweb.StateScheduled,
			Priority:  "HIGH",
			PatientID: "PAT001",
			Labels:    []string{"night-shift", "urgent"},
		})
		require.NoError(t, err)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := repo.Get(ctx, "2.25.100")
		require.NoError(t, err)
		assert.Equal(t, dicomweb.StateScheduled, got.State)
		assert.Equal(t, "HIGH", got.Priority)
		assert.Equal(t, []string{"night-shift", "urgent"}, got.Labels)
	})

	t.Run("success - empty labels stay nil", func(t *testing.T) {
		db := setupTestDatabase(t)
		repo := db.Worklist()
		ctx := context.Background()

		_, err := repo.Create(ctx, dicomweb.Workitem{UID: "2.25.101", State: dicomweb.StateScheduled})
		require.NoError(t, err)

		got, err := repo.Get(ctx, "2.25.101")
		require.NoError(t, err)
		assert.Nil(t, got.Labels)
	})

	t.Run("error - duplicate uid", func(t *testing.T) {
		db := setupTestDatabase(t)
		repo := db.Worklist()
		ctx := context.Background()

		_, err := repo.Create(ctx, dicomweb.Workitem{UID: "2.25.102", State: dicomweb.StateScheduled})
		require.NoError(t, err)

		_, err = repo.Create(ctx, dicomweb.Workitem{UID: "2.25.102", State: dicomweb.StateScheduled})
		assert.ErrorIs(t, err, dicomweb.ErrInvalidInput)
	})

	t.Run("error - unknown uid", func(t *testing.T) {
		db := setupTestDatabase(t)

		_, err := db.Worklist().Get(context.Background(), "9.9.9")
		assert.ErrorIs(t, err, dicomweb.ErrNotFound)
	})
}

func TestWorklistRepo_Update(t *testing.T) {
	t.Run("success - mutation persists", func(t *testing.T) {
		db := setupTestDatabase(t)
		repo := db.Worklist()
		ctx := context.Background()

		_, err := repo.Create(ctx, dicomweb.Workitem{UID: "2.25.100", State: dicomweb.StateScheduled})
		require.NoError(t, err)

		updated, err := repo.Update(ctx, "2.25.100", func(w *dicomweb.Workitem) error {
			w.State = dicomweb.StateInProgress
			w.TransactionUID = "2.25.777"
			w.ProgressSteps = 5
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, dicomweb.StateInProgress, updated.State)

		got, err := repo.Get(ctx, "2.25.100")
		require.NoError(t, err)
		assert.Equal(t, dicomweb.StateInProgress, got.State)
		assert.Equal(t, "2.25.777", got.TransactionUID)
		assert.Equal(t, 5, got.ProgressSteps)
	})

	t.Run("error - mutate error aborts unwrapped", func(t *testing.T) {
		db := setupTestDatabase(t)
		repo := db.Worklist()
		ctx := context.Background()

		_, err := repo.Create(ctx, dicomweb.Workitem{UID: "2.25.100", State: dicomweb.StateScheduled})
		require.NoError(t, err)

		_, err = repo.Update(ctx, "2.25.100", func(w *dicomweb.Workitem) error {
			w.State = dicomweb.StateCompleted
			return dicomweb.ErrWorkitemFinal
		})
		assert.ErrorIs(t, err, dicomweb.ErrWorkitemFinal)

		got, err := repo.Get(ctx, "2.25.100")
		require.NoError(t, err)
		assert.Equal(t, dicomweb.StateScheduled, got.State)
	})

	t.Run("error - unknown uid", func(t *testing.T) {
		db := setupTestDatabase(t)

		_, err := db.Worklist().Update(context.Background(), "9.9.9", func(w *dicomweb.Workitem) error {
			return nil
		})
		assert.ErrorIs(t, err, dicomweb.ErrNotFound)
	})
}

func TestWorklistRepo_Search(t *testing.T) {
	db := setupTestDatabase(t)
	repo := db.Worklist()
	ctx := context.Background()

	seed := []dicomweb.Workitem{
		{UID: "2.25.1", State: dicomweb.StateScheduled, PatientID: "PAT001", Label: "triage"},
		{UID: "2.25.2", State: dicomweb.StateScheduled, PatientID: "PAT002", Labels: []string{"triage", "ct"}},
		{UID: "2.25.3", State: dicomweb.StateInProgress, PatientID: "PAT001", StudyUID: "1.2.840.1"},
		{UID: "2.25.4", State: dicomweb.StateCompleted, PatientID: "PAT003"},
	}
	for _, w := range seed {
		_, err := repo.Create(ctx, w)
		require.NoError(t, err)
	}

	t.Run("success - unfiltered returns everything", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 4, result.Total)
		assert.Len(t, result.Items, 4)
	})

	t.Run("success - state filter", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{State: dicomweb.StateScheduled, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
	})

	t.Run("success - patient filter", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{PatientID: "PAT001", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
	})

	t.Run("success - study filter", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{StudyUID: "1.2.840.1", Limit: 10})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "2.25.3", result.Items[0].UID)
	})

	t.Run("success - label filter matches both label fields", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{Label: "triage", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
	})

	t.Run("success - paging window", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{Limit: 2, Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, 4, result.Total)
		assert.Len(t, result.Items, 1)
	})
}
