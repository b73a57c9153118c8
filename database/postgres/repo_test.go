package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisimaging/dicomweb"
)

func TestInstanceRepo_Upsert(t *testing.T) {
	t.Run("success - first write inserts", func(t *testing.T) {
		repo := setupTestDatabase(t).Instances()

		meta := seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")

		assert.Equal(t, "PAT001", meta.PatientID)
		assert.False(t, meta.CreatedAt.IsZero())

		got, err := repo.Get(context.Background(), meta.InstanceKey)
		require.NoError(t, err)
		assert.Equal(t, meta.ID, got.ID)
	})

	t.Run("success - conflicting key updates in place", func(t *testing.T) {
		repo := setupTestDatabase(t).Instances()
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
		assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))
	})
}

func TestInstanceRepo_Get(t *testing.T) {
	repo := setupTestDatabase(t).Instances()

	_, err := repo.Get(context.Background(), dicomweb.InstanceKey{
		StudyUID:       "9.9.9",
		SeriesUID:      "9.9.9.1",
		SOPInstanceUID: "9.9.9.1.1",
	})
	assert.ErrorIs(t, err, dicomweb.ErrNotFound)
}

func TestInstanceRepo_Search(t *testing.T) {
	repo := setupTestDatabase(t).Instances()
	ctx := context.Background()

	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")
	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.2", "PAT001")
	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.2", "1.2.840.1.2.1", "PAT001")
	seedInstance(t, repo, "1.2.840.2", "1.2.840.2.1", "1.2.840.2.1.1", "PAT002")

	t.Run("success - instance level counts every row", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{Level: dicomweb.LevelInstance, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 4, result.Total)
		assert.Len(t, result.Items, 4)
	})

	t.Run("success - study level groups to one row per study", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{Level: dicomweb.LevelStudy, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
		require.Len(t, result.Items, 2)
		assert.ElementsMatch(t, []string{"1.2.840.1", "1.2.840.2"},
			[]string{result.Items[0].StudyUID, result.Items[1].StudyUID})
	})

	t.Run("success - series level groups by study and series", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{Level: dicomweb.LevelSeries, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Total)
		assert.Len(t, result.Items, 3)
	})

	t.Run("success - study and patient filters", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.SearchQuery{
			Level: dicomweb.LevelInstance, StudyUID: "1.2.840.1", PatientID: "PAT001", Limit: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Total)
	})

	t.Run("success - paging window", func(t *testing.T) {
		page, err := repo.Search(ctx, dicomweb.SearchQuery{Level: dicomweb.LevelInstance, Limit: 2, Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Len(t, page.Items, 1)
	})
}

func TestInstanceRepo_List(t *testing.T) {
	repo := setupTestDatabase(t).Instances()
	ctx := context.Background()

	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")
	seedInstance(t, repo, "1.2.840.1", "1.2.840.1.2", "1.2.840.1.2.1", "PAT001")

	items, err := repo.List(ctx, "1.2.840.1", "")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = repo.List(ctx, "1.2.840.1", "1.2.840.1.2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1.2.840.1.2.1", items[0].SOPInstanceUID)
}

func TestInstanceRepo_Delete(t *testing.T) {
	t.Run("success - series scope removes the series", func(t *testing.T) {
		repo := setupTestDatabase(t).Instances()
		ctx := context.Background()

		seedInstance(t, repo, "1.2.840.1", "1.2.840.1.1", "1.2.840.1.1.1", "PAT001")
		seedInstance(t, repo, "1.2.840.1", "1.2.840.1.2", "1.2.840.1.2.1", "PAT001")

		err := repo.Delete(ctx, dicomweb.InstanceKey{StudyUID: "1.2.840.1", SeriesUID: "1.2.840.1.1"})
		require.NoError(t, err)

		items, err := repo.List(ctx, "1.2.840.1", "")
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "1.2.840.1.2", items[0].SeriesUID)
	})

	t.Run("error - nothing matched", func(t *testing.T) {
		repo := setupTestDatabase(t).Instances()

		err := repo.Delete(context.Background(), dicomweb.InstanceKey{StudyUID: "9.9.9"})
		assert.ErrorIs(t, err, dicomweb.ErrNotFound)
	})
}

func TestWorklistRepo_CreateAndGet(t *testing.T) {
	t.Run("success - round trip with labels", func(t *testing.T) {
		repo := setupTestDatabase(t).Worklist()
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
		assert.Equal(t, []string{"night-shift", "urgent"}, got.Labels)
	})

	t.Run("error - duplicate uid", func(t *testing.T) {
		repo := setupTestDatabase(t).Worklist()
		ctx := context.Background()

		_, err := repo.Create(ctx, dicomweb.Workitem{UID: "2.25.102", State: dicomweb.StateScheduled})
		require.NoError(t, err)

		_, err = repo.Create(ctx, dicomweb.Workitem{UID: "2.25.102", State: dicomweb.StateScheduled})
		assert.ErrorIs(t, err, dicomweb.ErrInvalidInput)
	})

	t.Run("error - unknown uid", func(t *testing.T) {
		repo := setupTestDatabase(t).Worklist()

		_, err := repo.Get(context.Background(), "9.9.9")
		assert.ErrorIs(t, err, dicomweb.ErrNotFound)
	})
}

func TestWorklistRepo_Update(t *testing.T) {
	t.Run("success - mutation persists", func(t *testing.T) {
		repo := setupTestDatabase(t).Worklist()
		ctx := context.Background()

		_, err := repo.Create(ctx, dicomweb.Workitem{UID: "2.25.100", State: dicomweb.StateScheduled})
		require.NoError(t, err)

		updated, err := repo.Update(ctx, "2.25.100", func(w *dicomweb.Workitem) error {
			w.State = dicomweb.StateInProgress
			w.TransactionUID = "2.25.777"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, dicomweb.StateInProgress, updated.State)

		got, err := repo.Get(ctx, "2.25.100")
		require.NoError(t, err)
		assert.Equal(t, "2.25.777", got.TransactionUID)
	})

	t.Run("error - mutate error aborts unwrapped", func(t *testing.T) {
		repo := setupTestDatabase(t).Worklist()
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
		repo := setupTestDatabase(t).Worklist()

		_, err := repo.Update(context.Background(), "9.9.9", func(w *dicomweb.Workitem) error {
			return nil
		})
		assert.ErrorIs(t, err, dicomweb.ErrNotFound)
	})
}

func TestWorklistRepo_Search(t *testing.T) {
	repo := setupTestDatabase(t).Worklist()
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
	})

	t.Run("success - state filter", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{State: dicomweb.StateScheduled, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
	})

	t.Run("success - label filter matches the label array", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{Label: "triage", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
	})

	t.Run("success - study filter", func(t *testing.T) {
		result, err := repo.Search(ctx, dicomweb.WorkitemQuery{StudyUID: "1.2.840.1", Limit: 10})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "2.25.3", result.Items[0].UID)
	})

	t.Run("success - count matches the filter", func(t *testing.T) {
		total, err := repo.Count(ctx, dicomweb.WorkitemQuery{PatientID: "PAT001"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})
}
