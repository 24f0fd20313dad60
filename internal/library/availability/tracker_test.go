package availability

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	dErrors "biblio/pkg/domain-errors"
)

func seedDocument(t *testing.T, mem *store.Memory, states ...models.CopyState) int64 {
	t.Helper()
	ctx := context.Background()

	doc := &models.Document{Title: "El Quijote", Author: "Cervantes", Type: models.DocumentBook, Active: true}
	require.NoError(t, mem.CreateDocument(ctx, doc))

	for i, state := range states {
		c := &models.Copy{DocumentID: doc.ID, Code: fmt.Sprintf("QJ-%d-%d", doc.ID, i), State: state}
		require.NoError(t, mem.CreateCopy(ctx, c))
	}
	return doc.ID
}

func TestCountByState(t *testing.T) {
	mem := store.NewMemory()
	docID := seedDocument(t, mem,
		models.CopyAvailable, models.CopyAvailable, models.CopyLoaned, models.CopyMaintenance)

	tracker := NewTracker(mem, mem)
	summary, err := tracker.CountByState(context.Background(), docID)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Available)
	assert.Equal(t, 1, summary.ByState[models.CopyLoaned])
	assert.Equal(t, 1, summary.ByState[models.CopyMaintenance])
}

func TestCountByStateUnknownDocument(t *testing.T) {
	tracker := NewTracker(store.NewMemory(), store.NewMemory())
	_, err := tracker.CountByState(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestCanRequest(t *testing.T) {
	mem := store.NewMemory()
	withStock := seedDocument(t, mem, models.CopyAvailable, models.CopyLoaned)

	tracker := NewTracker(mem, mem)
	ok, err := tracker.CanRequest(context.Background(), withStock)
	require.NoError(t, err)
	assert.True(t, ok)

	allOut := seedDocument(t, mem, models.CopyLoaned, models.CopyLost)
	ok, err = tracker.CanRequest(context.Background(), allOut)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPickAvailable(t *testing.T) {
	mem := store.NewMemory()
	docID := seedDocument(t, mem,
		models.CopyAvailable, models.CopyLoaned, models.CopyAvailable, models.CopyAvailable)

	tracker := NewTracker(mem, mem)
	picked, err := tracker.PickAvailable(context.Background(), docID, 2)
	require.NoError(t, err)
	require.Len(t, picked, 2)

	// Deterministic ascending-ID selection.
	assert.Less(t, picked[0].ID, picked[1].ID)
	for _, c := range picked {
		assert.Equal(t, models.CopyAvailable, c.State)
	}
}

func TestPickAvailableInsufficient(t *testing.T) {
	mem := store.NewMemory()
	docID := seedDocument(t, mem, models.CopyAvailable, models.CopyLoaned)

	tracker := NewTracker(mem, mem)
	_, err := tracker.PickAvailable(context.Background(), docID, 2)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePolicyViolation))
}

func TestPickAvailableRejectsNonPositiveCount(t *testing.T) {
	mem := store.NewMemory()
	docID := seedDocument(t, mem, models.CopyAvailable)

	tracker := NewTracker(mem, mem)
	_, err := tracker.PickAvailable(context.Background(), docID, 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
