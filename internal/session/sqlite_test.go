package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/research"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "sessions.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSpec(q string) research.Spec {
	return research.Spec{
		Question:       q,
		Language:       research.LangEnglish,
		Depth:          research.DepthDeep,
		MaxResearchers: 3,
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testSpec("quantum computing trends"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	loaded, err := store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, created.Spec.Question, loaded.Spec.Question)
	assert.Equal(t, created.Spec.Language, loaded.Spec.Language)
	assert.Equal(t, created.Spec.Depth, loaded.Spec.Depth)
	assert.Equal(t, created.Spec.MaxResearchers, loaded.Spec.MaxResearchers)
	assert.Equal(t, research.StageIntake, loaded.Stage)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestSQLiteLoadUnknown(t *testing.T) {
	store := newTestSQLite(t)
	_, err := store.Load(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, research.ErrNotFound)
}

func TestSQLiteUpdateBumpsVersion(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testSpec("q"))
	require.NoError(t, err)

	updated, err := store.Update(ctx, created.ID, func(s *research.Session) error {
		s.Stage = research.StageBriefing
		s.Progress = 30
		s.State.Brief = "the brief"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	loaded, err := store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, research.StageBriefing, loaded.Stage)
	assert.Equal(t, "the brief", loaded.State.Brief)
}

func TestSQLiteConcurrentUpdatesNoLostWrites(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testSpec("q"))
	require.NoError(t, err)

	const writers = 40
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, created.ID, func(s *research.Session) error {
				s.State.Iteration++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, loaded.State.Iteration)
	assert.Equal(t, int64(writers+1), loaded.Version)
}

func TestSQLiteListFilterAndPage(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		created, err := store.Create(ctx, testSpec("q"))
		require.NoError(t, err)
		if i < 2 {
			_, err = store.Update(ctx, created.ID, func(s *research.Session) error {
				s.Stage = research.StageCompleted
				return nil
			})
			require.NoError(t, err)
		}
	}

	all, total, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)

	completed, total, err := store.List(ctx, Filter{Stage: research.StageCompleted})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, completed, 2)

	page, total, err := store.List(ctx, Filter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)
}

func TestSQLiteDelete(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testSpec("q"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))
	_, err = store.Load(ctx, created.ID)
	assert.ErrorIs(t, err, research.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, created.ID), research.ErrNotFound)
}

func TestSQLiteSaveReport(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testSpec("q"))
	require.NoError(t, err)

	require.NoError(t, store.SaveReport(ctx, created.ID, "# Report\n"))
	assert.ErrorIs(t, store.SaveReport(ctx, "missing", "x"), research.ErrNotFound)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")
	ctx := context.Background()

	store, err := New(path, zap.NewNop())
	require.NoError(t, err)
	created, err := store.Create(ctx, testSpec("persistent question"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := New(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "persistent question", loaded.Spec.Question)
}
