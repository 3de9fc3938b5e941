package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportkit/reportkit/internal/store"
	"github.com/reportkit/reportkit/pkg/types"
)

func openTable(t *testing.T, unique bool) *store.SQL {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.DriverSQLite, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, store.EnsureTable(ctx, s, "posts", []string{"id", "payload"}, "id", unique))
	return s
}

func storedIDs(t *testing.T, s *store.SQL) []any {
	t.Helper()
	rows, err := s.Query(context.Background(), `SELECT "id" FROM "posts" ORDER BY rowid`)
	require.NoError(t, err)
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out
}

func TestReconcile_SQLite(t *testing.T) {
	ctx := context.Background()
	s := openTable(t, false)
	r := New(s)

	res, err := r.Reconcile(ctx, "posts", "id", batchOf(
		types.Record{"a", "1"},
		types.Record{"b", "2"},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	res, err = r.Reconcile(ctx, "posts", "id", batchOf(
		types.Record{"b", "2"},
		types.Record{"c", "it's c"},
		types.Record{"c", "dup"},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Deduplicated)

	assert.Equal(t, []any{"a", "b", "c"}, storedIDs(t, s))

	rows, err := s.Query(ctx, `SELECT "payload" FROM "posts" WHERE "id" = ?`, "c")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "it's c", rows[0][0])
}

func TestReconcile_NumericKeysCompareByValue(t *testing.T) {
	ctx := context.Background()
	s := openTable(t, false)
	r := New(s)

	_, err := r.Reconcile(ctx, "posts", "id", batchOf(types.Record{int64(3), "x"}))
	require.NoError(t, err)

	// A JSON decoder hands back float64.
	res, err := r.Reconcile(ctx, "posts", "id", batchOf(
		types.Record{float64(3), "y"},
		types.Record{4, "z"},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
}

func TestReconcile_UniqueViolationIsNonRetryable(t *testing.T) {
	ctx := context.Background()
	s := openTable(t, true)

	// Insert behind the reconciler's back after its snapshot was taken.
	a := &afterSnapshot{Adapter: s, hook: func() {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Exec(ctx, `INSERT INTO "posts" ("id", "payload") VALUES (?, ?)`, "a", "other"))
		require.NoError(t, tx.Commit())
	}}

	res, err := New(a).Reconcile(ctx, "posts", "id", batchOf(types.Record{"a", "mine"}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, store.NonRetryable, res.Errors[0].Class)
}

// afterSnapshot runs hook once, right after the first Query returns.
type afterSnapshot struct {
	store.Adapter
	once sync.Once
	hook func()
}

func (a *afterSnapshot) Query(ctx context.Context, q string, args ...any) ([][]any, error) {
	rows, err := a.Adapter.Query(ctx, q, args...)
	a.once.Do(a.hook)
	return rows, err
}

// barrier holds every caller of Query until n callers have arrived, so that
// all of them read the same key snapshot.
type barrier struct {
	store.Adapter
	wg sync.WaitGroup
}

func newBarrier(a store.Adapter, n int) *barrier {
	b := &barrier{Adapter: a}
	b.wg.Add(n)
	return b
}

func (b *barrier) Query(ctx context.Context, q string, args ...any) ([][]any, error) {
	rows, err := b.Adapter.Query(ctx, q, args...)
	b.wg.Done()
	b.wg.Wait()
	return rows, err
}

func TestReconcile_ConcurrentCallsRace(t *testing.T) {
	run := func(t *testing.T, s *store.SQL) []Result {
		b := newBarrier(s, 2)
		r := New(b)
		results := make([]Result, 2)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := r.Reconcile(context.Background(), "posts", "id", batchOf(types.Record{"k", i}))
				assert.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()
		return results
	}

	t.Run("without constraint both insert", func(t *testing.T) {
		s := openTable(t, false)
		results := run(t, s)
		assert.Equal(t, 2, results[0].Inserted+results[1].Inserted)
		assert.Equal(t, []any{"k", "k"}, storedIDs(t, s))
	})

	t.Run("unique constraint rejects the loser", func(t *testing.T) {
		s := openTable(t, true)
		results := run(t, s)
		assert.Equal(t, 1, results[0].Inserted+results[1].Inserted)
		assert.Equal(t, 1, results[0].Failed+results[1].Failed)
		for _, res := range results {
			for _, e := range res.Errors {
				assert.Equal(t, store.NonRetryable, e.Class)
			}
		}
		assert.Equal(t, []any{"k"}, storedIDs(t, s))
	})
}
