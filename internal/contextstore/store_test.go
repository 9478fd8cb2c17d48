package contextstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxlink/internal/diff"
	ctxerrors "ctxlink/internal/errors"
	"ctxlink/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func sample(id string, at time.Time, files ...diff.FileRanges) Context {
	return Context{
		ID:             id,
		ConversationID: "c1",
		Prompt:         "prompt " + id,
		Response:       "response " + id,
		Files:          files,
		Timestamp:      at,
	}
}

func fr(path string, ranges ...diff.LineRange) diff.FileRanges {
	return diff.FileRanges{Path: path, Ranges: ranges}
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), NewMemoryBackend(), discardLogger())
	require.NoError(t, err)
	return s
}

func TestStore_UpsertGetLookup(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sample("u1", t0, fr("a.py", diff.LineRange{Start: 1, End: 3}))))
	require.NoError(t, s.Upsert(ctx, sample("u2", t0.Add(time.Minute), fr("./a.py", diff.LineRange{Start: 3, End: 4}))))

	got, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "prompt u1", got.Prompt)

	hits := s.Lookup("a.py", 3)
	require.Len(t, hits, 2)
	assert.Equal(t, "u1", hits[0].ID, "oldest first")
	assert.Equal(t, "u2", hits[1].ID)

	assert.Len(t, s.Lookup("a.py", 4), 1)
	assert.Empty(t, s.Lookup("a.py", 5))
	assert.Empty(t, s.Lookup("b.py", 1))

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_UpsertIsIdempotentAndReindexes(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	c := sample("u1", t0, fr("a.py", diff.LineRange{Start: 1, End: 3}))
	require.NoError(t, s.Upsert(ctx, c))
	require.NoError(t, s.Upsert(ctx, c))
	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.Lookup("a.py", 2), 1)

	c.Files = []diff.FileRanges{fr("b.py", diff.LineRange{Start: 10, End: 10})}
	c.CommitHash = "abc"
	require.NoError(t, s.Upsert(ctx, c))

	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.Lookup("a.py", 2), "old ranges are removed from the index")
	hits := s.Lookup("b.py", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "abc", hits[0].CommitHash)
}

func TestStore_NormalizesFiles(t *testing.T) {
	s := openMemory(t)

	c := sample("u1", t0,
		fr("src/x.go", diff.LineRange{Start: 13, End: 15}),
		fr("./src/x.go", diff.LineRange{Start: 10, End: 12}),
		fr("", diff.LineRange{Start: 1, End: 1}),
	)
	require.NoError(t, s.Upsert(context.Background(), c))

	got, _ := s.Get("u1")
	assert.Equal(t, []diff.FileRanges{fr("src/x.go", diff.LineRange{Start: 10, End: 15})}, got.Files)
	assert.Len(t, s.Lookup("src/x.go", 11), 1)
	assert.Empty(t, s.Lookup("src/x.go", 16))
}

func TestStore_RejectsEmptyID(t *testing.T) {
	s := openMemory(t)
	err := s.Upsert(context.Background(), Context{})
	assert.Error(t, err)
}

type failingBackend struct {
	*MemoryBackend
}

func (f failingBackend) Put(context.Context, Context) error {
	return errors.New("disk full")
}

func TestStore_BackendFailureLeavesStateUnchanged(t *testing.T) {
	s, err := Open(context.Background(), failingBackend{NewMemoryBackend()}, discardLogger())
	require.NoError(t, err)

	err = s.Upsert(context.Background(), sample("u1", t0, fr("a.py", diff.LineRange{Start: 1, End: 1})))
	require.Error(t, err)
	assert.True(t, ctxerrors.Is(err, ctxerrors.StoreFailed))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Lookup("a.py", 1))
}

func TestStore_SQLiteBackendRebuildsIndex(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ctxlink.db")
	ctx := context.Background()

	db, err := storage.Open(dbPath, discardLogger())
	require.NoError(t, err)
	s, err := Open(ctx, NewSQLiteBackend(db), discardLogger())
	require.NoError(t, err)

	tokens := 42
	c := sample("u1", t0, fr("a.py", diff.LineRange{Start: 1, End: 3}))
	c.CommitHash = "abc"
	c.ParentCommitHash = "def"
	c.Metadata.Model = "gpt-4o"
	c.Metadata.InputTokens = &tokens
	c.Metadata.Links = []string{"https://example.com"}
	require.NoError(t, s.Upsert(ctx, c))
	require.NoError(t, s.Close())

	db, err = storage.Open(dbPath, discardLogger())
	require.NoError(t, err)
	reopened, err := Open(ctx, NewSQLiteBackend(db), discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	hits := reopened.Lookup("a.py", 2)
	require.Len(t, hits, 1)
	got := hits[0]
	assert.Equal(t, "abc", got.CommitHash)
	assert.Equal(t, "def", got.ParentCommitHash)
	assert.True(t, got.Timestamp.Equal(t0))
	assert.Equal(t, "gpt-4o", got.Metadata.Model)
	require.NotNil(t, got.Metadata.InputTokens)
	assert.Equal(t, 42, *got.Metadata.InputTokens)
	assert.Nil(t, got.Metadata.OutputTokens)
}

func TestSQLiteBackend_Get(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "ctxlink.db"), discardLogger())
	require.NoError(t, err)
	backend := NewSQLiteBackend(db)
	defer backend.Close()
	ctx := context.Background()

	c := sample("u1", t0, fr("a.py", diff.LineRange{Start: 4, End: 9}))
	c.CommitHash = "abc"
	require.NoError(t, backend.Put(ctx, c))

	got, found, err := backend.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc", got.CommitHash)
	assert.Equal(t, c.Files, got.Files)

	_, found, err = backend.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_List(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sample("late", t0.Add(time.Hour))))
	require.NoError(t, s.Upsert(ctx, sample("early", t0)))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "late", list[1].ID)
}
