package repository

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

func openTestDB(t *testing.T) *Repositories {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	db, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return NewRepositories(db, logger)
}

func seedSession(t *testing.T, repos *Repositories, expires time.Time) *entity.Session {
	t.Helper()
	s := &entity.Session{
		ID:        uuid.New(),
		SchemaKey: "receipt",
		FileCount: 1,
		Status:    constants.SessionStatusActive,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		ExpiresAt: expires.UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repos.Sessions.Create(context.Background(), s))
	return s
}

func TestSessions_CreateGetExpire(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	live := seedSession(t, repos, now.Add(time.Hour))
	old := seedSession(t, repos, now.Add(-time.Minute))

	got, err := repos.Sessions.Get(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, live.SchemaKey, got.SchemaKey)
	assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))

	expiring, err := repos.Sessions.ListExpiring(ctx, now)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, old.ID, expiring[0].ID)

	require.NoError(t, repos.Sessions.MarkExpired(ctx, old.ID))
	expiring, err = repos.Sessions.ListExpiring(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, expiring)

	_, err = repos.Sessions.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestVersions_OrderingAndStatus(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	s := seedSession(t, repos, time.Now().Add(time.Hour))

	for _, n := range []int{2, 1} {
		require.NoError(t, repos.Versions.Create(ctx, &entity.Version{
			ID:        uuid.New(),
			SessionID: s.ID,
			Number:    n,
			ModelID:   "gpt-4o-mini",
			Status:    constants.VersionStatusProcessing,
			CreatedAt: time.Now(),
		}))
	}
	dup := &entity.Version{ID: uuid.New(), SessionID: s.ID, Number: 1, ModelID: "x", Status: constants.VersionStatusProcessing, CreatedAt: time.Now()}
	assert.ErrorIs(t, repos.Versions.Create(ctx, dup), common.ErrDatabase)

	versions, err := repos.Versions.ListBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Number)
	assert.Equal(t, 2, versions[1].Number)
	assert.Nil(t, versions[0].CompletedAt)

	done := time.Now()
	require.NoError(t, repos.Versions.UpdateStatus(ctx, versions[0].ID, constants.VersionStatusCompleted, done))
	v1, err := repos.Versions.GetByNumber(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, constants.VersionStatusCompleted, v1.Status)
	require.NotNil(t, v1.CompletedAt)
	assert.Equal(t, done.UnixMilli(), v1.CompletedAt.UnixMilli())

	_, err = repos.Versions.GetByNumber(ctx, s.ID, 7)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repos.Versions.UpdateStatus(ctx, uuid.New(), constants.VersionStatusFailed, done), common.ErrNotFound)
}

func TestFiles_CreateListPurge(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	s := seedSession(t, repos, time.Now().Add(time.Hour))

	now := time.Now()
	files := []*entity.SessionFile{
		{ID: uuid.New(), SessionID: s.ID, Filename: "a.md", Content: "# A", CreatedAt: now},
		{ID: uuid.New(), SessionID: s.ID, Filename: "b.pdf", ConversionError: "unsupported", CreatedAt: now},
	}
	require.NoError(t, repos.Files.CreateMany(ctx, files))

	got, err := repos.Files.ListBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.md", got[0].Filename)
	assert.Equal(t, "# A", got[0].Content)
	assert.True(t, got[0].Converted())
	assert.False(t, got[1].Converted())

	n, err := repos.Files.PurgeContent(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := repos.Files.Get(ctx, files[0].ID)
	require.NoError(t, err)
	assert.True(t, f.Purged)
	assert.Empty(t, f.Content)
}

func TestResults_UpsertReplaces(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	s := seedSession(t, repos, time.Now().Add(time.Hour))
	file := &entity.SessionFile{ID: uuid.New(), SessionID: s.ID, Filename: "a.md", Content: "x", CreatedAt: time.Now()}
	require.NoError(t, repos.Files.CreateMany(ctx, []*entity.SessionFile{file}))
	v := &entity.Version{ID: uuid.New(), SessionID: s.ID, Number: 1, ModelID: "gpt-4o-mini", Status: constants.VersionStatusProcessing, CreatedAt: time.Now()}
	require.NoError(t, repos.Versions.Create(ctx, v))

	require.NoError(t, repos.Results.Upsert(ctx, &entity.FileVersionResult{
		FileID: file.ID, VersionID: v.ID, Filename: "a.md",
		Status: constants.ResultStatusError, Error: "boom", CreatedAt: time.Now(),
	}))
	require.NoError(t, repos.Results.Upsert(ctx, &entity.FileVersionResult{
		FileID: file.ID, VersionID: v.ID, Filename: "a.md",
		Status: constants.ResultStatusSuccess, Data: json.RawMessage(`{"total":"9.99"}`),
		Model: "gpt-4o-mini", CacheHit: true, ProcessingTime: 1500 * time.Millisecond, CreatedAt: time.Now(),
	}))

	got, err := repos.Results.ListByVersion(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, constants.ResultStatusSuccess, got[0].Status)
	assert.JSONEq(t, `{"total":"9.99"}`, string(got[0].Data))
	assert.Empty(t, got[0].Error)
	assert.True(t, got[0].CacheHit)
	assert.Equal(t, 1500*time.Millisecond, got[0].ProcessingTime)
}

func TestCacheEntries_PutGetSweep(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	created := time.Now().Add(-2 * time.Hour)

	require.NoError(t, repos.Cache.PutCacheEntry(ctx, &entity.CacheEntry{Fingerprint: "old", Payload: json.RawMessage(`{}`), CreatedAt: created, TTL: time.Hour}))
	require.NoError(t, repos.Cache.PutCacheEntry(ctx, &entity.CacheEntry{Fingerprint: "forever", Payload: json.RawMessage(`{"a":1}`), Model: "m", CreatedAt: created}))
	require.NoError(t, repos.Cache.PutCacheEntry(ctx, &entity.CacheEntry{Fingerprint: "forever", Payload: json.RawMessage(`{"a":2}`), Model: "m", CreatedAt: created}))

	e, err := repos.Cache.GetCacheEntry(ctx, "forever")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(e.Payload))
	assert.Equal(t, "m", e.Model)

	_, err = repos.Cache.GetCacheEntry(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	n, err := repos.Cache.DeleteExpiredCacheEntries(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repos.Cache.GetCacheEntry(ctx, "old")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
