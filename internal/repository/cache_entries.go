package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const tableCache = "cache_entries"

var cacheColumns = []string{"fingerprint", "payload", "model", "created_at", "ttl_ms", "expires_at", "hit_count"}

// CacheEntryRepository is the persistent tier of the result cache.
type CacheEntryRepository interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (*entity.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *entity.CacheEntry) error
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int, error)
}

type cacheEntryRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewCacheEntryRepository(db *DB, logger *slog.Logger) CacheEntryRepository {
	return &cacheEntryRepository{
		db:     db,
		logger: logger,
	}
}

func (r *cacheEntryRepository) GetCacheEntry(ctx context.Context, fingerprint string) (*entity.CacheEntry, error) {
	sel := r.db.builder().Select(cacheColumns...).
		From(r.db.builder().Table(tableCache)).
		Where(entsql.EQ("fingerprint", fingerprint))
	var out *entity.CacheEntry
	err := r.db.query(ctx, sel, func(rows *sql.Rows) error {
		var (
			e                     entity.CacheEntry
			payload               string
			created, ttl, expires int64
		)
		if err := rows.Scan(&e.Fingerprint, &payload, &e.Model, &created, &ttl, &expires, &e.HitCount); err != nil {
			return err
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = fromMillis(created)
		e.TTL = time.Duration(ttl) * time.Millisecond
		out = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, common.ErrNotFound
	}

	bump := r.db.builder().Update(tableCache).
		Add("hit_count", 1).
		Where(entsql.EQ("fingerprint", fingerprint))
	if _, err := r.db.exec(ctx, bump); err != nil {
		r.logger.Warn("failed to bump cache hit count", "error", err)
	}
	return out, nil
}

func (r *cacheEntryRepository) PutCacheEntry(ctx context.Context, e *entity.CacheEntry) error {
	var expires int64
	if e.TTL > 0 {
		expires = toMillis(e.ExpiresAt())
	}
	ins := r.db.builder().Insert(tableCache).
		Columns(cacheColumns...).
		Values(e.Fingerprint, string(e.Payload), e.Model, toMillis(e.CreatedAt), e.TTL.Milliseconds(), expires, e.HitCount).
		OnConflict(
			entsql.ConflictColumns("fingerprint"),
			entsql.ResolveWithNewValues(),
		)
	if _, err := r.db.exec(ctx, ins); err != nil {
		r.logger.Error("failed to store cache entry", "error", err)
		return err
	}
	return nil
}

// DeleteExpiredCacheEntries removes entries whose TTL elapsed at or before now.
// Entries stored without a TTL are kept.
func (r *cacheEntryRepository) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int, error) {
	del := r.db.builder().Delete(tableCache).
		Where(entsql.And(
			entsql.GT("expires_at", 0),
			entsql.LTE("expires_at", toMillis(now)),
		))
	n, err := r.db.exec(ctx, del)
	if err != nil {
		r.logger.Error("failed to delete expired cache entries", "error", err)
		return 0, err
	}
	return int(n), nil
}
