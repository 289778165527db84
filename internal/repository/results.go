package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const tableResults = "file_version_results"

var resultColumns = []string{"id", "file_id", "version_id", "filename", "status", "structured_data", "error", "model", "cache_hit", "processing_ms", "created_at"}

type ResultRepository interface {
	Upsert(ctx context.Context, res *entity.FileVersionResult) error
	ListByVersion(ctx context.Context, versionID uuid.UUID) ([]*entity.FileVersionResult, error)
}

type resultRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewResultRepository(db *DB, logger *slog.Logger) ResultRepository {
	return &resultRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert stores one file's outcome, replacing any earlier row for the same
// (file, version) pair.
func (r *resultRepository) Upsert(ctx context.Context, res *entity.FileVersionResult) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	ins := r.db.builder().Insert(tableResults).
		Columns(resultColumns...).
		Values(res.ID.String(), res.FileID.String(), res.VersionID.String(), res.Filename, string(res.Status),
			string(res.Data), res.Error, res.Model, boolInt(res.CacheHit), res.ProcessingTime.Milliseconds(), toMillis(res.CreatedAt)).
		OnConflict(
			entsql.ConflictColumns("file_id", "version_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range resultColumns[3:] {
					u.SetExcluded(c)
				}
			}),
		)
	if _, err := r.db.exec(ctx, ins); err != nil {
		r.logger.Error("failed to upsert result", "file_id", res.FileID, "version_id", res.VersionID, "error", err)
		return err
	}
	return nil
}

func (r *resultRepository) ListByVersion(ctx context.Context, versionID uuid.UUID) ([]*entity.FileVersionResult, error) {
	sel := r.db.builder().Select(resultColumns...).
		From(r.db.builder().Table(tableResults)).
		Where(entsql.EQ("version_id", versionID.String())).
		OrderBy("filename", "file_id")
	var out []*entity.FileVersionResult
	err := r.db.query(ctx, sel, func(rows *sql.Rows) error {
		res, err := scanResult(rows)
		if err == nil {
			out = append(out, res)
		}
		return err
	})
	if err != nil {
		r.logger.Error("failed to list results", "version_id", versionID, "error", err)
		return nil, err
	}
	return out, nil
}

func scanResult(rows *sql.Rows) (*entity.FileVersionResult, error) {
	var (
		res             entity.FileVersionResult
		id, fid, vid    string
		status, data    string
		cacheHit        int
		procMS, created int64
	)
	if err := rows.Scan(&id, &fid, &vid, &res.Filename, &status, &data, &res.Error, &res.Model, &cacheHit, &procMS, &created); err != nil {
		return nil, err
	}
	var err error
	if res.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if res.FileID, err = uuid.Parse(fid); err != nil {
		return nil, err
	}
	if res.VersionID, err = uuid.Parse(vid); err != nil {
		return nil, err
	}
	res.Status = constants.ResultStatus(status)
	if data != "" {
		res.Data = json.RawMessage(data)
	}
	res.CacheHit = cacheHit != 0
	res.ProcessingTime = time.Duration(procMS) * time.Millisecond
	res.CreatedAt = fromMillis(created)
	return &res, nil
}
