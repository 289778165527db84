package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const tableFiles = "session_files"

var fileColumns = []string{"id", "session_id", "filename", "content", "conversion_error", "purged", "created_at"}

type FileRepository interface {
	CreateMany(ctx context.Context, files []*entity.SessionFile) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*entity.SessionFile, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.SessionFile, error)
	PurgeContent(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type fileRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewFileRepository(db *DB, logger *slog.Logger) FileRepository {
	return &fileRepository{
		db:     db,
		logger: logger,
	}
}

// CreateMany inserts all files in one statement.
func (r *fileRepository) CreateMany(ctx context.Context, files []*entity.SessionFile) error {
	if len(files) == 0 {
		return nil
	}
	ins := r.db.builder().Insert(tableFiles).Columns(fileColumns...)
	for _, f := range files {
		ins.Values(f.ID.String(), f.SessionID.String(), f.Filename, f.Content, f.ConversionError, boolInt(f.Purged), toMillis(f.CreatedAt))
	}
	if _, err := r.db.exec(ctx, ins); err != nil {
		r.logger.Error("failed to create session files", "session_id", files[0].SessionID, "count", len(files), "error", err)
		return err
	}
	return nil
}

func (r *fileRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*entity.SessionFile, error) {
	sel := r.db.builder().Select(fileColumns...).
		From(r.db.builder().Table(tableFiles)).
		Where(entsql.EQ("session_id", sessionID.String())).
		OrderBy("created_at", "filename")
	var out []*entity.SessionFile
	err := r.db.query(ctx, sel, func(rows *sql.Rows) error {
		f, err := scanFile(rows)
		if err == nil {
			out = append(out, f)
		}
		return err
	})
	if err != nil {
		r.logger.Error("failed to list session files", "session_id", sessionID, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *fileRepository) Get(ctx context.Context, id uuid.UUID) (*entity.SessionFile, error) {
	sel := r.db.builder().Select(fileColumns...).
		From(r.db.builder().Table(tableFiles)).
		Where(entsql.EQ("id", id.String()))
	var out *entity.SessionFile
	err := r.db.query(ctx, sel, func(rows *sql.Rows) error {
		f, err := scanFile(rows)
		out = f
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, common.NewAppError("FILE_NOT_FOUND", fmt.Sprintf("file %s not found", id), common.ErrNotFound)
	}
	return out, nil
}

// PurgeContent drops the cached converted content of every file in the session.
func (r *fileRepository) PurgeContent(ctx context.Context, sessionID uuid.UUID) (int, error) {
	upd := r.db.builder().Update(tableFiles).
		Set("content", "").
		Set("purged", 1).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID.String()),
			entsql.EQ("purged", 0),
		))
	n, err := r.db.exec(ctx, upd)
	if err != nil {
		r.logger.Error("failed to purge session content", "session_id", sessionID, "error", err)
		return 0, err
	}
	return int(n), nil
}

func scanFile(rows *sql.Rows) (*entity.SessionFile, error) {
	var (
		f       entity.SessionFile
		id, sid string
		purged  int
		created int64
	)
	if err := rows.Scan(&id, &sid, &f.Filename, &f.Content, &f.ConversionError, &purged, &created); err != nil {
		return nil, err
	}
	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if f.SessionID, err = uuid.Parse(sid); err != nil {
		return nil, err
	}
	f.Purged = purged != 0
	f.CreatedAt = fromMillis(created)
	return &f, nil
}
