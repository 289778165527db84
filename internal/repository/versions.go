package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const tableVersions = "extraction_versions"

var versionColumns = []string{"id", "session_id", "version_number", "model_id", "instructions", "status", "created_at", "completed_at"}

type VersionRepository interface {
	Create(ctx context.Context, v *entity.Version) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*entity.Version, error)
	GetByNumber(ctx context.Context, sessionID uuid.UUID, number int) (*entity.Version, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.VersionStatus, completedAt time.Time) error
}

type versionRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewVersionRepository(db *DB, logger *slog.Logger) VersionRepository {
	return &versionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *versionRepository) Create(ctx context.Context, v *entity.Version) error {
	var completed int64
	if v.CompletedAt != nil {
		completed = toMillis(*v.CompletedAt)
	}
	ins := r.db.builder().Insert(tableVersions).
		Columns(versionColumns...).
		Values(v.ID.String(), v.SessionID.String(), v.Number, v.ModelID, v.Instructions, string(v.Status), toMillis(v.CreatedAt), completed)
	if _, err := r.db.exec(ctx, ins); err != nil {
		r.logger.Error("failed to create version", "session_id", v.SessionID, "version_number", v.Number, "error", err)
		return err
	}
	return nil
}

func (r *versionRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*entity.Version, error) {
	sel := r.db.builder().Select(versionColumns...).
		From(r.db.builder().Table(tableVersions)).
		Where(entsql.EQ("session_id", sessionID.String())).
		OrderBy("version_number")
	var out []*entity.Version
	err := r.db.query(ctx, sel, func(rows *sql.Rows) error {
		v, err := scanVersion(rows)
		if err == nil {
			out = append(out, v)
		}
		return err
	})
	if err != nil {
		r.logger.Error("failed to list versions", "session_id", sessionID, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *versionRepository) GetByNumber(ctx context.Context, sessionID uuid.UUID, number int) (*entity.Version, error) {
	sel := r.db.builder().Select(versionColumns...).
		From(r.db.builder().Table(tableVersions)).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID.String()),
			entsql.EQ("version_number", number),
		))
	var out *entity.Version
	err := r.db.query(ctx, sel, func(rows *sql.Rows) error {
		v, err := scanVersion(rows)
		out = v
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, common.NewAppError("VERSION_NOT_FOUND", fmt.Sprintf("version %d of session %s not found", number, sessionID), common.ErrNotFound)
	}
	return out, nil
}

func (r *versionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.VersionStatus, completedAt time.Time) error {
	upd := r.db.builder().Update(tableVersions).
		Set("status", string(status)).
		Set("completed_at", toMillis(completedAt)).
		Where(entsql.EQ("id", id.String()))
	n, err := r.db.exec(ctx, upd)
	if err != nil {
		r.logger.Error("failed to update version status", "version_id", id, "status", status, "error", err)
		return err
	}
	if n == 0 {
		return common.NewAppError("VERSION_NOT_FOUND", "version "+id.String()+" not found", common.ErrNotFound)
	}
	return nil
}

func scanVersion(rows *sql.Rows) (*entity.Version, error) {
	var (
		v                  entity.Version
		id, sid, status    string
		created, completed int64
	)
	if err := rows.Scan(&id, &sid, &v.Number, &v.ModelID, &v.Instructions, &status, &created, &completed); err != nil {
		return nil, err
	}
	var err error
	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if v.SessionID, err = uuid.Parse(sid); err != nil {
		return nil, err
	}
	v.Status = constants.VersionStatus(status)
	v.CreatedAt = fromMillis(created)
	if completed != 0 {
		t := fromMillis(completed)
		v.CompletedAt = &t
	}
	return &v, nil
}
