package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const tableSessions = "extraction_sessions"

var sessionColumns = []string{"id", "schema_key", "instructions", "file_count", "status", "created_at", "expires_at"}

type SessionRepository interface {
	Create(ctx context.Context, s *entity.Session) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Session, error)
	ListExpiring(ctx context.Context, now time.Time) ([]*entity.Session, error)
	MarkExpired(ctx context.Context, id uuid.UUID) error
}

type sessionRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewSessionRepository(db *DB, logger *slog.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *sessionRepository) Create(ctx context.Context, s *entity.Session) error {
	ins := r.db.builder().Insert(tableSessions).
		Columns(sessionColumns...).
		Values(s.ID.String(), s.SchemaKey, s.Instructions, s.FileCount, string(s.Status), toMillis(s.CreatedAt), toMillis(s.ExpiresAt))
	if _, err := r.db.exec(ctx, ins); err != nil {
		r.logger.Error("failed to create session", "session_id", s.ID, "error", err)
		return err
	}
	return nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	sel := r.db.builder().Select(sessionColumns...).
		From(r.db.builder().Table(tableSessions)).
		Where(entsql.EQ("id", id.String()))
	var out *entity.Session
	err := r.db.query(ctx, sel, func(rows *sql.Rows) error {
		s, err := scanSession(rows)
		out = s
		return err
	})
	if err != nil {
		r.logger.Error("failed to get session", "session_id", id, "error", err)
		return nil, err
	}
	if out == nil {
		return nil, common.NewAppError("SESSION_NOT_FOUND", "session "+id.String()+" not found", common.ErrNotFound)
	}
	return out, nil
}

// ListExpiring returns active sessions whose expiry is at or before now.
func (r *sessionRepository) ListExpiring(ctx context.Context, now time.Time) ([]*entity.Session, error) {
	sel := r.db.builder().Select(sessionColumns...).
		From(r.db.builder().Table(tableSessions)).
		Where(entsql.And(
			entsql.EQ("status", string(constants.SessionStatusActive)),
			entsql.LTE("expires_at", toMillis(now)),
		)).
		OrderBy("expires_at")
	var out []*entity.Session
	err := r.db.query(ctx, sel, func(rows *sql.Rows) error {
		s, err := scanSession(rows)
		if err == nil {
			out = append(out, s)
		}
		return err
	})
	if err != nil {
		r.logger.Error("failed to list expiring sessions", "error", err)
		return nil, err
	}
	return out, nil
}

func (r *sessionRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	upd := r.db.builder().Update(tableSessions).
		Set("status", string(constants.SessionStatusExpired)).
		Where(entsql.EQ("id", id.String()))
	_, err := r.db.exec(ctx, upd)
	return err
}

func scanSession(rows *sql.Rows) (*entity.Session, error) {
	var (
		s                  entity.Session
		id, status         string
		created, expiresAt int64
	)
	if err := rows.Scan(&id, &s.SchemaKey, &s.Instructions, &s.FileCount, &status, &created, &expiresAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	s.ID = parsed
	s.Status = constants.SessionStatus(status)
	s.CreatedAt = fromMillis(created)
	s.ExpiresAt = fromMillis(expiresAt)
	return &s, nil
}
