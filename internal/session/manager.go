// Package session tracks extraction sessions and their versions. A session
// holds one schema and a set of converted files; each version is one model
// run over those files.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

type Config struct {
	TTL             time.Duration
	MaxVersions     int
	SweepInterval   time.Duration
	AllowModelReuse bool
}

func ConfigFrom(c common.SessionConfig) Config {
	return Config{
		TTL:             c.TTL,
		MaxVersions:     c.MaxVersions,
		SweepInterval:   c.SweepInterval,
		AllowModelReuse: c.AllowModelReuse,
	}
}

// FileInput is one file handed to CreateSession after conversion.
type FileInput struct {
	ID              uuid.UUID
	Filename        string
	Content         string
	ConversionError string
}

// Created is everything recorded by CreateSession.
type Created struct {
	Session *entity.Session
	Version *entity.Version
	Files   []*entity.SessionFile
}

type Manager struct {
	repos  *repository.Repositories
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	sweeps []func(context.Context)

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

type Option func(*Manager)

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSweepHook runs fn on every janitor tick after session cleanup.
func WithSweepHook(fn func(context.Context)) Option {
	return func(m *Manager) { m.sweeps = append(m.sweeps, fn) }
}

func NewManager(repos *repository.Repositories, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = 4
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	m := &Manager{
		repos:  repos,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) lock(id uuid.UUID) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// CreateSession records a session for files together with version 1 under pc.
func (m *Manager) CreateSession(ctx context.Context, pc entity.ProcessingContext, files []FileInput) (*Created, error) {
	if pc.IsZero() {
		return nil, fmt.Errorf("%w: session requires a processing context", common.ErrInvalidContext)
	}
	if len(files) == 0 {
		return nil, common.NewAppError("EMPTY_SESSION", "session requires at least one file", common.ErrInvalidInput)
	}

	now := m.now().UTC()
	s := &entity.Session{
		ID:           uuid.New(),
		SchemaKey:    pc.SchemaKey(),
		Instructions: pc.Instructions(),
		FileCount:    len(files),
		Status:       constants.SessionStatusActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.cfg.TTL),
	}
	if err := m.repos.Sessions.Create(ctx, s); err != nil {
		return nil, err
	}

	rows := make([]*entity.SessionFile, len(files))
	for i, f := range files {
		id := f.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows[i] = &entity.SessionFile{
			ID:              id,
			SessionID:       s.ID,
			Filename:        f.Filename,
			Content:         f.Content,
			ConversionError: f.ConversionError,
			CreatedAt:       now,
		}
	}
	if err := m.repos.Files.CreateMany(ctx, rows); err != nil {
		return nil, err
	}

	v := &entity.Version{
		ID:           uuid.New(),
		SessionID:    s.ID,
		Number:       1,
		ModelID:      pc.ModelID(),
		Instructions: pc.Instructions(),
		Status:       constants.VersionStatusProcessing,
		CreatedAt:    now,
	}
	if err := m.repos.Versions.Create(ctx, v); err != nil {
		return nil, err
	}

	m.logger.Info("session.created", "session_id", s.ID, "files", len(rows), "model", v.ModelID,
		"expires_at", s.ExpiresAt)
	return &Created{Session: s, Version: v, Files: rows}, nil
}

// AddVersion creates the next version for a model. It fails with
// ErrSessionExpired, ErrModelAlreadyUsed or ErrVersionLimitExceeded, in that
// order of precedence.
func (m *Manager) AddVersion(ctx context.Context, sessionID uuid.UUID, modelID, instructions string) (*entity.Version, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	s, err := m.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		return nil, common.NewAppError("SESSION_EXPIRED", "session "+sessionID.String()+" has expired", common.ErrSessionExpired)
	}

	versions, err := m.repos.Versions.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !m.cfg.AllowModelReuse {
		for _, v := range versions {
			if v.ModelID == modelID {
				return nil, common.NewAppError("MODEL_ALREADY_USED",
					fmt.Sprintf("model %s already produced version %d", modelID, v.Number), common.ErrModelAlreadyUsed)
			}
		}
	}
	if len(versions) >= m.cfg.MaxVersions {
		return nil, common.NewAppError("VERSION_LIMIT_EXCEEDED",
			fmt.Sprintf("session already has %d of %d versions", len(versions), m.cfg.MaxVersions), common.ErrVersionLimitExceeded)
	}

	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].Number + 1
	}
	v := &entity.Version{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Number:       next,
		ModelID:      modelID,
		Instructions: instructions,
		Status:       constants.VersionStatusProcessing,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.repos.Versions.Create(ctx, v); err != nil {
		return nil, err
	}
	m.logger.Info("session.version.created", "session_id", sessionID, "version", next, "model", modelID)
	return v, nil
}

func (m *Manager) Session(ctx context.Context, sessionID uuid.UUID) (*entity.Session, error) {
	return m.repos.Sessions.Get(ctx, sessionID)
}

func (m *Manager) GetVersions(ctx context.Context, sessionID uuid.UUID) ([]*entity.Version, error) {
	if _, err := m.repos.Sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.repos.Versions.ListBySession(ctx, sessionID)
}

func (m *Manager) GetVersion(ctx context.Context, sessionID uuid.UUID, number int) (*entity.Version, error) {
	return m.repos.Versions.GetByNumber(ctx, sessionID, number)
}

func (m *Manager) ListFiles(ctx context.Context, sessionID uuid.UUID) ([]*entity.SessionFile, error) {
	return m.repos.Files.ListBySession(ctx, sessionID)
}

// GetCachedContent returns the converted content of one file. Content is
// unavailable once the session has expired.
func (m *Manager) GetCachedContent(ctx context.Context, sessionID, fileID uuid.UUID) (string, error) {
	s, err := m.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.Expired(m.now()) {
		return "", common.NewAppError("SESSION_EXPIRED", "session "+sessionID.String()+" has expired", common.ErrSessionExpired)
	}
	f, err := m.repos.Files.Get(ctx, fileID)
	if err != nil {
		return "", err
	}
	switch {
	case f.SessionID != sessionID:
		return "", common.NewAppError("FILE_NOT_FOUND", fmt.Sprintf("file %s is not part of session %s", fileID, sessionID), common.ErrNotFound)
	case f.Purged:
		return "", common.NewAppError("SESSION_EXPIRED", "content of file "+fileID.String()+" was purged", common.ErrSessionExpired)
	case !f.Converted():
		return "", fmt.Errorf("%w: %s", common.ErrConversionFailure, f.ConversionError)
	}
	return f.Content, nil
}

// CompleteVersion moves a version to a terminal status.
func (m *Manager) CompleteVersion(ctx context.Context, versionID uuid.UUID, status constants.VersionStatus) error {
	if !status.Terminal() {
		return common.NewAppError("INVALID_STATUS", fmt.Sprintf("%s is not a terminal version status", status), common.ErrInvalidInput)
	}
	if err := m.repos.Versions.UpdateStatus(ctx, versionID, status, m.now().UTC()); err != nil {
		return err
	}
	m.logger.Info("session.version.finished", "version_id", versionID, "status", status)
	return nil
}

func (m *Manager) RecordResult(ctx context.Context, res *entity.FileVersionResult) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = m.now().UTC()
	}
	return m.repos.Results.Upsert(ctx, res)
}

func (m *Manager) Results(ctx context.Context, versionID uuid.UUID) ([]*entity.FileVersionResult, error) {
	return m.repos.Results.ListByVersion(ctx, versionID)
}

// CleanupExpiredSessions purges cached content and marks sessions expired
// once their expiry has passed. Versions still running are left alone.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (int, error) {
	expiring, err := m.repos.Sessions.ListExpiring(ctx, m.now())
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, s := range expiring {
		purged, err := m.repos.Files.PurgeContent(ctx, s.ID)
		if err != nil {
			return cleaned, err
		}
		if err := m.repos.Sessions.MarkExpired(ctx, s.ID); err != nil {
			return cleaned, err
		}
		m.forget(s.ID)
		cleaned++
		m.logger.Info("session.expired", "session_id", s.ID, "purged_files", purged)
	}
	return cleaned, nil
}

func (m *Manager) forget(id uuid.UUID) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}

// StartJanitor runs CleanupExpiredSessions every SweepInterval until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context) {
	go func() {
		t := time.NewTicker(m.cfg.SweepInterval)
		defer t.Stop()
		m.logger.Info("session.janitor.started", "interval", m.cfg.SweepInterval)
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("session.janitor.stopped")
				return
			case <-t.C:
				if _, err := m.CleanupExpiredSessions(ctx); err != nil {
					m.logger.Error("session.janitor.failed", "error", err)
				}
				for _, fn := range m.sweeps {
					fn(ctx)
				}
			}
		}
	}()
}
