// Package pipeline ties conversion, sessions and the batch scheduler into the
// operations exposed by the HTTP and gRPC servers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/batch"
	"github.com/joseph-ayodele/docextract/internal/cache"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/compare"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/session"
)

// SubmitRequest is a new run over raw documents.
type SubmitRequest struct {
	SchemaKey    string
	Instructions string
	ModelID      string
	Files        []convert.Document
}

// ReExtractRequest reruns a session's files under a new model. Instructions
// default to those of version 1; FileIDs default to every file.
type ReExtractRequest struct {
	SessionID    uuid.UUID
	ModelID      string
	Instructions *string
	FileIDs      []uuid.UUID
}

// RunHandle is a live run bound to the session version it populates.
type RunHandle struct {
	Run           *batch.Run
	SessionID     uuid.UUID
	VersionID     uuid.UUID
	VersionNumber int
}

type Service struct {
	sessions  *session.Manager
	scheduler *batch.Scheduler
	converter convert.Converter
	registry  *llm.Registry
	cache     *cache.ResultCache
	logger    *slog.Logger

	defaultModel   string
	convertWorkers int

	mu   sync.Mutex
	runs map[string]*RunHandle
}

type Option func(*Service)

func WithDefaultModel(model string) Option {
	return func(s *Service) {
		if model != "" {
			s.defaultModel = model
		}
	}
}

func WithConvertWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.convertWorkers = n
		}
	}
}

// WithCache exposes cache statistics; the scheduler owns cache access.
func WithCache(c *cache.ResultCache) Option {
	return func(s *Service) { s.cache = c }
}

func NewService(sessions *session.Manager, scheduler *batch.Scheduler, converter convert.Converter, registry *llm.Registry, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		sessions:       sessions,
		scheduler:      scheduler,
		converter:      converter,
		registry:       registry,
		logger:         logger,
		defaultModel:   "gpt-4o-mini",
		convertWorkers: 4,
		runs:           make(map[string]*RunHandle),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) newContext(schemaKey, instructions, modelID string) (entity.ProcessingContext, error) {
	if modelID == "" {
		modelID = s.defaultModel
	}
	pc, err := entity.NewProcessingContext(schemaKey, instructions, modelID)
	if err != nil {
		return entity.ProcessingContext{}, err
	}
	if s.registry != nil && !s.registry.Has(pc.SchemaKey()) {
		return entity.ProcessingContext{}, fmt.Errorf("%w: unknown schema %q", common.ErrInvalidContext, pc.SchemaKey())
	}
	return pc, nil
}

// SubmitRun converts the documents, records a session with version 1 and
// schedules extraction. Conversion failures are reported as per-file results.
func (s *Service) SubmitRun(ctx context.Context, req SubmitRequest) (*RunHandle, error) {
	pc, err := s.newContext(req.SchemaKey, req.Instructions, req.ModelID)
	if err != nil {
		return nil, err
	}
	if len(req.Files) == 0 {
		return nil, common.NewAppError("NO_FILES", "run requires at least one file", common.ErrInvalidInput)
	}

	start := time.Now()
	inputs, err := s.convertAll(ctx, req.Files)
	if err != nil {
		return nil, err
	}
	convDur := time.Since(start)

	created, err := s.sessions.CreateSession(ctx, pc, inputs)
	if err != nil {
		return nil, err
	}

	var (
		items []*batch.Item
		pre   []batch.Result
	)
	for _, f := range created.Files {
		it, pr, err := s.item(pc, f)
		if err != nil {
			return nil, err
		}
		if pr != nil {
			pre = append(pre, *pr)
			continue
		}
		items = append(items, it)
	}

	return s.submit(ctx, created.Version, items, pre, batch.WithPhase(constants.PhaseConversion, convDur))
}

func (s *Service) convertAll(ctx context.Context, docs []convert.Document) ([]session.FileInput, error) {
	inputs := make([]session.FileInput, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.convertWorkers)
	for i, doc := range docs {
		g.Go(func() error {
			in := session.FileInput{ID: uuid.New(), Filename: doc.Filename}
			text, err := s.converter.Convert(gctx, doc)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Warn("pipeline.convert.failed", "filename", doc.Filename, "error", err)
				if !errors.Is(err, common.ErrConversionFailure) {
					err = fmt.Errorf("%w: %w", common.ErrConversionFailure, err)
				}
				in.ConversionError = err.Error()
			}
			in.Content = text
			inputs[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// item builds the scheduler item for a stored file, or a pre-resolved
// failure when the file has no usable content.
func (s *Service) item(pc entity.ProcessingContext, f *entity.SessionFile) (*batch.Item, *batch.Result, error) {
	content := f.Content
	if !f.Converted() {
		content = ""
	}
	it, err := batch.NewItem(f.ID.String(), f.Filename, content, pc)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case !f.Converted():
		return nil, &batch.Result{Item: it, Model: pc.ModelID(), Err: fmt.Errorf("%w: %s", common.ErrConversionFailure, f.ConversionError)}, nil
	case f.Purged:
		return nil, &batch.Result{Item: it, Model: pc.ModelID(), Err: common.ErrSessionExpired}, nil
	}
	return it, nil, nil
}

func (s *Service) submit(ctx context.Context, v *entity.Version, items []*batch.Item, pre []batch.Result, extra ...batch.RunOption) (*RunHandle, error) {
	opts := append([]batch.RunOption{
		batch.WithMetadata(v.SessionID.String(), v.ID.String(), v.Number),
		batch.WithPreResolved(pre...),
		batch.WithResultHook(s.recordResult(v)),
		batch.WithDoneHook(s.finishVersion(v)),
	}, extra...)

	run, err := s.scheduler.Submit(ctx, items, opts...)
	if err != nil {
		dctx, cancel := common.Detached(ctx, 5*time.Second)
		defer cancel()
		if cerr := s.sessions.CompleteVersion(dctx, v.ID, constants.VersionStatusFailed); cerr != nil {
			s.logger.Error("pipeline.version.fail_update", "version_id", v.ID, "error", cerr)
		}
		return nil, err
	}

	h := &RunHandle{Run: run, SessionID: v.SessionID, VersionID: v.ID, VersionNumber: v.Number}
	s.mu.Lock()
	select {
	case <-run.Done():
	default:
		s.runs[run.ID] = h
	}
	s.mu.Unlock()

	s.logger.Info("pipeline.run.started", "run_id", run.ID, "session_id", v.SessionID, "version", v.Number,
		"model", v.ModelID, "items", len(items), "pre_resolved", len(pre), "request_id", common.RequestIDFromContext(ctx))
	return h, nil
}

func (s *Service) recordResult(v *entity.Version) batch.ResultHook {
	return func(ctx context.Context, res batch.Result) {
		fileID, err := uuid.Parse(res.Item.ID)
		if err != nil {
			s.logger.Error("pipeline.result.bad_file_id", "file_id", res.Item.ID, "error", err)
			return
		}
		row := &entity.FileVersionResult{
			FileID:         fileID,
			VersionID:      v.ID,
			Filename:       res.Item.Filename,
			Status:         constants.ResultStatusSuccess,
			Data:           res.Data,
			Model:          res.Model,
			CacheHit:       res.CacheHit,
			ProcessingTime: res.Duration,
		}
		if res.Err != nil {
			row.Status = constants.ResultStatusError
			row.Data = nil
			row.Error = res.Err.Error()
		}
		if err := s.sessions.RecordResult(ctx, row); err != nil {
			s.logger.Error("pipeline.result.persist_failed", "file_id", fileID, "version_id", v.ID, "error", err)
		}
	}
}

func (s *Service) finishVersion(v *entity.Version) batch.DoneHook {
	return func(ctx context.Context, sum batch.Summary) {
		s.mu.Lock()
		delete(s.runs, sum.RunID)
		s.mu.Unlock()

		status := constants.VersionStatusCompleted
		if sum.Cancelled || sum.Err != nil {
			status = constants.VersionStatusFailed
		}
		if err := s.sessions.CompleteVersion(ctx, v.ID, status); err != nil {
			s.logger.Error("pipeline.version.update_failed", "version_id", v.ID, "status", status, "error", err)
		}
	}
}

// ReExtract creates the next version of a session from its cached content.
func (s *Service) ReExtract(ctx context.Context, req ReExtractRequest) (*RunHandle, error) {
	if req.ModelID == "" {
		return nil, common.NewAppError("MODEL_REQUIRED", "re-extraction requires a model id", common.ErrInvalidInput)
	}
	sess, err := s.sessions.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	instructions := sess.Instructions
	if req.Instructions != nil {
		instructions = *req.Instructions
	} else if first, err := s.sessions.GetVersion(ctx, req.SessionID, 1); err == nil {
		instructions = first.Instructions
	}
	pc, err := s.newContext(sess.SchemaKey, instructions, req.ModelID)
	if err != nil {
		return nil, err
	}

	files, err := s.sessions.ListFiles(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	files, err = selectFiles(files, req.FileIDs)
	if err != nil {
		return nil, err
	}

	v, err := s.sessions.AddVersion(ctx, req.SessionID, pc.ModelID(), pc.Instructions())
	if err != nil {
		return nil, err
	}

	var (
		items []*batch.Item
		pre   []batch.Result
	)
	for _, f := range files {
		it, pr, err := s.item(pc, f)
		if err != nil {
			return nil, err
		}
		if pr != nil {
			pre = append(pre, *pr)
			continue
		}
		items = append(items, it)
	}
	return s.submit(ctx, v, items, pre)
}

func selectFiles(files []*entity.SessionFile, ids []uuid.UUID) ([]*entity.SessionFile, error) {
	if len(ids) == 0 {
		return files, nil
	}
	byID := make(map[uuid.UUID]*entity.SessionFile, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}
	out := make([]*entity.SessionFile, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return nil, common.NewAppError("FILE_NOT_FOUND", fmt.Sprintf("file %s is not part of the session", id), common.ErrNotFound)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

func (s *Service) ListVersions(ctx context.Context, sessionID uuid.UUID) ([]*entity.Version, error) {
	return s.sessions.GetVersions(ctx, sessionID)
}

// Compare diffs two versions of a session, optionally for one file.
func (s *Service) Compare(ctx context.Context, sessionID uuid.UUID, a, b int, fileID *uuid.UUID) ([]compare.FileDiff, error) {
	ra, err := s.versionInputs(ctx, sessionID, a, fileID)
	if err != nil {
		return nil, err
	}
	rb, err := s.versionInputs(ctx, sessionID, b, fileID)
	if err != nil {
		return nil, err
	}
	if fileID != nil && len(ra) == 0 && len(rb) == 0 {
		return nil, common.NewAppError("FILE_NOT_FOUND", fmt.Sprintf("no results for file %s", fileID), common.ErrNotFound)
	}
	return compare.Compare(ra, rb), nil
}

// VersionResults returns the stored results of one version.
func (s *Service) VersionResults(ctx context.Context, sessionID uuid.UUID, number int) (*entity.Version, []*entity.FileVersionResult, error) {
	v, err := s.sessions.GetVersion(ctx, sessionID, number)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.sessions.Results(ctx, v.ID)
	if err != nil {
		return nil, nil, err
	}
	return v, results, nil
}

func (s *Service) versionInputs(ctx context.Context, sessionID uuid.UUID, number int, fileID *uuid.UUID) ([]compare.Input, error) {
	_, results, err := s.VersionResults(ctx, sessionID, number)
	if err != nil {
		return nil, err
	}
	return CompareInputs(results, fileID), nil
}

// CompareInputs adapts stored results for the comparison engine.
func CompareInputs(results []*entity.FileVersionResult, fileID *uuid.UUID) []compare.Input {
	out := make([]compare.Input, 0, len(results))
	for _, r := range results {
		if fileID != nil && r.FileID != *fileID {
			continue
		}
		out = append(out, compare.Input{FileID: r.FileID.String(), Filename: r.Filename, Data: r.Data, Error: r.Error})
	}
	return out
}

// CancelRun cancels a live run by id.
func (s *Service) CancelRun(runID string) error {
	s.mu.Lock()
	h, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok || !h.Run.Cancel() {
		return common.NewAppError("RUN_NOT_FOUND", "run "+runID+" is not active", common.ErrNotFound)
	}
	s.logger.Info("pipeline.run.cancelled", "run_id", runID)
	return nil
}

func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Stats reports cache and scheduler load.
type Stats struct {
	Cache      *cache.Stats `json:"cache,omitempty"`
	Scheduler  batch.Stats  `json:"scheduler"`
	ActiveRuns int          `json:"active_runs"`
}

func (s *Service) Stats() Stats {
	st := Stats{Scheduler: s.scheduler.Stats(), ActiveRuns: s.ActiveRuns()}
	if s.cache != nil {
		cs := s.cache.Stats()
		st.Cache = &cs
	}
	return st
}

// Sessions exposes the session manager to the export and server layers.
func (s *Service) Sessions() *session.Manager { return s.sessions }
