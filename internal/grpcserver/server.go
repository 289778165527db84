// Package grpcserver implements the ExtractionService gRPC API on top of the
// pipeline service.
package grpcserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/compare"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/stream"
	pb "github.com/joseph-ayodele/docextract/proto"
)

// Server implements pb.ExtractionServiceServer.
type Server struct {
	svc    *pipeline.Service
	logger *slog.Logger
}

func NewServer(svc *pipeline.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger}
}

// SubmitRun starts a run and streams its events until the terminal event.
func (s *Server) SubmitRun(req *pb.SubmitRunRequest, out pb.RunEventSender) error {
	if len(req.Files) == 0 {
		s.logger.Error("grpc.submit_run.no_files")
		return common.InvalidArgumentError("at least one file is required")
	}
	docs := make([]convert.Document, 0, len(req.Files))
	for i, f := range req.Files {
		if f == nil || strings.TrimSpace(f.Filename) == "" {
			return common.InvalidArgumentErrorf("files[%d]: filename is required", i)
		}
		docs = append(docs, convert.Document{Filename: f.Filename, Data: f.Data})
	}

	h, err := s.svc.SubmitRun(out.Context(), pipeline.SubmitRequest{
		SchemaKey:    req.SchemaKey,
		Instructions: req.Instructions,
		ModelID:      req.ModelID,
		Files:        docs,
	})
	if err != nil {
		s.logger.Error("grpc.submit_run.failed", "error", err)
		return common.GRPCError(err)
	}
	s.logger.Info("grpc.submit_run.started", "run_id", h.Run.ID, "session_id", h.SessionID, "files", len(docs))
	return s.forward(out, h)
}

// ReExtract starts a new version of an existing session and streams its events.
func (s *Server) ReExtract(req *pb.ReExtractRequest, out pb.RunEventSender) error {
	sid, err := parseID("session_id", req.SessionID)
	if err != nil {
		return err
	}
	fileIDs := make([]uuid.UUID, 0, len(req.FileIDs))
	for _, raw := range req.FileIDs {
		id, err := parseID("file_ids", raw)
		if err != nil {
			return err
		}
		fileIDs = append(fileIDs, id)
	}

	h, err := s.svc.ReExtract(out.Context(), pipeline.ReExtractRequest{
		SessionID:    sid,
		ModelID:      req.ModelID,
		Instructions: req.Instructions,
		FileIDs:      fileIDs,
	})
	if err != nil {
		s.logger.Error("grpc.re_extract.failed", "session_id", sid, "model", req.ModelID, "error", err)
		return common.GRPCError(err)
	}
	s.logger.Info("grpc.re_extract.started", "run_id", h.Run.ID, "session_id", sid, "version", h.VersionNumber)
	return s.forward(out, h)
}

// forward relays run events to the client. A failed send or a client
// disconnect cancels the run.
func (s *Server) forward(out pb.RunEventSender, h *pipeline.RunHandle) error {
	ctx := out.Context()
	for {
		select {
		case ev, ok := <-h.Run.Events():
			if !ok {
				return nil
			}
			msg, err := toRunEvent(ev)
			if err != nil {
				h.Run.Cancel()
				return common.InternalErrorf("encode event %d: %v", ev.Seq, err)
			}
			if err := out.Send(msg); err != nil {
				s.logger.Warn("grpc.stream.send_failed", "run_id", h.Run.ID, "error", err)
				h.Run.Cancel()
				return err
			}
		case <-ctx.Done():
			h.Run.Cancel()
			s.logger.Info("grpc.stream.client_gone", "run_id", h.Run.ID)
			return status.FromContextError(ctx.Err()).Err()
		}
	}
}

func (s *Server) ListVersions(ctx context.Context, req *pb.ListVersionsRequest) (*pb.ListVersionsResponse, error) {
	sid, err := parseID("session_id", req.SessionID)
	if err != nil {
		return nil, err
	}
	versions, err := s.svc.ListVersions(ctx, sid)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	resp := &pb.ListVersionsResponse{SessionID: sid.String(), Versions: make([]*pb.Version, 0, len(versions))}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, toVersion(v))
	}
	return resp, nil
}

func (s *Server) Compare(ctx context.Context, req *pb.CompareRequest) (*pb.CompareResponse, error) {
	sid, err := parseID("session_id", req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.VersionA <= 0 || req.VersionB <= 0 {
		return nil, common.InvalidArgumentError("version_a and version_b must be positive")
	}
	var fileID *uuid.UUID
	if req.FileID != "" {
		id, err := parseID("file_id", req.FileID)
		if err != nil {
			return nil, err
		}
		fileID = &id
	}

	diffs, err := s.svc.Compare(ctx, sid, int(req.VersionA), int(req.VersionB), fileID)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	resp := &pb.CompareResponse{
		SessionID: sid.String(),
		VersionA:  req.VersionA,
		VersionB:  req.VersionB,
		Files:     make([]*pb.FileDiff, 0, len(diffs)),
	}
	for _, d := range diffs {
		resp.Files = append(resp.Files, toFileDiff(d))
	}
	return resp, nil
}

func (s *Server) CancelRun(_ context.Context, req *pb.CancelRunRequest) (*pb.CancelRunResponse, error) {
	if strings.TrimSpace(req.RunID) == "" {
		return nil, common.InvalidArgumentError("run_id is required")
	}
	if err := s.svc.CancelRun(req.RunID); err != nil {
		return nil, common.GRPCError(err)
	}
	return &pb.CancelRunResponse{RunID: req.RunID, Cancelled: true}, nil
}

// UnaryLogger logs every unary call with its duration and status code. An
// x-request-id metadata value is carried into the handler context.
func UnaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		var rid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-request-id"); len(v) > 0 {
				rid = v[0]
				ctx = common.WithRequestID(ctx, rid)
			}
		}
		resp, err := handler(ctx, req)
		logger.Info("grpc.call",
			"request_id", rid,
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, common.InvalidArgumentErrorf("invalid %s: %v", field, err)
	}
	return id, nil
}

func toRunEvent(ev stream.Event) (*pb.RunEvent, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	return &pb.RunEvent{
		Seq:       ev.Seq,
		Type:      string(ev.Type),
		RunID:     ev.RunID,
		Timestamp: ev.Timestamp,
		Payload:   payload,
	}, nil
}

func toVersion(v *entity.Version) *pb.Version {
	return &pb.Version{
		ID:           v.ID.String(),
		Number:       int32(v.Number),
		ModelID:      v.ModelID,
		Instructions: v.Instructions,
		Status:       string(v.Status),
		CreatedAt:    v.CreatedAt,
		CompletedAt:  v.CompletedAt,
	}
}

func toFileDiff(d compare.FileDiff) *pb.FileDiff {
	out := &pb.FileDiff{
		FileID:   d.FileID,
		Filename: d.Filename,
		ErrorA:   d.ErrorA,
		ErrorB:   d.ErrorB,
		Fields:   make([]*pb.FieldDiff, 0, len(d.Fields)),
		Summary: &pb.DiffSummary{
			Same:       int32(d.Summary.Same),
			Different:  int32(d.Summary.Different),
			Formatting: int32(d.Summary.Formatting),
			MissingInA: int32(d.Summary.MissingInA),
			MissingInB: int32(d.Summary.MissingInB),
		},
	}
	for _, f := range d.Fields {
		out.Fields = append(out.Fields, &pb.FieldDiff{
			Path:       f.Path,
			Status:     string(f.Status),
			Kind:       string(f.Kind),
			A:          f.A,
			B:          f.B,
			Similarity: f.Similarity,
		})
	}
	return out
}
