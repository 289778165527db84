package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

const maxUploadBytes = 64 << 20

// fileBody is one document of a JSON run request. Content is plain text;
// Data is base64 and takes precedence when both are set.
type fileBody struct {
	Filename string `json:"filename" binding:"required"`
	Content  string `json:"content"`
	Data     []byte `json:"data"`
}

type submitBody struct {
	SchemaKey    string     `json:"schema_key" binding:"required"`
	Instructions string     `json:"instructions"`
	ModelID      string     `json:"model_id"`
	Files        []fileBody `json:"files" binding:"required,min=1,dive"`
}

type reExtractBody struct {
	ModelID      string      `json:"model_id" binding:"required"`
	Instructions *string     `json:"instructions"`
	FileIDs      []uuid.UUID `json:"file_ids"`
}

// handleSubmitRun accepts either multipart/form-data (files under "files")
// or a JSON body, and streams the run.
func (s *Server) handleSubmitRun(c *gin.Context) {
	var (
		req pipeline.SubmitRequest
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = submitFromForm(c)
	} else {
		req, err = submitFromJSON(c)
	}
	if err != nil {
		handleError(c, err)
		return
	}

	h, err := s.svc.SubmitRun(c.Request.Context(), req)
	if err != nil {
		s.logger.Error("http.submit_run.failed", "error", err)
		handleError(c, err)
		return
	}
	s.logger.Info("http.submit_run.started", "run_id", h.Run.ID, "session_id", h.SessionID, "files", len(req.Files))
	s.streamRun(c, h)
}

func submitFromJSON(c *gin.Context) (pipeline.SubmitRequest, error) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return pipeline.SubmitRequest{}, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	docs := make([]convert.Document, 0, len(body.Files))
	for _, f := range body.Files {
		data := f.Data
		if len(data) == 0 {
			data = []byte(f.Content)
		}
		docs = append(docs, convert.Document{Filename: f.Filename, Data: data})
	}
	return pipeline.SubmitRequest{
		SchemaKey:    body.SchemaKey,
		Instructions: body.Instructions,
		ModelID:      body.ModelID,
		Files:        docs,
	}, nil
}

func submitFromForm(c *gin.Context) (pipeline.SubmitRequest, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		return pipeline.SubmitRequest{}, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return pipeline.SubmitRequest{}, fmt.Errorf("%w: no files uploaded", common.ErrInvalidInput)
	}
	docs := make([]convert.Document, 0, len(headers))
	for _, fh := range headers {
		data, err := readUpload(fh)
		if err != nil {
			return pipeline.SubmitRequest{}, fmt.Errorf("%w: read %s: %v", common.ErrInvalidInput, fh.Filename, err)
		}
		docs = append(docs, convert.Document{Filename: fh.Filename, Data: data})
	}
	return pipeline.SubmitRequest{
		SchemaKey:    c.PostForm("schema_key"),
		Instructions: c.PostForm("instructions"),
		ModelID:      c.PostForm("model_id"),
		Files:        docs,
	}, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleReExtract(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var body reExtractBody
	if err := c.ShouldBindJSON(&body); err != nil {
		handleError(c, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}

	h, err := s.svc.ReExtract(c.Request.Context(), pipeline.ReExtractRequest{
		SessionID:    sid,
		ModelID:      body.ModelID,
		Instructions: body.Instructions,
		FileIDs:      body.FileIDs,
	})
	if err != nil {
		s.logger.Error("http.re_extract.failed", "session_id", sid, "model", body.ModelID, "error", err)
		handleError(c, err)
		return
	}
	s.logger.Info("http.re_extract.started", "run_id", h.Run.ID, "session_id", sid, "version", h.VersionNumber)
	s.streamRun(c, h)
}

// streamRun writes run events as SSE until the terminal event. A client that
// goes away cancels the run.
func (s *Server) streamRun(c *gin.Context, h *pipeline.RunHandle) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Run-ID", h.Run.ID)
	c.Header("X-Session-ID", h.SessionID.String())

	events := h.Run.Events()
	ctx := c.Request.Context()
	clientGone := c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return !ev.Type.Terminal()
		case <-ctx.Done():
			return false
		}
	})
	if (clientGone || ctx.Err() != nil) && h.Run.Cancel() {
		s.logger.Info("http.stream.client_gone", "run_id", h.Run.ID)
	}
}

func (s *Server) handleCancelRun(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.svc.CancelRun(id); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "cancelled": true})
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handleError(c, common.NewAppError("INVALID_SESSION_ID", "session id must be a UUID", common.ErrInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	msg := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	c.JSON(common.HTTPStatus(err), gin.H{"error": msg, "code": common.ErrorCode(err)})
}
