package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/common"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleListVersions(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	versions, err := s.svc.ListVersions(c.Request.Context(), sid)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "versions": versions})
}

// handleCompare serves GET /v1/sessions/:id/compare?a=1&b=2[&file_id=...].
func (s *Server) handleCompare(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	a, errA := versionParam(c.Query("a"))
	b, errB := versionParam(c.Query("b"))
	if errA != nil || errB != nil {
		handleError(c, common.NewAppError("INVALID_VERSION", "query parameters a and b must be positive version numbers", common.ErrInvalidInput))
		return
	}
	var fileID *uuid.UUID
	if raw := c.Query("file_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			handleError(c, common.NewAppError("INVALID_FILE_ID", "file_id must be a UUID", common.ErrInvalidInput))
			return
		}
		fileID = &id
	}

	diffs, err := s.svc.Compare(c.Request.Context(), sid, a, b, fileID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "version_a": a, "version_b": b, "files": diffs})
}

// handleExport serves GET /v1/sessions/:id/export?versions=1,2.
func (s *Server) handleExport(c *gin.Context) {
	if s.exporter == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "export is not enabled"})
		return
	}
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var numbers []int
	for _, part := range strings.Split(c.DefaultQuery("versions", "1"), ",") {
		n, err := versionParam(strings.TrimSpace(part))
		if err != nil {
			handleError(c, common.NewAppError("INVALID_VERSION", fmt.Sprintf("bad version %q", part), common.ErrInvalidInput))
			return
		}
		numbers = append(numbers, n)
	}

	xlsx, err := s.exporter.ExportVersionsXLSX(c.Request.Context(), sid, numbers...)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "session_id", sid, "err", err)
		handleError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s.xlsx"`, sid))
	c.Data(http.StatusOK, xlsxContentType, xlsx)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Stats())
}

func versionParam(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("version must be positive")
	}
	return n, nil
}
