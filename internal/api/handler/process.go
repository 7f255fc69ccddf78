package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/slidefix/internal/api/middleware"
	"github.com/timmy/slidefix/internal/domain"
)

// MaxDocumentsPerRequest bounds the documents accepted by one request.
const MaxDocumentsPerRequest = 200

// Processor repairs and audits documents.
type Processor interface {
	Process(ctx context.Context, docs []domain.Document, perDocTimeout time.Duration) ([]domain.Document, *domain.Report)
	ValidatePresentation(ctx context.Context, docs []domain.Document) *domain.AuditReport
}

// Archiver stores run reports. It is optional.
type Archiver interface {
	ArchiveReport(ctx context.Context, runID string, report any) (string, error)
}

// ProcessRequest is the body of POST /api/v1/process and /api/v1/validate.
type ProcessRequest struct {
	Documents []domain.Document `json:"documents" binding:"required"`
	TimeoutMs int               `json:"timeout_ms"`
	Archive   bool              `json:"archive"`
}

// ProcessResponse is the result of POST /api/v1/process.
type ProcessResponse struct {
	Documents  []domain.Document `json:"documents"`
	Report     *domain.Report    `json:"report"`
	ArchiveKey string            `json:"archive_key,omitempty"`
}

// AuditResponse is the result of POST /api/v1/validate.
type AuditResponse struct {
	Report     *domain.AuditReport `json:"report"`
	ArchiveKey string              `json:"archive_key,omitempty"`
}

// ProcessHandler serves the document endpoints.
type ProcessHandler struct {
	processor Processor
	archiver  Archiver
}

// NewProcessHandler creates a new process handler.
// Parameters:
//   - processor: pipeline that repairs documents.
//   - archiver: report archive; nil ignores archive requests.
// Returns:
//   - *ProcessHandler: initialized handler.
func NewProcessHandler(processor Processor, archiver Archiver) *ProcessHandler {
	return &ProcessHandler{processor: processor, archiver: archiver}
}

func bindDocuments(c *gin.Context) (*ProcessRequest, bool) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return nil, false
	}
	if len(req.Documents) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: no documents"})
		return nil, false
	}
	if len(req.Documents) > MaxDocumentsPerRequest {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("At most %d documents per request", MaxDocumentsPerRequest),
		})
		return nil, false
	}
	for i := range req.Documents {
		if req.Documents[i].ID == "" {
			req.Documents[i].ID = fmt.Sprintf("doc-%d", i+1)
		}
	}
	return &req, true
}

// Process handles POST /api/v1/process.
func (h *ProcessHandler) Process(c *gin.Context) {
	req, ok := bindDocuments(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	docs, report := h.processor.Process(ctx, req.Documents, time.Duration(req.TimeoutMs)*time.Millisecond)
	resp := ProcessResponse{Documents: docs, Report: report}
	if req.Archive {
		resp.ArchiveKey = h.archive(c, report.RunID, report)
	}
	c.JSON(http.StatusOK, resp)
}

// Validate handles POST /api/v1/validate. Documents are not modified.
func (h *ProcessHandler) Validate(c *gin.Context) {
	req, ok := bindDocuments(c)
	if !ok {
		return
	}

	report := h.processor.ValidatePresentation(c.Request.Context(), req.Documents)
	resp := AuditResponse{Report: report}
	if req.Archive {
		resp.ArchiveKey = h.archive(c, report.RunID, report)
	}
	c.JSON(http.StatusOK, resp)
}

// archive stores report, logging failures; the response still succeeds.
func (h *ProcessHandler) archive(c *gin.Context, runID string, report any) string {
	if h.archiver == nil {
		return ""
	}
	key, err := h.archiver.ArchiveReport(c.Request.Context(), runID, report)
	if err != nil {
		_ = c.Error(err)
		middleware.GetLogger(c).WithError(err).Warn("Failed to archive report")
		return ""
	}
	return key
}
