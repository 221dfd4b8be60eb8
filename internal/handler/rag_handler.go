package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/pkg/errcode"
	"github.com/xxxsen/docrag/internal/pkg/response"
	"github.com/xxxsen/docrag/internal/service"
)

// RAGService is the pipeline the handlers drive.
type RAGService interface {
	Ingest(ctx context.Context, filename string, data []byte) (*model.IngestResult, error)
	Answer(ctx context.Context, query string, k int) (*model.Answer, error)
	Documents() []model.Document
	Clear(ctx context.Context) error
	Health(ctx context.Context) (*service.Health, error)
}

type RAGHandler struct {
	svc           RAGService
	maxUploadSize int64
}

func NewRAGHandler(svc RAGService, maxUploadSize int64) *RAGHandler {
	return &RAGHandler{svc: svc, maxUploadSize: maxUploadSize}
}

type queryRequest struct {
	Query  string `json:"query"`
	K      int    `json:"k"`
	Format string `json:"format"`
}

type queryResponse struct {
	*model.Answer
	AnswerHTML string `json:"answer_html,omitempty"`
}

type clearResponse struct {
	Message string `json:"message"`
}

func (h *RAGHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "file is required")
		return
	}
	data, err := readUpload(file, h.maxUploadSize)
	if errors.Is(err, errUploadTooLarge) {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxUploadSize))
		return
	}
	if err != nil {
		logutil.GetLogger(c.Request.Context()).Error("read upload failed", zap.String("filename", file.Filename), zap.Error(err))
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	res, err := h.svc.Ingest(c.Request.Context(), file.Filename, data)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

// Query accepts the question as the "query" parameter or in a JSON body.
func (h *RAGHandler) Query(c *gin.Context) {
	var req queryRequest
	if strings.HasPrefix(c.ContentType(), "application/json") && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
			return
		}
	}
	if q, ok := c.GetQuery("query"); ok {
		req.Query = q
	}
	if raw := c.Query("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 0 {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "k must be a non-negative integer")
			return
		}
		req.K = k
	}
	if f := c.Query("format"); f != "" {
		req.Format = f
	}
	ans, err := h.svc.Answer(c.Request.Context(), req.Query, req.K)
	if err != nil {
		handleError(c, err)
		return
	}
	out := queryResponse{Answer: ans}
	if req.Format == "html" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(ans.Answer), &buf); err == nil {
			out.AnswerHTML = buf.String()
		}
	}
	response.Success(c, out)
}

func (h *RAGHandler) Documents(c *gin.Context) {
	response.Success(c, h.svc.Documents())
}

func (h *RAGHandler) Clear(c *gin.Context) {
	if err := h.svc.Clear(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, clearResponse{Message: "Documents cleared successfully"})
}

func (h *RAGHandler) Health(c *gin.Context) {
	res, err := h.svc.Health(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}
