package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/middleware"
	"github.com/xxxsen/docrag/internal/pkg/errcode"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/pkg/response"
)

type errMapping struct {
	target  error
	status  int
	code    int
	message string
}

// Order matters: a timeout also matches the step it interrupted.
var errMappings = []errMapping{
	{appErr.ErrUnsupportedType, http.StatusBadRequest, errcode.ErrUnsupportedType, "unsupported file type"},
	{appErr.ErrEmptyQuery, http.StatusBadRequest, errcode.ErrEmptyQuery, "question cannot be empty"},
	{appErr.ErrInvalid, http.StatusBadRequest, errcode.ErrInvalid, "invalid request"},
	{appErr.ErrNotFound, http.StatusNotFound, errcode.ErrNotFound, "not found"},
	{appErr.ErrTimeout, http.StatusInternalServerError, errcode.ErrTimeout, "operation timed out"},
	{appErr.ErrExtraction, http.StatusInternalServerError, errcode.ErrExtraction, "text extraction failed"},
	{appErr.ErrEmbedding, http.StatusInternalServerError, errcode.ErrEmbedding, "embedding failed"},
	{appErr.ErrIndex, http.StatusInternalServerError, errcode.ErrIndex, "vector index failed"},
	{appErr.ErrSynthesis, http.StatusInternalServerError, errcode.ErrSynthesis, "answer synthesis failed"},
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	for _, m := range errMappings {
		if errors.Is(err, m.target) {
			response.Error(c, m.status, m.code, m.message)
			return
		}
	}
	response.Error(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
}
