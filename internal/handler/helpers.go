package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/ai"
	"github.com/xxxsen/tuneforge/internal/middleware"
	"github.com/xxxsen/tuneforge/internal/pkg/errcode"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
	"github.com/xxxsen/tuneforge/internal/pkg/response"
)

func statusOf(err *appErr.Error) (int, int) {
	switch {
	case err.Code == "AI_UNAVAILABLE":
		return http.StatusServiceUnavailable, errcode.ErrAIUnavailable
	case err.Kind == appErr.KindProvider && err.Action == "uploadTrainingFile":
		return http.StatusBadGateway, errcode.ErrUploadFailed
	}
	switch err.Kind {
	case appErr.KindValidation, appErr.KindParse:
		return http.StatusBadRequest, errcode.ErrInvalid
	case appErr.KindNotFound:
		return http.StatusNotFound, errcode.ErrNotFound
	case appErr.KindProvider:
		return http.StatusBadGateway, errcode.ErrProvider
	default:
		return http.StatusInternalServerError, errcode.ErrUnexpected
	}
}

func toStructured(err error) *appErr.Error {
	var structured *appErr.Error
	if errors.As(err, &structured) {
		return structured
	}
	return ai.NormalizeError("", err)
}

type errorPayload struct {
	Error *appErr.Error `json:"error"`
}

func handleError(c *gin.Context, logger *zap.Logger, err error) {
	if err == nil {
		return
	}
	structured := toStructured(err)
	status, code := statusOf(structured)
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	fields := []zap.Field{
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("code", structured.Code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request failed", fields...)
	}
	response.Fail(c, status, code, structured.Message, errorPayload{Error: structured})
}

func badRequest(c *gin.Context, code, message string) {
	response.Fail(c, http.StatusBadRequest, errcode.ErrInvalid, message, errorPayload{Error: appErr.Validation(code, message)})
}
