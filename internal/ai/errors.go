package ai

import (
	"context"
	"errors"

	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

// NormalizeError folds any failure of a provider call into the structured
// error taxonomy. Errors that are already structured pass through.
func NormalizeError(action string, err error) *appErr.Error {
	if err == nil {
		return nil
	}
	var structured *appErr.Error
	if errors.As(err, &structured) {
		if structured.Action == "" {
			structured.Action = action
		}
		return structured
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		kind := appErr.KindProvider
		if apiErr.Status == 404 {
			kind = appErr.KindNotFound
		}
		code := apiErr.CodeString()
		if code == "" {
			code = "OPENAI_API_ERROR"
		}
		respCode := apiErr.CodeString()
		if respCode == "" {
			respCode = "UNKNOWN"
		}
		out := appErr.New(kind, code, apiErr.Message)
		out.Action = action
		out.Details = map[string]interface{}{"status": apiErr.Status}
		out.ProviderResponse = &appErr.ProviderResponse{
			Error: appErr.ProviderError{
				Message: apiErr.Message,
				Type:    apiErr.Type,
				Param:   apiErr.Param,
				Code:    apiErr.Code,
			},
			Code: respCode,
		}
		return out.WithCause(err)
	}
	var out *appErr.Error
	switch {
	case errors.Is(err, ErrUnavailable):
		out = appErr.New(appErr.KindProvider, "AI_UNAVAILABLE", "ai provider not configured")
	case errors.Is(err, ErrMalformedResponse):
		out = appErr.New(appErr.KindProvider, "MALFORMED_RESPONSE", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		out = appErr.New(appErr.KindUnexpected, "REQUEST_TIMEOUT", "the request timed out")
	case errors.Is(err, context.Canceled):
		out = appErr.New(appErr.KindUnexpected, "REQUEST_CANCELLED", "the request was cancelled")
	default:
		out = appErr.New(appErr.KindUnexpected, "UNEXPECTED_ERROR", "An unexpected error occurred")
		out.Details = map[string]interface{}{"message": err.Error()}
	}
	out.Action = action
	return out.WithCause(err)
}
