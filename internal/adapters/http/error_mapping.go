package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// errorClass is the HTTP status and stable error code reported for a failure.
type errorClass struct {
	status int
	code   string
}

func classifyError(err error) errorClass {
	switch {
	case domain.IsKind(err, domain.ErrDimensionMismatch):
		return errorClass{http.StatusBadRequest, "dimension_mismatch"}
	case domain.IsKind(err, domain.ErrInvalidInput):
		return errorClass{http.StatusBadRequest, "invalid_input"}
	case domain.IsKind(err, domain.ErrTemporary):
		return errorClass{http.StatusServiceUnavailable, "backend_unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return errorClass{http.StatusGatewayTimeout, "timeout"}
	default:
		return errorClass{http.StatusInternalServerError, "internal"}
	}
}

func mapErrorToHTTPStatus(err error) int {
	return classifyError(err).status
}
