package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgelabs/buildworker/pkg/errs"
)

// ErrorResponse is the JSON body returned for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusForKind maps a BuildError's Kind to the HTTP status a caller should
// see, per the shared error taxonomy.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAccessDenied:
		return http.StatusForbidden
	case errs.KindProjectNotFound:
		return http.StatusNotFound
	case errs.KindSystemConfig:
		return http.StatusServiceUnavailable
	case errs.KindUsageLimit:
		return http.StatusTooManyRequests
	case errs.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case errs.KindOperationTracking, errs.KindStatusWriteFailed, errs.KindQueueEnqueue:
		return http.StatusInternalServerError
	case errs.KindAgentTimeout, errs.KindAgentError, errs.KindSchemaDrift, errs.KindDeployFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError translates err into the matching HTTP response. A
// *errs.BuildError is mapped by Kind; anything else is an opaque 500 so
// internal detail never leaks to a caller.
func writeServiceError(c *gin.Context, err error) {
	var be *errs.BuildError
	if errors.As(err, &be) {
		resp := ErrorResponse{Error: be.Message, Kind: string(be.Kind)}
		status := statusForKind(be.Kind)
		if be.Kind == errs.KindUsageLimit && !be.ResetAt.IsZero() {
			c.Header("Retry-After", be.ResetAt.UTC().Format(http.TimeFormat))
		}
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}
