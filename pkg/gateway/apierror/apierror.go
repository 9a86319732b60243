// Package apierror translates internal errors into the HTTP error envelope.
// Every non-websocket response that is not a success goes through here.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError maps err to the wire error and its HTTP status. A canonical
// *core.Error wins over the context sentinels it may wrap, since its type
// carries more information than "something timed out".
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		// Copy before stamping the request ID; callers may hold the original.
		out := *coreErr
		out.RequestID = requestID
		return &out, httpStatus(out.Type)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Anything else stays opaque; raw driver and engine messages leak
	// credentials and hostnames too easily.
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func httpStatus(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest, core.ErrValidation, core.ErrProtocol:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
