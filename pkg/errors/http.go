package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTP status code mappings
var errorStatusCodes = map[error]int{
	ErrNotFound:           http.StatusNotFound,
	ErrInvalidInput:       http.StatusBadRequest,
	ErrInternalError:      http.StatusInternalServerError,
	ErrTimeout:            http.StatusGatewayTimeout,
	ErrUnavailable:        http.StatusServiceUnavailable,
	ErrAlreadyExists:      http.StatusConflict,
	ErrResourceExhausted:  http.StatusTooManyRequests,
	ErrFailedPrecondition: http.StatusPreconditionFailed,
	ErrCanceled:           http.StatusRequestTimeout,

	// Domain-specific error mappings
	ErrInvalidConfig:        http.StatusBadRequest,
	ErrInvalidPhoneNumber:   http.StatusBadRequest,
	ErrConversationNotFound: http.StatusNotFound,
	ErrAllProvidersFailed:   http.StatusBadGateway,
	ErrProviderFailure:      http.StatusBadGateway,
	ErrCarrierFailure:       http.StatusBadGateway,
	ErrCallFailed:           http.StatusBadGateway,
	ErrSMSFailed:            http.StatusBadGateway,
	ErrQueueClosed:          http.StatusServiceUnavailable,
	ErrQueueCleared:         http.StatusServiceUnavailable,
	ErrStreamClosed:         http.StatusServiceUnavailable,
	ErrNetworkFailure:       http.StatusBadGateway,
	ErrCompletionFailed:     http.StatusBadGateway,
	ErrTranscriptionFailed:  http.StatusInternalServerError,
}

// HTTPStatusFromError returns the HTTP status code for a given error
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	for sentinel, code := range errorStatusCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return http.StatusInternalServerError
}

// WriteError writes a standardized error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error) {
	var statusCode int
	var response map[string]interface{}

	var serr *Error
	if err == nil {
		statusCode = http.StatusInternalServerError
		response = map[string]interface{}{
			"error": "Unknown error",
		}
	} else if errors.As(err, &serr) {
		statusCode = HTTPStatusFromError(serr.original)
		response = serr.AsJSON()
	} else {
		statusCode = HTTPStatusFromError(err)
		response = map[string]interface{}{
			"error": err.Error(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
