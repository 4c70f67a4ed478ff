package transport

import (
	"encoding/json"
	"net/http"

	"github.com/jkoenig/runbox/pkg/api"
)

// errorBody is the JSON error envelope returned by all endpoints.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// HTTPStatusFromKind maps an execution error kind to the corresponding
// HTTP status code. Transport-level errors (body too large, unsupported
// content type) are handled separately by the adapter.
func HTTPStatusFromKind(kind api.ErrorKind) int {
	switch kind {
	case api.KindProtocol:
		return http.StatusBadRequest
	case api.KindTimeout:
		return http.StatusGatewayTimeout
	case api.KindPoolExhausted, api.KindWarmingUp:
		return http.StatusServiceUnavailable
	case api.KindWorkerCrash:
		return http.StatusBadGateway
	case api.KindSessionCodec, api.KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteExecError writes a JSON error response for an execution failure,
// deriving the HTTP status code from the error kind.
func WriteExecError(w http.ResponseWriter, err error) {
	kind := api.KindOf(err)
	WriteError(w, HTTPStatusFromKind(kind), string(kind), err.Error(), api.IsRetryable(err))
}

// WriteError writes a JSON error response with an explicit status code.
func WriteError(w http.ResponseWriter, status int, kind, msg string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Kind:      kind,
		Message:   msg,
		Retryable: retryable,
	}})
}
