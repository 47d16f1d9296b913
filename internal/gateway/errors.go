package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anotherai-dev/anotherai-sub001/internal/deployments"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/playground"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
	"github.com/anotherai-dev/anotherai-sub001/internal/storage"
)

// errorBody is the OpenAI-style error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string         `json:"message"`
	Type    string         `json:"type"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Message: message,
		Type:    kind,
		Details: details,
	}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, string(providers.KindBadRequest), message, nil)
}

// writeDomainError maps internal errors onto HTTP statuses: classified
// provider errors use their kind's status, storage and compatibility errors
// their conventional codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var perr *providers.Error
	if errors.As(err, &perr) {
		writeError(w, perr.Kind.StatusCode(), string(perr.Kind), perr.Message, perr.Details)
		return
	}
	var cerr *deployments.CompatibilityError
	if errors.As(err, &cerr) {
		writeError(w, http.StatusBadRequest, string(providers.KindBadRequest), cerr.Error(), nil)
		return
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error(), nil)
	case errors.Is(err, playground.ErrTimeout):
		writeError(w, http.StatusRequestTimeout, "operation_timeout", err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError,
			string(providers.KindInternalError), err.Error(), nil)
	}
}

// writeCompletionError surfaces a failed completion with the status its
// serialized kind carries.
func writeCompletionError(w http.ResponseWriter, ce *domain.CompletionError) {
	status := ce.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeError(w, status, ce.Kind, ce.Message, ce.Details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
