package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/pkg/logging"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to statuses. Server-side failures are
// logged and reported without their internal detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		logging.L(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: msg, RequestID: logging.RequestID(r.Context())})
}

func statusOf(err error) (int, string) {
	var ve *domain.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.As(err, &ve), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrClientNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrCheckpointOrder):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrEncoding):
		return http.StatusUnprocessableEntity, "document could not be encoded"
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, "similarity index unavailable"
	}
	return http.StatusInternalServerError, "internal server error"
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeBody decodes the JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// decodeApplicant reads an applicant profile, either bare or wrapped in
// client_data.
func decodeApplicant(r *http.Request) (domain.ApplicantRecord, error) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		return domain.ApplicantRecord{}, err
	}
	return applicantFrom(body, "client_data")
}

func applicantFrom(body map[string]any, wrapper string) (domain.ApplicantRecord, error) {
	if body == nil {
		return domain.ApplicantRecord{}, badRequest("applicant profile is required")
	}
	if inner, ok := body[wrapper]; ok {
		m, ok := inner.(map[string]any)
		if !ok {
			return domain.ApplicantRecord{}, badRequest("%s must be an object", wrapper)
		}
		body = m
	}
	return domain.ApplicantFromPayload(body), nil
}
