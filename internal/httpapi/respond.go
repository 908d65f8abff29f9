package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"campusvote.org/internal/audit"
	"campusvote.org/internal/election"
	"campusvote.org/internal/obs"
)

const kindUnauthenticated = "unauthenticated"

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	writeJSON(w, code, errorResponse{
		Error:     msg,
		Kind:      kind,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

var kindStatus = map[election.Kind]int{
	election.KindValidation:       http.StatusBadRequest,
	election.KindForbidden:        http.StatusForbidden,
	election.KindNotFound:         http.StatusNotFound,
	election.KindDuplicateVote:    http.StatusConflict,
	election.KindInvalidCandidate: http.StatusUnprocessableEntity,
	election.KindPartialCommit:    http.StatusInternalServerError,
	election.KindInternal:         http.StatusInternalServerError,
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind election.Kind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func handleElectionError(w http.ResponseWriter, r *http.Request, err error) {
	kind := election.KindOf(err)
	code := statusFor(kind)
	msg := err.Error()
	if kind == election.KindInternal {
		if errors.Is(err, election.ErrReconcileUnsupported) {
			code = http.StatusNotImplemented
		} else {
			obs.Logger().WithFields(logrus.Fields{
				"request_id": audit.RequestIDFromContext(r.Context()),
				"path":       r.URL.Path,
			}).WithError(err).Error("request failed")
			msg = "internal error"
		}
	}
	writeError(w, r, code, string(kind), msg)
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
