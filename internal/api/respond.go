package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"launchpad-ledger/internal/ledger"
)

const maxBodyBytes = 1 << 20

var kindStatus = map[ledger.Kind]int{
	ledger.KindNotFound:            http.StatusNotFound,
	ledger.KindInvalidArgument:     http.StatusBadRequest,
	ledger.KindInsufficientBalance: http.StatusUnprocessableEntity,
	ledger.KindInsufficientStake:   http.StatusUnprocessableEntity,
	ledger.KindPoolDepleted:        http.StatusConflict,
	ledger.KindConflict:            http.StatusConflict,
	ledger.KindStoreUnavailable:    http.StatusServiceUnavailable,
	ledger.KindOracleUnavailable:   http.StatusServiceUnavailable,
	ledger.KindConfiguration:       http.StatusUnprocessableEntity,
	ledger.KindInternal:            http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind ledger.Kind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error kind and its user-facing message only.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError logs err with full detail and writes only the kind message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	status := StatusFor(kind)

	ev := log.Ctx(r.Context()).Info()
	if status >= http.StatusInternalServerError {
		ev = log.Ctx(r.Context()).Error()
	}
	ev.Str("kind", string(kind)).Err(err).Msg("request failed")

	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Code:    string(kind),
		Message: kind.Message(),
	}})
}

// decode reads a JSON body into v. Malformed bodies are invalid arguments.
func decode(r *http.Request, op string, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ledger.Errorf(ledger.KindInvalidArgument, op, "empty request body")
		}
		return ledger.E(ledger.KindInvalidArgument, op, fmt.Errorf("decode body: %w", err))
	}
	return nil
}
