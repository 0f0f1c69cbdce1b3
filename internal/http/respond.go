package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/example/food-rescue/internal/apperr"
)

type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindInvalidState:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	body := errorBody{Error: kind.String(), Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Message = ae.Msg
		body.Fields = ae.Fields
	}
	if kind == apperr.KindInternal {
		log.Error("request failed", "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, statusFor(kind), body)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidArgument("malformed request body: " + err.Error())
	}
	return nil
}

// intParam parses an optional non-negative query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidArgument("invalid query parameter", name)
	}
	return n, nil
}
