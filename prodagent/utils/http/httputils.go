// prodagent/utils/http/httputils.go
package httputils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/logging"
)

// MaxJSONBody bounds every JSON request body.
const MaxJSONBody = 1 << 20

type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ErrorLogger.Error("response encode failed", zap.Error(err))
	}
}

// WriteError renders err as {"error", "kind"} with the status of its kind.
// Causes are logged, never sent.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logging.ErrorLogger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	WriteJSON(w, status, ErrorBody{Error: apperr.UserMessage(err), Kind: string(kind)})
}

// DecodeJSON reads a bounded JSON body into dst. An empty body leaves dst as is.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBody)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return apperr.Validation("httputils.DecodeJSON", "The request body is too large.")
	}
	return apperr.New(apperr.KindValidation, "httputils.DecodeJSON", "The request body is not valid JSON.", err)
}
