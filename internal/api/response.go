// Package api provides HTTP response utilities for the funnel engine.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// fallbackErrorResponse is pre-marshaled at startup so a marshal failure at
// request time never leaves the client without a JSON body.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals the response before touching the writer, so an
// encoding failure can still be reported with a clean 500 and the fallback body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeClassifiedError maps an engine error onto an HTTP status via the shared
// error taxonomy and writes it as a standard error envelope.
func writeClassifiedError(w http.ResponseWriter, err error) {
	writeJSONResponse(w, errorStatusCode(err), models.Error(err.Error()))
}

// errorStatusCode translates the models error taxonomy into HTTP status codes.
// Upstream auth failures surface as 502 because the client cannot fix them.
func errorStatusCode(err error) int {
	switch models.ClassifyError(err) {
	case models.ErrorKindNotFound:
		return http.StatusNotFound
	case models.ErrorKindInvalid:
		return http.StatusBadRequest
	case models.ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case models.ErrorKindUnauthorized:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
