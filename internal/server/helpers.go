package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pipewright/pipewright/internal/api"
	apperrors "github.com/pipewright/pipewright/internal/errors"

	"github.com/go-chi/chi/v5"
)

// extractErrorInfo extracts statusCode, errorCode, and errorDetails from an error.
func extractErrorInfo(err error) (statusCode int, errorCode, errorDetails string) {
	return apperrors.GetStatusCode(err),
		apperrors.GetErrorCode(err),
		apperrors.GetErrorDetails(err)
}

// writeJSONResponse writes v as JSON with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, v any) {
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorResponse writes a standardized error response without an error code.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message, details string) {
	writeErrorResponseWithCode(w, statusCode, "", message, details)
}

// writeErrorResponseWithCode writes a standardized error response.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code, message, details string) {
	writeJSONResponse(w, statusCode, api.ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// decodeRequestBody decodes a JSON request body into v. On failure it writes
// a bad request response and returns the error; handlers just return.
func decodeRequestBody(w http.ResponseWriter, req *http.Request, v any) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err.Error())
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// getRequiredURLParam extracts a required URL parameter. If the parameter is
// missing or empty, writes a bad request error response and returns "", false.
func getRequiredURLParam(w http.ResponseWriter, req *http.Request, name string) (string, bool) {
	param := strings.TrimSpace(chi.URLParam(req, name))
	if param == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid "+name, name+" is required")
		return "", false
	}
	return param, true
}

// handleAndLogError logs an error and writes a standardized error response.
// Use this for all sequencer and store call failures in handlers.
func (r *Router) handleAndLogError(
	w http.ResponseWriter,
	req *http.Request,
	err error,
	operationName string,
) {
	logger := r.GetLoggerFromContext(req.Context())
	statusCode, errorCode, errorDetails := extractErrorInfo(err)

	logger.Error(
		"operation failed",
		"operation", operationName,
		"error", err,
		"status_code", statusCode,
		"error_code", errorCode,
	)

	writeErrorResponseWithCode(w, statusCode, errorCode, "failed to "+operationName, errorDetails)
}
