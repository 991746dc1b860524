package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

// Коды ошибок в поле error ответа.
const (
	codeInvalidRequest      = "invalid_request"
	codeValidationFailed    = "validation_failed"
	codeOrderNotFound       = "order_not_found"
	codeIdempotencyConflict = "idempotency_conflict"
	codeRequestInProgress   = "request_in_progress"
	codeInternalError       = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	writeJSON(w, status, errorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// Ошибки хранилища наружу не раскрываются.
func writeServiceError(w http.ResponseWriter, logger *log.Entry, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, codeValidationFailed, domain.ErrValidation.Error(), validation.Details()...)
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, codeOrderNotFound, domain.ErrOrderNotFound.Error())
	default:
		logger.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal server error")
	}
}
