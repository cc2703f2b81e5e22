// pkg/middleware/validation.go

package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrorResponse стандартный формат для ошибок
type ErrorResponse struct {
	Error string      `json:"error"`
	Field string      `json:"field,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// максимальный размер тела JSON-запроса
const maxBodySize = 1 << 20

// ValidateRequest проверяет Content-Type и размер тела до передачи обработчику
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && !strings.Contains(contentType, "application/json") {
				writeError(w, http.StatusBadRequest, "Invalid Content-Type, expected application/json")
				return
			}

			if r.ContentLength == 0 {
				writeError(w, http.StatusBadRequest, "Request body cannot be empty")
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next.ServeHTTP(w, r)
	})
}

// HandleValidationError формирует ответ на ошибку валидации DTO
func HandleValidationError(w http.ResponseWriter, err error, field, value string) {
	log.Debug().Err(err).Str("field", field).Msg("Validation error")

	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: err.Error(),
		Field: field,
		Value: value,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
