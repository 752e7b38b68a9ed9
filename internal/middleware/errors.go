package middleware

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

// writeError writes an error response
func writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(appErr)
}
