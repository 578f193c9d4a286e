package server

import (
	"encoding/json"
	"net/http"

	ziya "github.com/ziya-ai/ziya"
)

// MaxBytes rejects request bodies over the byte cap with a validation_error
// envelope before any prompt assembly happens. A zero cap disables the
// check.
func MaxBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				json.NewEncoder(w).Encode(&ziya.ErrorEnvelope{
					Error:      string(ziya.ErrValidation),
					Detail:     "request body exceeds the size limit; deselect some files and try again",
					StatusCode: http.StatusRequestEntityTooLarge,
					StreamID:   ziya.NewID(),
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
