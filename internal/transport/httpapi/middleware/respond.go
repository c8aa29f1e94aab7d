package middleware

import (
	"encoding/json"
	"net/http"
)

// respondError writes a JSON error body. Middleware cannot use the handler
// package's helpers without an import cycle, so it carries its own.
func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
