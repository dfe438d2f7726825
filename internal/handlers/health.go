package handlers

import "net/http"

// Health handles GET /healthz.
func Health(scanner *Scanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"model_loaded": scanner.ModelLoaded(),
			"model":        scanner.ModelName(),
		})
	}
}
