package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/teranos/scbe/transport"
)

// setupRoutes registers the attachment upgrade route and the liveness
// endpoint, following the teacher's routing.go shape: one corsMiddleware
// wrapping every handler, origin validation shared with the upgrader.
func setupRoutes(mux *http.ServeMux, s *Server, deps transport.Deps, allowedOrigins []string) {
	upgrader := transport.NewUpgrader(allowedOrigins)

	mux.HandleFunc("/ws", corsMiddleware(allowedOrigins, s.trackedHandler(transport.Handler(upgrader, deps))))
	mux.HandleFunc("/healthz", corsMiddleware(allowedOrigins, s.handleHealth))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"state":    s.State().String(),
		"sessions": s.dir.Len(),
	})
}

// corsMiddleware sets CORS headers for an allowed origin and short-
// circuits preflight OPTIONS requests, the same shape as the teacher's
// corsMiddleware but scoped to SCBE's single attachment route (no
// dev-mode wildcard-methods branch: SCBE has no dev mode).
func corsMiddleware(allowedOrigins []string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func originAllowed(allowedOrigins []string, origin string) bool {
	for _, allowed := range allowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}
