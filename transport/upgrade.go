package transport

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	readBufferSize  = 2048
	writeBufferSize = 2048
)

// NewUpgrader builds a websocket.Upgrader whose CheckOrigin allows an
// empty Origin header (non-browser clients) or any origin prefix-
// matching one of allowedOrigins, following the teacher's
// getAxUpgrader/checkOrigin pattern.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin:     checkOrigin(allowedOrigins),
	}
}

func checkOrigin(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowedOrigins {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}
		return false
	}
}
