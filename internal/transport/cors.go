package transport

import (
	"net/http"

	"github.com/zishang520/engine.io/v2/types"
)

// CORS holds the cross-origin policy shared by the HTTP API and socket.io.
type CORS struct {
	Origin string
}

// socketOptions converts the policy for the socket.io server.
func (c *CORS) socketOptions() *types.Cors {
	if c == nil {
		return nil
	}
	return &types.Cors{
		Origin:      c.Origin,
		Methods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		Credentials: true,
	}
}

func (c *CORS) wrap(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", c.Origin)
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		h.Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
