package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/devbazaar/escrow-engine/internal/handler"
	"github.com/devbazaar/escrow-engine/internal/logging"
)

// Recovery turns a handler panic into the standard 500 envelope. All money
// movement runs in transactions, so a panicked request leaves no partial
// ledger state behind.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log := logging.FromContext(r.Context())
				log.Error("panic recovered", "error", err, "stack", string(debug.Stack()))
				handler.RespondAppError(w, handler.ErrInternalError, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
