package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/metrics"
	"github.com/admitcraft/admitcraft/internal/observability"
)

// panicResponse mirrors the public error body; the errors package cannot be
// imported here without a cycle.
type panicResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Recovery converts a panic in any handler into the generic 500 body.
// The panic value and stack are logged, never returned.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			metrics.RecordPanic()

			if observability.ServerLogger != nil {
				observability.ServerLogger.Error("Recovered from handler panic",
					zap.String("panic", fmt.Sprintf("%v", rec)),
					zap.String("stack_trace", string(debug.Stack())),
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("path", r.URL.Path))
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(panicResponse{
				Error:   "Server error",
				Message: "An unexpected error occurred. Please try again.",
			})
		}()

		next.ServeHTTP(w, r)
	})
}
