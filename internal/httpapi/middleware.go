package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relaywave/wagateway/internal/apierr"
	. "github.com/relaywave/wagateway/internal/logging"
)

type ctxKey int

const traceIDKey ctxKey = iota

// traceMiddleware assigns every request a trace ID, honoring one supplied
// by the caller.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set("X-Trace-Id", traceID)
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func traceIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// corsMiddleware allows the configured origins. An empty list allows
// nothing cross-origin but still answers preflights.
func corsMiddleware(origins []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range origins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}
			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-Id")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// logMiddleware records one line per request.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		L_debug("httpapi: request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start).String(), "traceId", traceIDFrom(r))
	})
}

// authMiddleware enforces the per-agent bearer token on /agents routes.
// On a mismatch it schedules a fire-and-forget key sync from the latest
// active key; the current request still fails 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]

		token := ""
		if h := r.Header.Get("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = parts[1]
			}
		}
		if token == "" {
			writeError(w, r, apierr.Unauthorized("missing bearer token"))
			return
		}

		rec, err := s.agents.GetAgentByID(r.Context(), agentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if rec == nil {
			writeError(w, r, apierr.SessionNotFound("no session record for agent "+agentID))
			return
		}
		if rec.APIKey != token {
			go func(userID int64, agentID string) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := s.agents.SyncAPIKey(ctx, userID, agentID); err != nil {
					L_warn("httpapi: background key sync failed", "agentId", agentID, "error", err)
				}
			}(rec.UserID, agentID)
			writeError(w, r, apierr.Unauthorized("bearer token mismatch"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
