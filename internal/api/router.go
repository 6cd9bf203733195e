// internal/api/router.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/models"
	"tgminiapp-notifier/internal/notification/dispatcher"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NotificationService is what the HTTP layer needs from the service.
type NotificationService interface {
	CreateAndDispatch(ctx context.Context, spec models.Spec) (*models.Notification, error)
	CreateBulk(ctx context.Context, specs []models.Spec) ([]*models.Notification, error)
	DispatchNow(ctx context.Context, id string) (*dispatcher.Result, error)
	Cancel(ctx context.Context, id string) (*models.Notification, error)
	MarkRead(ctx context.Context, id string) (*models.Notification, error)
	ListByRecipient(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error)
	ListUnread(ctx context.Context, userID string) ([]*models.Notification, error)
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

func NewRouter(svc NotificationService, checks map[string]ReadinessCheck, log logger.Logger) *mux.Router {
	h := NewHandler(svc, log)

	r := mux.NewRouter()
	r.Use(loggingMiddleware(log))

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", readyHandler(checks)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/notifications", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/notifications/bulk", h.CreateBulk).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/read", h.MarkRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/cancel", h.Cancel).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/dispatch", h.Dispatch).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{userId}", h.ListByRecipient).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{userId}/unread", h.ListUnread).Methods(http.MethodGet)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func readyHandler(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "not ready",
				"failed": failed,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("HTTP request", map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"durationMs": time.Since(started).Milliseconds(),
			})
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
