package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
)

// RequestLog логирует method, path, статус и время выполнения (асинхронно, не блокирует)
// и считает запросы по шаблону маршрута chi.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap := wrapWriter(w)
		next.ServeHTTP(wrap, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(wrap.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" "+status, start)
	})
}
