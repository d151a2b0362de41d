package intake

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
)

// Routes lists what the router serves. Nil handlers are not mounted.
type Routes struct {
	Webhook http.Handler
	Checks  map[string]Check
	Metrics prometheus.Gatherer
	Logger  *slog.Logger
}

func NewRouter(rt Routes) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	if rt.Webhook != nil {
		r.Post("/webhooks/stripe", rt.Webhook.ServeHTTP)
	}
	r.Get("/livez", HealthHandler(rt.Logger, 0, nil))
	r.Get("/healthz", HealthHandler(rt.Logger, 5*time.Second, rt.Checks))
	if rt.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rt.Metrics, promhttp.HandlerOpts{}))
	}
	return r
}

// LoggerExtractor adds the request id set by the router to log records.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		id := middleware.GetReqID(ctx)
		if id == "" {
			return slog.Attr{}, false
		}
		return slog.String("request_id", id), true
	}
}
