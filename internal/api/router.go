package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers all routes. The device endpoints under /api/plug are not rate limited.
func NewRouter(deps Deps) *mux.Router {
	h := NewHandler(deps)
	return h.routes(deps)
}

func (h *Handler) routes(deps Deps) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("route %s %s not found", req.Method, req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path))
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	plugRoutes := api.PathPrefix("/plug").Subrouter()
	plugRoutes.HandleFunc("/desired", h.getDesired).Methods(http.MethodGet)
	plugRoutes.HandleFunc("/desired", h.setDesired).Methods(http.MethodPut)
	plugRoutes.HandleFunc("/status", h.getPlugStatus).Methods(http.MethodGet)
	plugRoutes.HandleFunc("/mode", h.setMode).Methods(http.MethodPut)
	plugRoutes.HandleFunc("/reported", h.reportState).Methods(http.MethodPost)

	sensors := api.PathPrefix("/sensors").Subrouter()
	sensors.HandleFunc("/latest", h.getLatest).Methods(http.MethodGet)
	sensors.HandleFunc("/24h", h.get24h).Methods(http.MethodGet)
	sensors.HandleFunc("/averages", h.getAverages).Methods(http.MethodGet)
	sensors.HandleFunc("/hourly", h.getHourly).Methods(http.MethodGet)
	sensors.HandleFunc("/range", h.getRange).Methods(http.MethodGet)
	sensors.HandleFunc("/day", h.getDay).Methods(http.MethodGet)
	sensors.HandleFunc("/stats", h.getStats).Methods(http.MethodGet)
	sensors.HandleFunc("/consumption", h.getConsumption).Methods(http.MethodGet)
	sensors.HandleFunc("", h.createReading).Methods(http.MethodPost)
	sensors.HandleFunc("/bulk", h.createBulk).Methods(http.MethodPost)
	if deps.Limiter != nil {
		sensors.Use(deps.Limiter.Middleware)
	}

	if h.alarm != nil {
		alarm := api.PathPrefix("/alarm").Subrouter()
		alarm.HandleFunc("/status", h.getAlarmStatus).Methods(http.MethodGet)
		alarm.HandleFunc("/check", h.checkAlarm).Methods(http.MethodPost)
		alarm.HandleFunc("/reset", h.resetAlarm).Methods(http.MethodPost)
		if deps.Limiter != nil {
			alarm.Use(deps.Limiter.Middleware)
		}
	}

	return r
}

// NewHTTPHandler wraps the router with the middleware chain:
// request id, access log, panic recovery, CORS, compression and security headers.
func NewHTTPHandler(deps Deps) http.Handler {
	h := NewHandler(deps)

	var handler http.Handler = h.routes(deps)
	handler = securityHeaders(handler)
	handler = handlers.CompressHandler(handler)
	handler = cors(deps.CORSOrigin)(handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{log: h.log}),
		handlers.PrintRecoveryStack(true),
	)(handler)
	handler = accessLog(h.log)(handler)
	handler = requestID(handler)
	if deps.TrustProxy {
		handler = handlers.ProxyHeaders(handler)
	}
	return handler
}

// NewServer creates the HTTP server for addr
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
