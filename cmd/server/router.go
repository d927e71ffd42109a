package main

import (
	"net/http"
	"time"

	_ "credential-authorizer/docs"
	"credential-authorizer/internal/handlers"
	"credential-authorizer/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// SetupRouter configures and returns the HTTP router with all routes and middleware
func SetupRouter(
	flowHandler *handlers.FlowHandler,
	callbackHandler *handlers.CallbackHandler,
	healthHandler *handlers.HealthHandler,
	limiter middleware.RateLimiter,
	callbackLimit int,
	logger *zap.Logger,
) *mux.Router {
	router := mux.NewRouter()

	// Add CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Add logging middleware
	router.Use(middleware.LoggingMiddleware(logger))

	// Preflight requests for the session API; the CORS middleware answers them.
	router.PathPrefix("/sessions").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Sessions and flows
	flowHandler.Register(router)

	// Redirect callback, reachable by any browser
	callback := middleware.RateLimitMiddleware(limiter, logger, callbackLimit, time.Minute)(
		http.HandlerFunc(callbackHandler.HandleCallback))
	router.Handle("/oauth/callback", callback).Methods("GET")

	router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Swagger documentation
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	return router
}
