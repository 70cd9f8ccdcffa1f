// Package routes is the HTTP surface of the api.
package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/ntentasd/acuamon-api/internal/auth"
	"github.com/ntentasd/acuamon-api/internal/metrics"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/ntentasd/acuamon-api/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewMux(app *App) http.Handler {
	r := mux.NewRouter()
	r.Use(latencyMiddleware)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.ReplyMethodNotAllowed(w)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.ReplyNotFound(w, "ruta no encontrada")
	})

	// health check
	r.HandleFunc("/healthz", app.healthHandler).Methods(http.MethodGet)

	// metrics
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/auth/login", app.loginHandler).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(app.issuer.Middleware)

	api.HandleFunc("/estanques", app.listUnitsHandler).Methods(http.MethodGet)
	api.HandleFunc("/estanques/{id}", app.getUnitHandler).Methods(http.MethodGet)
	api.HandleFunc("/estanques/{id}/sensores", app.sensorsHandler).Methods(http.MethodGet)
	api.HandleFunc("/estanques/{id}/ultimas", app.latestHandler).Methods(http.MethodGet)

	api.HandleFunc("/datos/{periodo}/{fecha}", app.readingsByPeriodHandler).Methods(http.MethodGet)
	api.HandleFunc("/datos", app.ingestHandler).Methods(http.MethodPost)

	api.HandleFunc("/reportes", app.reportHandler).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/promedios", app.aggregatesHandler).Methods(http.MethodGet)

	admin := api.NewRoute().Subrouter()
	admin.Use(auth.RequireRole(types.RoleAdmin))

	admin.HandleFunc("/estanques", app.createUnitHandler).Methods(http.MethodPost)
	admin.HandleFunc("/estanques/{id}", app.updateUnitHandler).Methods(http.MethodPut)
	admin.HandleFunc("/estanques/{id}", app.deleteUnitHandler).Methods(http.MethodDelete)
	admin.HandleFunc("/estanques/{id}/sensores", app.registerSensorHandler).Methods(http.MethodPost)
	admin.HandleFunc("/sensores/{id}/credenciales", app.getSensorCredentialsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/usuarios", app.listUsersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/usuarios", app.createUserHandler).Methods(http.MethodPost)
	admin.HandleFunc("/promedios/{periodo}/ejecutar", app.triggerRollupHandler).Methods(http.MethodPost)

	return utils.WithCORS(handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(r))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// latencyMiddleware observes every routed request by its path template.
func latencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HttpRequestLatencySeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		metrics.HttpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}
