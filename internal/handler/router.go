package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Points    *PointsHandler
	Backfill  *BackfillHandler
	Reconcile *ReconcileHandler
	Hub       *Hub
}

func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/health", HandleHealth).Methods("GET", "OPTIONS")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if h.Hub != nil {
		r.HandleFunc("/ws", h.Hub.ServeWS).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/backfill", h.Backfill.Trigger).Methods("POST", "OPTIONS")
	api.HandleFunc("/backfill/status", h.Backfill.Status).Methods("GET", "OPTIONS")
	api.HandleFunc("/backfill/runs", h.Backfill.ListRuns).Methods("GET", "OPTIONS")
	api.HandleFunc("/points/calculate", h.Points.Calculate).Methods("POST", "OPTIONS")
	api.HandleFunc("/points/{address}", h.Points.GetPoints).Methods("GET", "OPTIONS")
	api.HandleFunc("/points/{address}/locks", h.Points.ListLocks).Methods("GET", "OPTIONS")
	api.HandleFunc("/leaderboard", h.Points.Leaderboard).Methods("GET", "OPTIONS")
	api.HandleFunc("/reconcile", h.Reconcile.Reconcile).Methods("POST", "OPTIONS")

	return r
}

// corsMiddleware 允许浏览器前端直接调用，预检请求直接返回
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
