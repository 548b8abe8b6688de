// Package adminserver exposes a small HTTP surface for operational
// visibility into a running local endpoint: Prometheus scraping and a
// status endpoint reporting the balancer's current pick.
package adminserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shadowrelay/shadowrelay/pkg/balancer"
	"github.com/shadowrelay/shadowrelay/pkg/metrics"
)

// New builds the admin router: "/metrics" for Prometheus scraping and
// "/status" reporting the balancer's elected server and pool size.
func New(bal *balancer.Balancer) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status", statusHandler(bal)).Methods(http.MethodGet)
	return r
}

type statusResponse struct {
	Best  string `json:"best_server"`
	Total int    `json:"total_servers"`
}

func statusHandler(bal *balancer.Balancer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Best:  bal.PickServer().String(),
			Total: bal.Total(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
