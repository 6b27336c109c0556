package proxyhttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tos-network/rpc-gateway/internal/health"
)

// healthHandler implements GET /health.
type healthHandler struct {
	tables TableSource
	state  *health.State
}

type backendHealthView struct {
	Label                string `json:"label"`
	Healthy              bool   `json:"healthy"`
	LastCheck            string `json:"last_check"`
	ConsecutiveFailures  int    `json:"consecutive_failures"`
	ConsecutiveSuccesses int    `json:"consecutive_successes"`
	LastError            string `json:"last_error"`
}

type healthResponse struct {
	OverallStatus string               `json:"overall_status"`
	Backends      []backendHealthView  `json:"backends"`
}

// handle enumerates backends in routing-table configuration order and
// reports overall_status = "healthy" iff any backend is healthy.
func (h *healthHandler) handle(c *gin.Context) {
	table := h.tables.Table()

	anyHealthy := false
	backends := make([]backendHealthView, 0, len(table.Upstreams))
	for _, u := range table.Upstreams {
		st := h.state.Get(u.Label)
		if st.Healthy {
			anyHealthy = true
		}

		lastCheck := ""
		if !st.LastCheckTime.IsZero() {
			lastCheck = st.LastCheckTime.UTC().Format("2006-01-02T15:04:05Z")
		}

		backends = append(backends, backendHealthView{
			Label:                u.Label,
			Healthy:              st.Healthy,
			LastCheck:            lastCheck,
			ConsecutiveFailures:  st.ConsecutiveFailures,
			ConsecutiveSuccesses: st.ConsecutiveSuccesses,
			LastError:            st.LastError,
		})
	}

	status := "unhealthy"
	if anyHealthy {
		status = "healthy"
	}

	c.JSON(http.StatusOK, healthResponse{OverallStatus: status, Backends: backends})
}
