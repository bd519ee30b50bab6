package monitoring

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the gatherer in Prometheus text format
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	var h http.Handler
	if g == nil || g == prometheus.DefaultGatherer {
		h = promhttp.Handler()
	} else {
		h = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return gin.WrapH(h)
}
