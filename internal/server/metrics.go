package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opsgate/internal/deployment"
)

const metricsNamespace = "opsgate"

// scrapeTimeout bounds the history query made per scrape.
const scrapeTimeout = 5 * time.Second

// Metrics owns a private registry so tests and repeated servers never
// collide on the default one.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// NewMetrics registers the HTTP counter plus deployment gauges that are read
// from their sources at scrape time. Nil sources are skipped.
func NewMetrics(counts HistoryIndex, mode deployment.ModeStatus, stop deployment.StopFlag, logger *slog.Logger) *Metrics {
	reg := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)
	reg.MustRegister(requests)

	if counts != nil {
		reg.MustRegister(&deploymentCollector{counts: counts, logger: logger})
	}
	if mode != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "deployment_mode_active",
			Help:      "1 while deployment mode is enabled and unexpired",
		}, func() float64 {
			status, err := mode.Status()
			if err != nil || !status.Active {
				return 0
			}
			return 1
		}))
	}
	if stop != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "emergency_stop_active",
			Help:      "1 while the emergency stop flag exists",
		}, func() float64 {
			if stop.EmergencyStopActive() {
				return 1
			}
			return 0
		}))
	}

	return &Metrics{registry: reg, requests: requests}
}

// ObserveRequest counts one served request.
func (m *Metrics) ObserveRequest(method, route string, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// deploymentCollector exports deployment outcome counts from the history
// index on every scrape.
type deploymentCollector struct {
	counts HistoryIndex
	logger *slog.Logger
}

var deploymentsDesc = prometheus.NewDesc(
	prometheus.BuildFQName(metricsNamespace, "", "deployments"),
	"Recorded deployment attempts by environment and final status",
	[]string{"environment", "status"}, nil,
)

func (c *deploymentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- deploymentsDesc
}

func (c *deploymentCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	counts, err := c.counts.CountByStatus(ctx)
	if err != nil {
		c.logger.Error("Failed to read deployment counts", "error", err)
		return
	}
	for env, byStatus := range counts {
		for status, n := range byStatus {
			ch <- prometheus.MustNewConstMetric(deploymentsDesc, prometheus.GaugeValue, float64(n), env, status)
		}
	}
}
