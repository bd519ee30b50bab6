package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// RPC metrics
	RPCCalls    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
	RPCPending  prometheus.Gauge

	// Inbound traffic
	Notifications   *prometheus.CounterVec
	InboundRequests *prometheus.CounterVec
	MalformedLines  prometheus.Counter

	// Process metrics
	ProcessRunning prometheus.Gauge
	ProcessExits   *prometheus.CounterVec
	ProcessStarts  *prometheus.CounterVec

	// Routing metrics
	SurfacesActive prometheus.Gauge
	EventsRouted   *prometheus.CounterVec

	// Approval metrics
	ApprovalsPending prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

// Snapshot holds current values for the JSON status API
type Snapshot struct {
	TotalCalls     int64   `json:"totalCalls"`
	FailedCalls    int64   `json:"failedCalls"`
	Pending        int64   `json:"pending"`
	ProcessExits   int64   `json:"processExits"`
	ActiveSurfaces int64   `json:"activeSurfaces"`
	TotalDuration  float64 `json:"totalDurationSeconds"`
}

// NewMetrics creates a metrics collector registered on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),
		stop:      make(chan struct{}),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentshell_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		RPCCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_rpc_calls_total",
				Help: "Total number of outgoing app-server calls by outcome",
			},
			[]string{"method", "status"},
		),
		RPCDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentshell_rpc_duration_seconds",
				Help:    "Outgoing app-server call latency in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method"},
		),
		RPCPending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_rpc_pending",
				Help: "Outgoing calls awaiting a response",
			},
		),

		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_notifications_total",
				Help: "Notifications received from the app-server by event type",
			},
			[]string{"type"},
		),
		InboundRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_inbound_requests_total",
				Help: "Server-initiated requests by method",
			},
			[]string{"method"},
		),
		MalformedLines: f.NewCounter(
			prometheus.CounterOpts{
				Name: "agentshell_malformed_lines_total",
				Help: "Lines dropped because they could not be decoded",
			},
		),

		ProcessRunning: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_process_running",
				Help: "1 while the app-server process is running",
			},
		),
		ProcessExits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_process_exits_total",
				Help: "App-server exits by reason",
			},
			[]string{"reason"},
		),
		ProcessStarts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_process_starts_total",
				Help: "App-server start attempts by outcome",
			},
			[]string{"status"},
		),

		SurfacesActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_surfaces_active",
				Help: "Number of registered UI surfaces",
			},
		),
		EventsRouted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_events_routed_total",
				Help: "Events delivered to surfaces by routing mode",
			},
			[]string{"mode"},
		),

		ApprovalsPending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_approvals_pending",
				Help: "Inbound requests awaiting a user decision",
			},
		),

		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		Uptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_uptime_seconds",
				Help: "Shell uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime refreshes the uptime gauge until Close
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-m.stop:
			return
		}
	}
}

// Close stops background collection
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRPCCall records the outcome of an outgoing call
func (m *Metrics) RecordRPCCall(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RPCCalls.WithLabelValues(method, status).Inc()
	if duration > 0 {
		m.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
	}

	m.mu.Lock()
	m.snapshot.TotalCalls++
	m.snapshot.TotalDuration += duration.Seconds()
	if status != "ok" {
		m.snapshot.FailedCalls++
	}
	m.mu.Unlock()
}

// SetRPCPending sets the number of outstanding calls
func (m *Metrics) SetRPCPending(n int) {
	if m == nil {
		return
	}
	m.RPCPending.Set(float64(n))
	m.mu.Lock()
	m.snapshot.Pending = int64(n)
	m.mu.Unlock()
}

// RecordNotification counts an inbound notification
func (m *Metrics) RecordNotification(eventType string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(eventType).Inc()
}

// RecordInboundRequest counts a server-initiated request
func (m *Metrics) RecordInboundRequest(method string) {
	if m == nil {
		return
	}
	m.InboundRequests.WithLabelValues(method).Inc()
}

// RecordMalformedLine counts a dropped line
func (m *Metrics) RecordMalformedLine() {
	if m == nil {
		return
	}
	m.MalformedLines.Inc()
}

// SetProcessRunning flips the process gauge
func (m *Metrics) SetProcessRunning(running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.ProcessRunning.Set(v)
}

// RecordProcessStart counts a start attempt
func (m *Metrics) RecordProcessStart(status string) {
	if m == nil {
		return
	}
	m.ProcessStarts.WithLabelValues(status).Inc()
}

// RecordProcessExit counts a process exit
func (m *Metrics) RecordProcessExit(reason string) {
	if m == nil {
		return
	}
	m.ProcessExits.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.ProcessExits++
	m.mu.Unlock()
}

// SetSurfacesActive sets the number of registered surfaces
func (m *Metrics) SetSurfacesActive(n int) {
	if m == nil {
		return
	}
	m.SurfacesActive.Set(float64(n))
	m.mu.Lock()
	m.snapshot.ActiveSurfaces = int64(n)
	m.mu.Unlock()
}

// RecordRouted counts a routed event ("targeted", "broadcast", "global", "dropped")
func (m *Metrics) RecordRouted(mode string) {
	if m == nil {
		return
	}
	m.EventsRouted.WithLabelValues(mode).Inc()
}

// SetApprovalsPending sets the number of unanswered inbound requests
func (m *Metrics) SetApprovalsPending(n int) {
	if m == nil {
		return
	}
	m.ApprovalsPending.Set(float64(n))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns current values for the JSON status API
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
