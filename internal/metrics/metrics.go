package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 业务指标；方法对 nil 接收者安全
type AppMetrics struct {
	PacketsTotal        *prometheus.CounterVec // labels: direction, identity
	JunkBytesTotal      prometheus.Counter
	DesyncTotal         prometheus.Counter
	UnhandledTotal      *prometheus.CounterVec // labels: direction
	RejectedTotal       *prometheus.CounterVec // labels: direction
	ListenerErrorsTotal prometheus.Counter
	ProcessStartsTotal  prometheus.Counter
	ProcessExitsTotal   *prometheus.CounterVec // labels: reason=exit|signal
	StderrLinesTotal    prometheus.Counter
	PublishTotal        *prometheus.CounterVec // labels: sink, result=ok|error|dropped
	WSClients           prometheus.Gauge
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcidump_packets_total",
			Help: "Dispatched HCI packets by direction and identity.",
		}, []string{"direction", "identity"}),
		JunkBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hcidump_junk_bytes_total",
			Help: "Sanitized text bytes discarded outside of any packet.",
		}),
		DesyncTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hcidump_desync_total",
			Help: "In-progress packets abandoned because a new packet started early.",
		}),
		UnhandledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcidump_unhandled_total",
			Help: "Packet headers skipped because no handler was installed.",
		}, []string{"direction"}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcidump_rejected_total",
			Help: "Packets dropped by their handler's parse rule.",
		}, []string{"direction"}),
		ListenerErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hcidump_listener_errors_total",
			Help: "Listener callbacks that returned an error.",
		}),
		ProcessStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hcidump_process_starts_total",
			Help: "hcidump process starts.",
		}),
		ProcessExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcidump_process_exits_total",
			Help: "hcidump process exits.",
		}, []string{"reason"}),
		StderrLinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hcidump_stderr_lines_total",
			Help: "Lines hcidump wrote to stderr.",
		}),
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcidump_publish_total",
			Help: "Packet records published to sinks.",
		}, []string{"sink", "result"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Connected websocket packet stream clients.",
		}),
	}
	reg.MustRegister(
		m.PacketsTotal, m.JunkBytesTotal, m.DesyncTotal, m.UnhandledTotal, m.RejectedTotal,
		m.ListenerErrorsTotal, m.ProcessStartsTotal, m.ProcessExitsTotal, m.StderrLinesTotal,
		m.PublishTotal, m.WSClients,
	)
	return m
}

func (m *AppMetrics) Packet(direction, identity string) {
	if m == nil {
		return
	}
	m.PacketsTotal.WithLabelValues(direction, identity).Inc()
}

func (m *AppMetrics) Junk(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.JunkBytesTotal.Add(float64(n))
}

func (m *AppMetrics) Desync() {
	if m == nil {
		return
	}
	m.DesyncTotal.Inc()
}

func (m *AppMetrics) Unhandled(direction string) {
	if m == nil {
		return
	}
	m.UnhandledTotal.WithLabelValues(direction).Inc()
}

func (m *AppMetrics) Rejected(direction string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(direction).Inc()
}

func (m *AppMetrics) ListenerError() {
	if m == nil {
		return
	}
	m.ListenerErrorsTotal.Inc()
}

func (m *AppMetrics) ProcessStarted() {
	if m == nil {
		return
	}
	m.ProcessStartsTotal.Inc()
}

func (m *AppMetrics) ProcessExited(signaled bool) {
	if m == nil {
		return
	}
	reason := "exit"
	if signaled {
		reason = "signal"
	}
	m.ProcessExitsTotal.WithLabelValues(reason).Inc()
}

func (m *AppMetrics) StderrLine() {
	if m == nil {
		return
	}
	m.StderrLinesTotal.Inc()
}

func (m *AppMetrics) Published(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PublishTotal.WithLabelValues(sink, result).Inc()
}

// PublishDropped 目标队列已满而丢弃
func (m *AppMetrics) PublishDropped(sink string) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(sink, "dropped").Inc()
}

func (m *AppMetrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}
