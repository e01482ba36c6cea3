package monitor

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signal"

// Metrics holds the engine collectors on a dedicated registry. A nil
// *Metrics accepts every call and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	WSReconnects      prometheus.Counter
	WSMessages        *prometheus.CounterVec // kind
	CandleCloses      *prometheus.CounterVec // interval
	Cycles            *prometheus.CounterVec // outcome
	Decisions         *prometheus.CounterVec // action
	RiskRejections    *prometheus.CounterVec // check
	OrderErrors       *prometheus.CounterVec // kind
	CycleDuration     prometheus.Histogram
	LastPrice         prometheus.Gauge
	BookImbalance     prometheus.Gauge
	ConsecutiveLosses prometheus.Gauge
	DrawdownPct       prometheus.Gauge
	APIRequests       *prometheus.CounterVec // route, code
	APILatency        prometheus.Histogram

	cycleWindow *durationWindow
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_reconnects_total",
			Help:      "WebSocket reconnection attempts",
		}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by stream kind",
		}, []string{"kind"}),
		CandleCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candle_closes_total",
			Help:      "Closed klines observed by interval",
		}, []string{"interval"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Decision cycles by outcome",
		}, []string{"outcome"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Parsed decisions by action",
		}, []string{"action"}),
		RiskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_rejections_total",
			Help:      "Decisions rejected by the risk gate, by check",
		}, []string{"check"}),
		OrderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_errors_total",
			Help:      "Failed exchange order calls by error kind",
		}, []string{"kind"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one decision cycle",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Last streamed price",
		}),
		BookImbalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_imbalance_pct",
			Help:      "Top-20 order book imbalance",
		}),
		ConsecutiveLosses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_losses",
			Help:      "Current losing streak seen by the risk gate",
		}),
		DrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drawdown_pct",
			Help:      "Equity drawdown at the last risk check",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Control API requests by route and status code",
		}, []string{"route", "code"}),
		APILatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Control API request latency",
			Buckets:   prometheus.DefBuckets,
		}),
		cycleWindow: newDurationWindow(200),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WSReconnects, m.WSMessages, m.CandleCloses, m.Cycles, m.Decisions,
		m.RiskRejections, m.OrderErrors, m.CycleDuration, m.LastPrice,
		m.BookImbalance, m.ConsecutiveLosses, m.DrawdownPct,
		m.APIRequests, m.APILatency,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.WSReconnects.Inc()
}

func (m *Metrics) ObserveMessage(kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCandleClose(interval string) {
	if m == nil {
		return
	}
	m.CandleCloses.WithLabelValues(interval).Inc()
}

func (m *Metrics) ObserveOrderError(kind string) {
	if m == nil {
		return
	}
	m.OrderErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDecision(action string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveRejection(check string) {
	if m == nil {
		return
	}
	m.RiskRejections.WithLabelValues(check).Inc()
}

// ObserveCycle counts a finished cycle and its duration.
func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.cycleWindow.add(d)
}

func (m *Metrics) SetMarket(price, imbalance float64) {
	if m == nil {
		return
	}
	m.LastPrice.Set(price)
	m.BookImbalance.Set(imbalance)
}

func (m *Metrics) SetRisk(consecutiveLosses int, drawdownPct float64) {
	if m == nil {
		return
	}
	m.ConsecutiveLosses.Set(float64(consecutiveLosses))
	m.DrawdownPct.Set(drawdownPct)
}

func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.APILatency.Observe(d.Seconds())
}

// CycleStats summarizes recent cycle durations for the status endpoint.
func (m *Metrics) CycleStats() LatencyStats {
	if m == nil {
		return LatencyStats{}
	}
	return m.cycleWindow.stats()
}

// LatencyStats are in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Count int     `json:"count"`
}

// durationWindow keeps the last n samples.
type durationWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

func newDurationWindow(n int) *durationWindow {
	return &durationWindow{samples: make([]float64, n)}
}

func (w *durationWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = float64(d.Microseconds()) / 1000
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *durationWindow) stats() LatencyStats {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	sorted := make([]float64, n)
	copy(sorted, w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		Count: n,
	}
}
