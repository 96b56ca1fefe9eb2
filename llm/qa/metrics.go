package qa

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeAbandoned = "abandoned"
)

// Metrics 问答轮次的 Prometheus 指标
type Metrics struct {
	turns     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	chunks    prometheus.Histogram
	fragments prometheus.Counter
}

// NewMetrics 创建指标并注册到 reg；reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbqa_turns_total",
				Help: "Total number of question turns by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbqa_turn_duration_seconds",
				Help:    "Duration of question turns by outcome",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		chunks: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kbqa_retrieved_chunks",
				Help:    "Number of chunks retrieved per turn",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
		),
		fragments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kbqa_streamed_fragments_total",
				Help: "Total number of answer fragments streamed from the chat model",
			},
		),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.turns, m.duration, m.chunks, m.fragments} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) observeChunks(n int) {
	if m == nil {
		return
	}
	m.chunks.Observe(float64(n))
}

func (m *Metrics) observeFragment() {
	if m == nil {
		return
	}
	m.fragments.Inc()
}
