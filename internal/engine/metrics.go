package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine's Prometheus collectors:
//
//	bot_ticks_total                 – completed decision ticks
//	bot_orders_total{side}          – acknowledged orders by side
//	bot_exit_reasons_total{reason}  – exits split by reason (stop_loss|take_profit)
//	bot_spike_events_total{kind}    – detector events by kind (up|down|recovery)
//	bot_arb_opportunities_total     – profitable cross-venue opportunities seen
//	bot_open_positions              – currently held positions (gauge)
//	bot_last_price{symbol}          – last observed price per instrument
type Metrics struct {
	ticks         prometheus.Counter
	orders        *prometheus.CounterVec
	exitReasons   *prometheus.CounterVec
	spikeEvents   *prometheus.CounterVec
	opportunities prometheus.Counter
	openPositions prometheus.Gauge
	lastPrice     *prometheus.GaugeVec
}

// NewMetrics creates the engine collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Completed decision ticks",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Acknowledged orders",
		}, []string{"side"}),
		exitReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position exits split by reason",
		}, []string{"reason"}),
		spikeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_spike_events_total",
			Help: "Spike detector events by kind",
		}, []string{"kind"}),
		opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_arb_opportunities_total",
			Help: "Cross-venue opportunities clearing the profit floor",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Currently held positions",
		}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_last_price",
			Help: "Last observed price per instrument",
		}, []string{"symbol"}),
	}

	reg.MustRegister(
		m.ticks, m.orders, m.exitReasons, m.spikeEvents,
		m.opportunities, m.openPositions, m.lastPrice,
	)
	return m
}
