// Package metrics exposes the bot's Prometheus collectors: stream usage,
// realtime/polling subscription counts, and priority-swap totals. Grounded
// on the metrics section of the streaming-trading-platform reference
// (prometheus.NewGaugeVec/NewCounterVec registered in an init-style block,
// scraped over a gin route via gin.WrapH(promhttp.Handler())) but adapted
// to GaugeFunc/CounterFunc collectors so the registry always reads live
// component state instead of requiring every call site to remember to
// update a metric by hand.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"

	"github.com/tgparkk/stockbot/internal/stream"
	"github.com/tgparkk/stockbot/internal/subscription"
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// Handler serves the registry in the Prometheus text exposition format.
// Mounted directly on the operator API's gin router rather than a second
// http.Server, so there's no second port to configure or bind.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RegisterStream wires gauges that read the Stream Client's live state on
// every scrape: connection health and the fraction of StreamCap in use.
func RegisterStream(c *stream.Client) {
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "stockbot_stream_usage_ratio", Help: "Active realtime stream subscriptions as a fraction of capacity"},
		c.UsageRatio,
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "stockbot_stream_connected", Help: "1 if the stream client's websocket connection is currently open"},
		func() float64 {
			if c.IsConnected() {
				return 1
			}
			return 0
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "stockbot_stream_healthy", Help: "1 if the stream client has received a heartbeat within its keepalive window"},
		func() float64 {
			if c.IsHealthy() {
				return 1
			}
			return 0
		},
	))
}

// RegisterSubscription wires gauges/counters reading the Subscription
// Manager's live tier sizes and lifetime priority-swap total.
func RegisterSubscription(m *subscription.Manager) {
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "stockbot_realtime_symbols", Help: "Symbols currently on the realtime stream tier"},
		func() float64 { return float64(m.Stats().RealtimeCount) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "stockbot_polling_symbols", Help: "Symbols currently on the REST polling tier"},
		func() float64 { return float64(m.Stats().PollingCount) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "stockbot_waitlist_length", Help: "Symbols waiting for a realtime slot to free up"},
		func() float64 { return float64(m.Stats().WaitlistLength) },
	))
	registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: "stockbot_priority_swaps_total", Help: "Total number of times a higher-priority symbol has displaced a weaker realtime holder"},
		func() float64 { return float64(m.Stats().PrioritySwaps) },
	))
}
