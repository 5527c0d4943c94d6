// Package metrics exposes the gateway's Prometheus collectors on a
// dedicated registry.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juno-intents/ton-gateway/internal/wire"
)

const namespace = "ton_gateway"

var nanoPerTON = new(big.Float).SetInt64(1_000_000_000)

type Gateway struct {
	registry *prometheus.Registry

	transactions      *prometheus.CounterVec
	gasUsed           *prometheus.HistogramVec
	rejected          *prometheus.CounterVec
	depositsPublished prometheus.Counter
	publishErrors     prometheus.Counter
	httpRequests      *prometheus.CounterVec

	balance prometheus.Gauge
	locked  prometheus.Gauge
	seqno   prometheus.Gauge
}

func New() *Gateway {
	reg := prometheus.NewRegistry()
	g := &Gateway{
		registry: reg,
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Committed transactions by message kind, op and exit code.",
		}, []string{"kind", "op", "exit_code"}),
		gasUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gas_used",
			Help:      "Gas consumed per committed transaction.",
			Buckets:   []float64{500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
		}, []string{"op"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_externals_total",
			Help:      "External messages dropped before acceptance, by exit code.",
		}, []string{"exit_code"}),
		depositsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_logs_published_total",
			Help:      "Deposit log events published to the queue.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_publish_errors_total",
			Help:      "Deposit log publish attempts that gave up after retries.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_ton",
			Help:      "Gateway account balance in TON.",
		}),
		locked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locked_ton",
			Help:      "Value locked by deposits in TON.",
		}),
		seqno: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seqno",
			Help:      "Next expected TSS sequence number.",
		}),
	}

	reg.MustRegister(
		g.transactions,
		g.gasUsed,
		g.rejected,
		g.depositsPublished,
		g.publishErrors,
		g.httpRequests,
		g.balance,
		g.locked,
		g.seqno,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return g
}

func (g *Gateway) Registry() *prometheus.Registry { return g.registry }

func (g *Gateway) Handler() http.Handler {
	return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{})
}

// opLabel keeps label cardinality bounded for arbitrary inbound op tags.
func opLabel(op uint32) string {
	o := wire.Op(op)
	if !o.Known() {
		return "unknown"
	}
	return o.String()
}

func (g *Gateway) ObserveTransaction(kind string, op uint32, exitCode int32, gasUsed uint64) {
	label := opLabel(op)
	g.transactions.WithLabelValues(kind, label, strconv.Itoa(int(exitCode))).Inc()
	g.gasUsed.WithLabelValues(label).Observe(float64(gasUsed))
}

func (g *Gateway) ObserveRejected(exitCode int32) {
	g.rejected.WithLabelValues(strconv.Itoa(int(exitCode))).Inc()
}

func (g *Gateway) ObservePublished(n int) {
	if n > 0 {
		g.depositsPublished.Add(float64(n))
	}
}

func (g *Gateway) ObservePublishError() { g.publishErrors.Inc() }

func (g *Gateway) ObserveHTTP(route string, code int) {
	g.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// SetLedger records the gateway's balance, locked value and seqno.
// Amounts are nanoton.
func (g *Gateway) SetLedger(balance, locked *big.Int, seqno uint32) {
	g.balance.Set(toTON(balance))
	g.locked.Set(toTON(locked))
	g.seqno.Set(float64(seqno))
}

func toTON(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), nanoPerTON).Float64()
	return f
}
