package metrics

import (
	"io"
	"math"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/juno-intents/ton-gateway/internal/wire"
)

func TestObserveTransaction(t *testing.T) {
	t.Parallel()

	g := New()
	g.ObserveTransaction("internal", uint32(wire.OpDeposit), 0, 1200)
	g.ObserveTransaction("internal", uint32(wire.OpDeposit), 0, 1300)
	g.ObserveTransaction("external", uint32(wire.OpWithdraw), 0, 4000)
	g.ObserveTransaction("internal", 0xdeadbeef, 101, 300)

	if got := counterValue(t, g.transactions, "internal", "deposit", "0"); got != 2 {
		t.Fatalf("deposit transactions: got %v want 2", got)
	}
	if got := counterValue(t, g.transactions, "external", "withdraw", "0"); got != 1 {
		t.Fatalf("withdraw transactions: got %v want 1", got)
	}
	if got := counterValue(t, g.transactions, "internal", "unknown", "101"); got != 1 {
		t.Fatalf("unknown op transactions: got %v want 1", got)
	}

	h, err := g.gasUsed.GetMetricWithLabelValues("deposit")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	var m dto.Metric
	if err := h.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 2 {
		t.Fatalf("gas samples: got %d want 2", got)
	}
	if got := m.GetHistogram().GetSampleSum(); got != 2500 {
		t.Fatalf("gas sum: got %v want 2500", got)
	}
}

func TestObserveRejectedAndPublisher(t *testing.T) {
	t.Parallel()

	g := New()
	g.ObserveRejected(108)
	g.ObserveRejected(108)
	g.ObserveRejected(109)
	g.ObservePublished(3)
	g.ObservePublished(0)
	g.ObservePublished(-1)
	g.ObservePublishError()

	if got := counterValue(t, g.rejected, "108"); got != 2 {
		t.Fatalf("rejected 108: got %v want 2", got)
	}
	if got := counterValue(t, g.rejected, "109"); got != 1 {
		t.Fatalf("rejected 109: got %v want 1", got)
	}
	if got := plainValue(t, g.depositsPublished); got != 3 {
		t.Fatalf("published: got %v want 3", got)
	}
	if got := plainValue(t, g.publishErrors); got != 1 {
		t.Fatalf("publish errors: got %v want 1", got)
	}
}

func TestSetLedger(t *testing.T) {
	t.Parallel()

	g := New()
	g.SetLedger(big.NewInt(2_500_000_000), big.NewInt(990_000_000), 7)

	if got := gaugeValue(t, g.balance); got != 2.5 {
		t.Fatalf("balance: got %v want 2.5", got)
	}
	if got := gaugeValue(t, g.locked); math.Abs(got-0.99) > 1e-12 {
		t.Fatalf("locked: got %v want 0.99", got)
	}
	if got := gaugeValue(t, g.seqno); got != 7 {
		t.Fatalf("seqno: got %v want 7", got)
	}

	g.SetLedger(nil, nil, 0)
	if got := gaugeValue(t, g.balance); got != 0 {
		t.Fatalf("nil balance: got %v want 0", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	g := New()
	g.ObserveHTTP("/v1/state", 200)
	g.ObserveTransaction("internal", uint32(wire.OpCall), 0, 900)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status: got %d want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`ton_gateway_http_requests_total{code="200",route="/v1/state"} 1`,
		`ton_gateway_transactions_total{exit_code="0",kind="internal",op="call"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	// Each Gateway has its own registry.
	other := New()
	if other.Registry() == g.Registry() {
		t.Fatalf("registries must not be shared")
	}
}

func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	return plainValue(t, c)
}

func plainValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}
