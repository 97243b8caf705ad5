package host

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, op, outcome string) float64 {
	t.Helper()
	c, err := InvocationsTotal.GetMetricWithLabelValues(op, outcome)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.Counter.GetValue()
}

func TestInvocationMetrics_ByOutcome(t *testing.T) {
	InvocationsTotal.Reset()
	h, _, _ := newTestHost(t)
	ctx := context.Background()

	_ = h.Invoke(ctx, "metrics.ok", func(context.Context, *Tx) error { return nil })
	_ = h.Invoke(ctx, "metrics.fail", func(context.Context, *Tx) error { return errBusiness })
	_ = h.Invoke(ctx, "metrics.fatal", func(context.Context, *Tx) error { Fatal("boom"); return nil })

	if got := counterValue(t, "metrics.ok", outcomeCommitted); got != 1 {
		t.Errorf("committed = %v, want 1", got)
	}
	if got := counterValue(t, "metrics.fail", outcomeAborted); got != 1 {
		t.Errorf("aborted = %v, want 1", got)
	}
	if got := counterValue(t, "metrics.fatal", outcomeFatal); got != 1 {
		t.Errorf("fatal = %v, want 1", got)
	}
}

func TestInvocationMetrics_NestedCountsOnce(t *testing.T) {
	InvocationsTotal.Reset()
	h, _, _ := newTestHost(t)

	err := h.Invoke(context.Background(), "metrics.outer", func(ctx context.Context, _ *Tx) error {
		return h.Invoke(ctx, "metrics.inner", func(context.Context, *Tx) error { return nil })
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := counterValue(t, "metrics.outer", outcomeCommitted); got != 1 {
		t.Errorf("outer = %v, want 1", got)
	}
	if got := counterValue(t, "metrics.inner", outcomeCommitted); got != 0 {
		t.Errorf("inner = %v, want 0", got)
	}
}

func TestInvocationDuration_Observed(t *testing.T) {
	InvocationDuration.Reset()
	h, _, _ := newTestHost(t)
	_ = h.Invoke(context.Background(), "metrics.timed", func(context.Context, *Tx) error { return nil })

	ch := make(chan prometheus.Metric, 10)
	InvocationDuration.Collect(ch)
	close(ch)

	found := false
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil && m.Histogram.GetSampleCount() == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected histogram with 1 sample")
	}
}
