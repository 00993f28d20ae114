package spametrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	spametrics "github.com/spad-project/gospad/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spametrics.NewCollector(reg)

	if c.Granted == nil {
		t.Error("Granted is nil")
	}
	if c.Denied == nil {
		t.Error("Denied is nil")
	}
	if c.Dropped == nil {
		t.Error("Dropped is nil")
	}
	if c.ReplayHits == nil {
		t.Error("ReplayHits is nil")
	}
	if c.DecryptFailures == nil {
		t.Error("DecryptFailures is nil")
	}
	if c.ActiveGrants == nil {
		t.Error("ActiveGrants is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	_ = families
}

func TestGrantedCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spametrics.NewCollector(reg)

	c.RecordGranted("ACCESS", "ssh-admins")
	c.RecordGranted("ACCESS", "ssh-admins")

	val := counterValue(t, c.Granted, "ACCESS", "ssh-admins")
	if val != 2 {
		t.Errorf("Granted = %v, want 2", val)
	}
}

func TestDeniedAndDroppedCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spametrics.NewCollector(reg)

	c.RecordDenied("access_denied")
	c.RecordDropped("poisoned_prefix")
	c.RecordDropped("poisoned_prefix")

	if val := counterValue(t, c.Denied, "access_denied"); val != 1 {
		t.Errorf("Denied = %v, want 1", val)
	}
	if val := counterValue(t, c.Dropped, "poisoned_prefix"); val != 2 {
		t.Errorf("Dropped = %v, want 2", val)
	}
}

func TestReplayHitsAndDecryptFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spametrics.NewCollector(reg)

	c.RecordReplayHit()
	c.RecordReplayHit()
	c.RecordDecryptFailure("ssh-admins")

	m := &dto.Metric{}
	if err := c.ReplayHits.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("ReplayHits = %v, want 2", got)
	}

	if val := counterValue(t, c.DecryptFailures, "ssh-admins"); val != 1 {
		t.Errorf("DecryptFailures = %v, want 1", val)
	}
}

func TestActiveGrantsGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spametrics.NewCollector(reg)

	c.GrantOpened()
	c.GrantOpened()
	c.GrantExpired()

	m := &dto.Metric{}
	if err := c.ActiveGrants.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Errorf("ActiveGrants = %v, want 1", got)
	}
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
