package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetFileCount(3)
	c.SetByteSize(1024)
	c.IncEviction(CauseFileCap)
	c.SetLockWaiters(2)
	c.IncRequest("write", "ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var found bool
	for _, mf := range families {
		if mf.GetName() == "filecached_evictions_total" {
			found = true
			for _, m := range mf.Metric {
				var cause string
				for _, l := range m.Label {
					if l.GetName() == LabelCause {
						cause = l.GetValue()
					}
				}
				if cause == CauseFileCap && m.Counter.GetValue() != 1 {
					t.Fatalf("expected 1 file-cap eviction, got %v", m.Counter.GetValue())
				}
			}
		}
	}
	if !found {
		t.Fatal("expected filecached_evictions_total to be registered")
	}
}

func TestCollectorWithNilRegistryIsUsableStandalone(t *testing.T) {
	c := New(nil)
	c.SetFileCount(1)
	c.IncRequest("read", "not-found")
}

var _ = dto.MetricFamily{}
