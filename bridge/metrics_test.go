package bridge

import (
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/objlink/objlink/native"
)

func TestCollector_Gather(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)

	h := rt.New("doc")
	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := c.Wrap(h); err != nil {
		t.Fatalf("second wrap: %v", err)
	}
	if err := c.SetAttr(inst, "x", 1); err != nil {
		t.Fatalf("set attr: %v", err)
	}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(c, "objlink"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	got := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				got[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				got[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	want := map[string]float64{
		"objlink_cache_entries_live":      1,
		"objlink_cache_entries_strong":    1,
		"objlink_cache_hits_total":        1,
		"objlink_cache_misses_total":      1,
		"objlink_cache_escalations_total": 1,
		"objlink_cache_evictions_total":   0,
		"objlink_cache_removals_total":    0,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %v, want %v", name, got[name], v)
		}
	}
	runtime.KeepAlive(inst)
}
