package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	Register(reg)

	Webhooks.WithLabelValues("applied").Inc()
	if got := testutil.ToFloat64(Webhooks.WithLabelValues("applied")); got < 1 {
		t.Fatalf("applied counter = %v, want >= 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "salesagent_webhook_deliveries_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("webhook counter not registered")
	}
}
