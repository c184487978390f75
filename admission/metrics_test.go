package admission

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestDenialsAreCountedByReason(t *testing.T) {
	counter := decisionMetric().WithLabelValues("deny", string(ReasonAddressBanned))

	var before dto.Metric
	if err := counter.Write(&before); err != nil {
		t.Fatalf("read counter: %v", err)
	}

	pipeline := NewPipeline(AddressBanCheck(&stubBans{banned: true}, nil))
	pipeline.Admit(context.Background(), allowedRequest())

	var after dto.Metric
	if err := counter.Write(&after); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if delta := after.GetCounter().GetValue() - before.GetCounter().GetValue(); delta != 1 {
		t.Fatalf("expected one address_banned denial recorded, got %v", delta)
	}
}
