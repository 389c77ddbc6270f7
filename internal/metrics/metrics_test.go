package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, m interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return out.GetGauge().GetValue()
}

func TestSetPhaseZeroesOthersAndSetsCurrent(t *testing.T) {
	c, _ := New()
	phases := []string{"normal", "detecting", "confirming", "emergency", "recovering"}
	c.SetPhase(phases, "confirming")

	require.Equal(t, 1.0, gaugeValue(t, c.Phase.WithLabelValues("confirming")))
	require.Equal(t, 0.0, gaugeValue(t, c.Phase.WithLabelValues("normal")))
	require.Equal(t, 0.0, gaugeValue(t, c.Phase.WithLabelValues("emergency")))
}

func TestCollectorsRegisterWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		New()
	})
}
