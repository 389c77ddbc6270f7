package emergency

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestManager() *manager {
	return NewManager(DefaultConfig(), nil, zerolog.Nop()).(*manager)
}

func TestNormalToDetectingRequiresSustainedDisagree(t *testing.T) {
	m := newTestManager()
	base := time.Unix(1000, 0)

	m.Update(Input{At: base, Consensus: ConsensusDisagree, TSS: 0})
	require.Equal(t, PhaseNormal, m.Current().Phase, "single sample must not yet transition")

	m.Update(Input{At: base.Add(9 * time.Second), Consensus: ConsensusDisagree, TSS: 0})
	require.Equal(t, PhaseNormal, m.Current().Phase, "9s sustained is below the 10s threshold")

	m.Update(Input{At: base.Add(10 * time.Second), Consensus: ConsensusDisagree, TSS: 0})
	require.Equal(t, PhaseDetecting, m.Current().Phase)
}

func TestDetectingReturnsToNormalWhenConsensusClears(t *testing.T) {
	m := newTestManager()
	base := time.Unix(2000, 0)
	m.Update(Input{At: base, Consensus: ConsensusDisagree, TSS: 0})
	m.Update(Input{At: base.Add(10 * time.Second), Consensus: ConsensusDisagree, TSS: 0})
	require.Equal(t, PhaseDetecting, m.Current().Phase)

	m.Update(Input{At: base.Add(11 * time.Second), Consensus: ConsensusAgree, TSS: 0})
	require.Equal(t, PhaseNormal, m.Current().Phase)
}

func TestDetectingToConfirmingAtTSS40Boundary(t *testing.T) {
	m := newTestManager()
	base := time.Unix(3000, 0)
	m.Update(Input{At: base, Consensus: ConsensusDisagree, TSS: 0})
	m.Update(Input{At: base.Add(10 * time.Second), Consensus: ConsensusDisagree, TSS: 39})
	require.Equal(t, PhaseDetecting, m.Current().Phase, "tss 39 stays below the elevated band")

	m.Update(Input{At: base.Add(11 * time.Second), Consensus: ConsensusDisagree, TSS: 40})
	require.Equal(t, PhaseConfirming, m.Current().Phase)
}

func driveToConfirming(t *testing.T, m *manager, base time.Time) time.Time {
	t.Helper()
	m.Update(Input{At: base, Consensus: ConsensusDisagree, TSS: 0})
	m.Update(Input{At: base.Add(10 * time.Second), Consensus: ConsensusDisagree, TSS: 40})
	require.Equal(t, PhaseDetecting, m.Current().Phase)
	m.Update(Input{At: base.Add(11 * time.Second), Consensus: ConsensusDisagree, TSS: 40})
	require.Equal(t, PhaseConfirming, m.Current().Phase)
	return base.Add(11 * time.Second)
}

func TestConfirmingToEmergencyAtTSS60Boundary(t *testing.T) {
	m := newTestManager()
	base := time.Unix(4000, 0)
	at := driveToConfirming(t, m, base)

	m.Update(Input{At: at.Add(time.Second), Consensus: ConsensusDisagree, TSS: 59})
	require.Equal(t, PhaseConfirming, m.Current().Phase, "tss 59 stays below the high band")

	m.Update(Input{At: at.Add(2 * time.Second), Consensus: ConsensusDisagree, TSS: 60})
	require.Equal(t, PhaseEmergency, m.Current().Phase)
}

func TestConfirmingToEmergencyOnVibeConfirmedRegardlessOfTSS(t *testing.T) {
	m := newTestManager()
	base := time.Unix(5000, 0)
	at := driveToConfirming(t, m, base)

	m.Update(Input{At: at.Add(time.Second), Consensus: ConsensusDisagree, TSS: 10, VibeConfirmed: true})
	require.Equal(t, PhaseEmergency, m.Current().Phase)
}

func TestConfirmingToNormalWhenConsensusClearsAndTSSLow(t *testing.T) {
	m := newTestManager()
	base := time.Unix(6000, 0)
	at := driveToConfirming(t, m, base)

	m.Update(Input{At: at.Add(time.Second), Consensus: ConsensusAgree, TSS: 10})
	require.Equal(t, PhaseNormal, m.Current().Phase)
}

func TestEmergencyEntrySideEffects(t *testing.T) {
	m := newTestManager()
	base := time.Unix(7000, 0)
	driveToConfirming(t, m, base)
	m.Update(Input{At: base.Add(12 * time.Second), Consensus: ConsensusDisagree, TSS: 80})

	state := m.Current()
	require.Equal(t, PhaseEmergency, state.Phase)
	require.Equal(t, 10.0, state.PollingRateHz)
	require.ElementsMatch(t, SuspendableTaskIDs, state.SuspendedTaskIDs)
	require.True(t, state.HasActivatedAt)
}

func TestEmergencyToRecoveringAtTSS35Boundary(t *testing.T) {
	m := newTestManager()
	base := time.Unix(8000, 0)
	driveToConfirming(t, m, base)
	m.Update(Input{At: base.Add(12 * time.Second), Consensus: ConsensusDisagree, TSS: 80})
	require.Equal(t, PhaseEmergency, m.Current().Phase)

	m.Update(Input{At: base.Add(13 * time.Second), Consensus: ConsensusAgree, TSS: 35})
	require.Equal(t, PhaseEmergency, m.Current().Phase, "tss 35 is not yet below the auto-exit threshold")

	m.Update(Input{At: base.Add(14 * time.Second), Consensus: ConsensusAgree, TSS: 34})
	require.Equal(t, PhaseRecovering, m.Current().Phase)
}

func TestRecoveringToNormalRequiresFiveMinuteSustain(t *testing.T) {
	m := newTestManager()
	base := time.Unix(9000, 0)
	driveToConfirming(t, m, base)
	m.Update(Input{At: base.Add(12 * time.Second), Consensus: ConsensusDisagree, TSS: 80})
	m.Update(Input{At: base.Add(13 * time.Second), Consensus: ConsensusAgree, TSS: 30})
	require.Equal(t, PhaseRecovering, m.Current().Phase)

	m.Update(Input{At: base.Add(13*time.Second + 4*time.Minute), Consensus: ConsensusAgree, TSS: 30})
	require.Equal(t, PhaseRecovering, m.Current().Phase, "4 minutes sustained is below the 5 minute threshold")

	m.Update(Input{At: base.Add(13*time.Second + 5*time.Minute), Consensus: ConsensusAgree, TSS: 30})
	require.Equal(t, PhaseNormal, m.Current().Phase)

	state := m.Current()
	require.Equal(t, 1.0, state.PollingRateHz)
	require.Empty(t, state.SuspendedTaskIDs)
}

func TestRecoveringReEntersEmergencyAtTSS35(t *testing.T) {
	m := newTestManager()
	base := time.Unix(10000, 0)
	driveToConfirming(t, m, base)
	m.Update(Input{At: base.Add(12 * time.Second), Consensus: ConsensusDisagree, TSS: 80})
	m.Update(Input{At: base.Add(13 * time.Second), Consensus: ConsensusAgree, TSS: 30})
	require.Equal(t, PhaseRecovering, m.Current().Phase)

	m.Update(Input{At: base.Add(14 * time.Second), Consensus: ConsensusDisagree, TSS: 35})
	require.Equal(t, PhaseEmergency, m.Current().Phase)
}

func TestManualTriggerAndExitBypassTable(t *testing.T) {
	m := newTestManager()
	at := time.Unix(11000, 0)

	m.TriggerEmergency(at, "skipper override")
	state := m.Current()
	require.Equal(t, PhaseEmergency, state.Phase)
	require.Equal(t, ReasonManual, state.Reason)

	m.ExitEmergency(at.Add(time.Second))
	require.Equal(t, PhaseNormal, m.Current().Phase)
}

func TestComputeTSSTrendDirection(t *testing.T) {
	m := newTestManager()
	tss1, trend1 := m.ComputeTSS(0, 0, 0)
	require.Equal(t, TrendStable, trend1)
	require.InDelta(t, 50, tss1, 1)

	_, trend2 := m.ComputeTSS(-5, 20, 0)
	require.Equal(t, TrendWorsening, trend2)

	_, trend3 := m.ComputeTSS(10, 0, 20)
	require.Equal(t, TrendImproving, trend3)
}

func TestComputeTSSFallingPressureIncreasesScore(t *testing.T) {
	m := newTestManager()
	flat, _ := m.ComputeTSS(0, 0, 0)
	m2 := newTestManager()
	falling, _ := m2.ComputeTSS(-4, 0, 0)
	require.Greater(t, falling, flat)
}
