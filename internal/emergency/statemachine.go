package emergency

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marinersgrid/marinegrid/internal/eventbus"
)

const (
	disagreeSustain    = 10 * time.Second
	recoverySustain    = 5 * time.Minute
	defaultPollingHz   = 1.0
	emergencyPollingHz = 10.0
)

// Thresholds are the monotonic TSS bands driving the phase table, per
// spec §4.6 / config key emergency.tss_thresholds. AutoExit is the
// emergency -> recovering drop-below point; it is not itself a
// configured key, but is derived from Elevated the same way the
// spec's own defaults relate (elevated - 5).
type Thresholds struct {
	Elevated int
	High     int
	Critical int
	AutoExit int
}

// DefaultThresholds matches spec §4.6's documented 40/60/80 bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Elevated: 40, High: 60, Critical: 80, AutoExit: 35}
}

// Config configures an EmergencyStateMachine.
type Config struct {
	// AutoRecovery gates the emergency -> recovering transition; when
	// false, emergency only clears via a manual ExitEmergency.
	AutoRecovery bool
	Thresholds   Thresholds
}

// DefaultConfig enables auto-recovery, per spec §4.6's documented table.
func DefaultConfig() Config {
	return Config{AutoRecovery: true, Thresholds: DefaultThresholds()}
}

type manager struct {
	mu sync.Mutex

	phase  Phase
	reason Reason

	activatedAt    time.Time
	hasActivatedAt bool

	tss    int
	hasTSS bool
	trend  TrendDirection

	disagreeSince    time.Time
	hasDisagreeSince bool

	belowAutoExitSince    time.Time
	hasBelowAutoExitSince bool

	pollingRateHz    float64
	suspendedTaskIDs []string

	cfg Config
	bus *eventbus.Bus
	log zerolog.Logger
}

// NewManager constructs an EmergencyStateMachine starting in normal
// phase. bus may be nil; when non-nil, every phase transition publishes
// a PhaseChanged event.
func NewManager(cfg Config, bus *eventbus.Bus, log zerolog.Logger) Manager {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	return &manager{
		phase:         PhaseNormal,
		reason:        ReasonNone,
		pollingRateHz: defaultPollingHz,
		cfg:           cfg,
		bus:           bus,
		log:           log.With().Str("component", "emergency").Logger(),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputeTSS implements spec §4.6's formula: sigma = (-deltaP/deltaT)*2.5
// + (W_obs - W_pred)*0.8, normalized via clamp((sigma+30)*100/60, 0, 100)
// and rounded. Trend direction compares to the previously computed TSS;
// the first computation has nothing to compare against and is stable.
func (m *manager) ComputeTSS(pressureTrendHPaPerHr, windObsKts, windPredKts float64) (int, TrendDirection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sigma := (-pressureTrendHPaPerHr)*2.5 + (windObsKts-windPredKts)*0.8
	normalized := clampFloat((sigma+30)*100/60, 0, 100)
	tss := int(normalized + 0.5)

	delta := tss - m.tss
	switch {
	case !m.hasTSS:
		m.trend = TrendStable
	case delta > 5:
		m.trend = TrendWorsening
	case delta < -5:
		m.trend = TrendImproving
	default:
		m.trend = TrendStable
	}
	m.tss = tss
	m.hasTSS = true
	return m.tss, m.trend
}

func (m *manager) Update(in Input) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseNormal:
		if in.Consensus == ConsensusDisagree {
			if !m.hasDisagreeSince {
				m.disagreeSince = in.At
				m.hasDisagreeSince = true
			}
			if in.At.Sub(m.disagreeSince) >= disagreeSustain {
				m.transitionLocked(in.At, PhaseDetecting, ReasonDivergentConsensus)
			}
		} else {
			m.hasDisagreeSince = false
		}

	case PhaseDetecting:
		if in.Consensus != ConsensusDisagree {
			m.transitionLocked(in.At, PhaseNormal, ReasonNone)
			return
		}
		if in.TSS >= m.cfg.Thresholds.Elevated {
			m.transitionLocked(in.At, PhaseConfirming, ReasonDivergentConsensus)
		}

	case PhaseConfirming:
		if in.VibeConfirmed || in.TSS >= m.cfg.Thresholds.High {
			m.transitionLocked(in.At, PhaseEmergency, ReasonSeverityThreshold)
			return
		}
		if in.Consensus != ConsensusDisagree && in.TSS < m.cfg.Thresholds.Elevated {
			m.transitionLocked(in.At, PhaseNormal, ReasonNone)
		}

	case PhaseEmergency:
		if m.cfg.AutoRecovery && in.TSS < m.cfg.Thresholds.AutoExit {
			m.transitionLocked(in.At, PhaseRecovering, ReasonNone)
			// The entering tick is already below AutoExit, so the
			// recovery sustain window starts here.
			m.belowAutoExitSince = in.At
			m.hasBelowAutoExitSince = true
		}

	case PhaseRecovering:
		if in.TSS >= m.cfg.Thresholds.AutoExit {
			m.hasBelowAutoExitSince = false
			m.transitionLocked(in.At, PhaseEmergency, ReasonSeverityThreshold)
			return
		}
		if !m.hasBelowAutoExitSince {
			m.belowAutoExitSince = in.At
			m.hasBelowAutoExitSince = true
		}
		if in.At.Sub(m.belowAutoExitSince) >= recoverySustain {
			m.transitionLocked(in.At, PhaseNormal, ReasonNone)
		}
	}
}

func (m *manager) TriggerEmergency(at time.Time, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Info().Str("manual_reason", reason).Msg("manual emergency trigger")
	m.transitionLocked(at, PhaseEmergency, ReasonManual)
}

func (m *manager) ExitEmergency(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(at, PhaseNormal, ReasonManual)
}

// transitionLocked performs a phase transition and its entry side
// effects. Caller must hold m.mu.
func (m *manager) transitionLocked(at time.Time, to Phase, reason Reason) {
	from := m.phase
	if from == to {
		return
	}
	m.phase = to
	m.reason = reason
	m.hasDisagreeSince = false
	m.hasBelowAutoExitSince = false

	switch to {
	case PhaseEmergency:
		m.pollingRateHz = emergencyPollingHz
		m.suspendedTaskIDs = append([]string(nil), SuspendableTaskIDs...)
		m.activatedAt = at
		m.hasActivatedAt = true
	case PhaseNormal:
		m.pollingRateHz = defaultPollingHz
		m.suspendedTaskIDs = nil
		m.hasActivatedAt = false
		m.reason = ReasonNone
	}

	m.log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", string(reason)).
		Msg("phase transition")

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{PhaseChanged: &eventbus.PhaseChanged{
			From:   string(from),
			To:     string(to),
			Reason: string(reason),
		}})
	}
}

func (m *manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := State{
		Phase:            m.phase,
		Reason:           m.reason,
		SeverityScore:    m.tss,
		TrendDirection:   m.trend,
		PollingRateHz:    m.pollingRateHz,
		SuspendedTaskIDs: append([]string(nil), m.suspendedTaskIDs...),
	}
	if m.hasActivatedAt {
		s.ActivatedAt = m.activatedAt
		s.HasActivatedAt = true
	}
	return s
}
