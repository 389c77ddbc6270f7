package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// SourceKind names one of the three sensor-bridge kinds spec §5's
// ordering rule allows as the single active source.
type SourceKind string

const (
	SourceSignalK SourceKind = "signalk"
	SourceDevice  SourceKind = "device"
	SourceMock    SourceKind = "mock"
)

// Source is one sensor-bridge feed: Run pushes raw Signal K envelopes
// onto out until ctx is cancelled, then returns. Implementations are
// external collaborators (a TCP/websocket client, a test fixture
// player); only the contract lives here.
type Source interface {
	Run(ctx context.Context, out chan<- []byte) error
}

// Service is the single-producer source selector of spec §5's
// Ordering rule: exactly one Source is active at a time, and switching
// sources is atomic at a snapshot boundary (the old source's goroutine
// is fully stopped before the new one starts, so no interleaving is
// ever observed on Deltas()). Modeled on the teacher's SSE
// client-registry broadcast shape, narrowed from many fanned-out
// subscriber channels to the single fed-in channel the engine loop
// selects on.
type Service struct {
	mu     sync.Mutex
	out    chan []byte
	cancel context.CancelFunc
	done   chan struct{}
	active SourceKind
	log    zerolog.Logger
}

// NewService constructs a Service with no active source.
func NewService(log zerolog.Logger) *Service {
	return &Service{
		out: make(chan []byte, 64),
		log: log.With().Str("component", "telemetry_service").Logger(),
	}
}

// Deltas returns the channel the engine loop reads raw envelopes from.
// It never closes for the lifetime of the Service, even across source
// switches.
func (s *Service) Deltas() <-chan []byte {
	return s.out
}

// Active reports which source is currently running, if any.
func (s *Service) Active() (SourceKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.cancel != nil
}

// SetSource stops whatever source is currently running (waiting for
// its goroutine to exit, so the switch is atomic at a snapshot
// boundary) and starts src under kind. Passing a nil src just stops
// the current source.
func (s *Service) SetSource(kind SourceKind, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
		s.done = nil
	}
	s.active = ""
	if src == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.active = kind

	go func() {
		defer close(done)
		if err := src.Run(ctx, s.out); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Str("source", string(kind)).Msg("source terminated")
		}
	}()
}

// Stop halts the active source, if any.
func (s *Service) Stop() {
	s.SetSource("", nil)
}

// ErrNoActiveSource is returned by callers that require a running
// source but find none configured.
var ErrNoActiveSource = fmt.Errorf("telemetry: no active source")
