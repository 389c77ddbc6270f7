package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/marinersgrid/marinegrid/internal/emergency"
	"github.com/marinersgrid/marinegrid/internal/outbox"
	"github.com/marinersgrid/marinegrid/internal/telemetry"
)

// fileSnapshotStore persists divergence snapshots as one JSON file per
// id under a directory, the simplest durable implementation of
// divergence.SnapshotStore for a single-device deployment.
type fileSnapshotStore struct {
	dir string
}

func newFileSnapshotStore(dir string) (*fileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &fileSnapshotStore{dir: dir}, nil
}

func (s *fileSnapshotStore) WriteSnapshot(id string, data []byte) error {
	path := filepath.Join(s.dir, id+".json")
	return os.WriteFile(path, data, 0o644)
}

// httpUploader POSTs an outbox entry's payload to a configured grid
// endpoint. This is the client side of §6.3's upload envelope only;
// the server is an external collaborator out of this repository's
// scope. No third-party HTTP client appears anywhere in the examples
// pack, so stdlib net/http is the justified implementation.
type httpUploader struct {
	endpoint string
	client   *http.Client
}

func newHTTPUploader(endpoint string) *httpUploader {
	return &httpUploader{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (u *httpUploader) Upload(ctx context.Context, entry outbox.Entry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(entry.Payload))
	if err != nil {
		return fmt.Errorf("uploader: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Snapshot-Id", entry.SnapshotID)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploader: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("uploader: transient failure, status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("uploader: permanent rejection, status %d", resp.StatusCode)
	}
	return nil
}

// liveEnvironment reports the outbox's gating conditions: network
// reachability (a flag set through SetNetworkReachable, true until
// changed; nothing here probes the network), the
// device battery level (supplied externally since no battery API is
// portable across platforms, so it is read from an atomically-updated
// value a platform-specific reporter would set), and whether
// EmergencyStateMachine is currently in its emergency phase.
type liveEnvironment struct {
	reachable atomic.Bool
	battery   atomic.Uint64 // bits of a float64, via math.Float64bits
	emergency emergency.Manager
}

func newLiveEnvironment(em emergency.Manager, initialBattery float64) *liveEnvironment {
	e := &liveEnvironment{emergency: em}
	e.reachable.Store(true)
	e.SetBatteryLevel(initialBattery)
	return e
}

func (e *liveEnvironment) SetNetworkReachable(v bool) { e.reachable.Store(v) }

func (e *liveEnvironment) SetBatteryLevel(v float64) {
	e.battery.Store(math.Float64bits(v))
}

func (e *liveEnvironment) NetworkReachable() bool { return e.reachable.Load() }

func (e *liveEnvironment) BatteryLevel() float64 { return math.Float64frombits(e.battery.Load()) }

func (e *liveEnvironment) InEmergency() bool {
	return e.emergency.Current().Phase == emergency.PhaseEmergency
}

// stdinSource implements telemetry.Source by reading newline-delimited
// Signal K envelopes from an io.Reader (stdin in practice), the
// simplest bridge for local and test runs without a live NMEA/Signal K
// network.
type stdinSource struct {
	reader *bufio.Scanner
}

func newStdinSource() *stdinSource {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &stdinSource{reader: sc}
}

func (s *stdinSource) Run(ctx context.Context, out chan<- []byte) error {
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		for s.reader.Scan() {
			line := append([]byte(nil), s.reader.Bytes()...)
			if len(line) == 0 {
				continue
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

var _ telemetry.Source = (*stdinSource)(nil)
