package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	payloads [][]byte
	started  chan struct{}
	stopped  chan struct{}
}

func (f *fakeSource) Run(ctx context.Context, out chan<- []byte) error {
	if f.started != nil {
		close(f.started)
	}
	for _, p := range f.payloads {
		select {
		case out <- p:
		case <-ctx.Done():
			if f.stopped != nil {
				close(f.stopped)
			}
			return nil
		}
	}
	<-ctx.Done()
	if f.stopped != nil {
		close(f.stopped)
	}
	return nil
}

func TestServiceDeliversPayloadsFromActiveSource(t *testing.T) {
	svc := NewService(zerolog.Nop())
	defer svc.Stop()

	src := &fakeSource{payloads: [][]byte{[]byte("a"), []byte("b")}}
	svc.SetSource(SourceMock, src)

	select {
	case got := <-svc.Deltas():
		require.Equal(t, []byte("a"), got)
	case <-time.After(time.Second):
		t.Fatal("expected first payload")
	}
	select {
	case got := <-svc.Deltas():
		require.Equal(t, []byte("b"), got)
	case <-time.After(time.Second):
		t.Fatal("expected second payload")
	}

	kind, active := svc.Active()
	require.True(t, active)
	require.Equal(t, SourceMock, kind)
}

func TestSetSourceStopsPreviousSourceBeforeStartingNext(t *testing.T) {
	svc := NewService(zerolog.Nop())
	defer svc.Stop()

	first := &fakeSource{stopped: make(chan struct{})}
	svc.SetSource(SourceDevice, first)

	second := &fakeSource{started: make(chan struct{})}
	svc.SetSource(SourceSignalK, second)

	select {
	case <-first.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected previous source to stop")
	}
	select {
	case <-second.started:
	case <-time.After(time.Second):
		t.Fatal("expected next source to start")
	}

	kind, active := svc.Active()
	require.True(t, active)
	require.Equal(t, SourceSignalK, kind)
}

func TestStopClearsActiveSource(t *testing.T) {
	svc := NewService(zerolog.Nop())

	svc.SetSource(SourceMock, &fakeSource{})
	svc.Stop()

	_, active := svc.Active()
	require.False(t, active)
}
