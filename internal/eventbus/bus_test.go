package eventbus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublishDeliversEvent(t *testing.T) {
	b := New(zerolog.Nop())
	ch := b.Subscribe("sub-1")

	b.Publish(Event{PhaseChanged: &PhaseChanged{From: "normal", To: "detecting"}})

	select {
	case ev := <-ch:
		require.NotNil(t, ev.PhaseChanged)
		require.Equal(t, "detecting", ev.PhaseChanged.To)
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestResubscribeClosesOldChannel(t *testing.T) {
	b := New(zerolog.Nop())
	old := b.Subscribe("sub-1")
	_ = b.Subscribe("sub-1")

	_, open := <-old
	require.False(t, open)
}

func TestUnsubscribeRemovesAndCloses(t *testing.T) {
	b := New(zerolog.Nop())
	ch := b.Subscribe("sub-1")
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe("sub-1")
	require.Equal(t, 0, b.SubscriberCount())

	_, open := <-ch
	require.False(t, open)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New(zerolog.Nop())
	b.Subscribe("slow") // never drained

	for i := 0; i < 200; i++ {
		b.Publish(Event{OutboxProgress: &OutboxProgress{Uploaded: i}})
	}
	// reaching here without blocking is the assertion
}
