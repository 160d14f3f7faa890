package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Dispatch/internal/core"
)

func TestHub_DeliversToEverySubscriber(t *testing.T) {
	h := NewHub(4, nil)
	a := h.Subscribe()
	b := h.Subscribe()

	h.Notify(core.Notification{Title: "Call placed", Message: "Ann"})

	for _, s := range []*Subscriber{a, b} {
		n := <-s.C()
		assert.Equal(t, "Call placed", n.Title)
		assert.Equal(t, core.PriorityNormal, n.Priority)
		assert.Equal(t, NormalDuration, n.Duration)
		assert.NotEmpty(t, n.ID)
	}
}

func TestHub_SlowSubscriberDropsNormal(t *testing.T) {
	h := NewHub(1, PriorityPolicy{})
	s := h.Subscribe()

	h.Notify(core.Notification{Title: "one"})
	h.Notify(core.Notification{Title: "two"})

	assert.Equal(t, 1, h.Len())
	n := <-s.C()
	assert.Equal(t, "one", n.Title)
}

func TestHub_SlowSubscriberKickedOnHighPriority(t *testing.T) {
	h := NewHub(1, PriorityPolicy{})
	s := h.Subscribe()

	h.Notify(core.Notification{Title: "one"})
	h.Notify(core.Notification{Title: "sos", Priority: core.PriorityHigh})

	assert.Equal(t, 0, h.Len())
	n, ok := <-s.C()
	require.True(t, ok)
	assert.Equal(t, "one", n.Title)
	_, ok = <-s.C()
	assert.False(t, ok, "channel closed after kick")
}

func TestSubscriber_CloseIsIdempotent(t *testing.T) {
	h := NewHub(1, nil)
	s := h.Subscribe()

	s.Close()
	assert.NotPanics(t, s.Close)
	assert.NotPanics(t, func() { h.Notify(core.Notification{Title: "late"}) })
	assert.Equal(t, 0, h.Len())
}
