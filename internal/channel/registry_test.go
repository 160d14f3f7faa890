package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/Dispatch/internal/domain"
)

func TestRegistry_AddRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	h := NewHandler("h", func(domain.Event) {})

	assert.True(t, r.Add(domain.TopicEmergency, h))
	assert.False(t, r.Add(domain.TopicEmergency, h))
	assert.Len(t, r.Handlers(domain.TopicEmergency), 1)

	assert.True(t, r.Remove(domain.TopicEmergency, h))
	assert.False(t, r.Remove(domain.TopicEmergency, h))
	assert.Empty(t, r.Handlers(domain.TopicEmergency))
}

func TestRegistry_SameHandlerDifferentTopics(t *testing.T) {
	r := NewRegistry()
	h := NewHandler("h", func(domain.Event) {})

	r.Add(domain.TopicEmergency, h)
	r.Add(domain.TopicCallStatus, h)
	r.Remove(domain.TopicEmergency, h)

	assert.Len(t, r.Handlers(domain.TopicCallStatus), 1)
}

func TestRegistry_NilHandlerRejected(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Add(domain.TopicEmergency, nil))
	assert.False(t, r.Add(domain.TopicEmergency, NewHandler("nil-fn", nil)))
}

func TestRegistry_DispatchCounts(t *testing.T) {
	r := NewRegistry()
	r.Add(domain.TopicEmergency, NewHandler("ok", func(domain.Event) {}))
	r.Add(domain.TopicEmergency, NewHandler("bad", func(domain.Event) { panic("nope") }))

	delivered, failed := r.Dispatch(domain.EmergencyDetected{DriverName: "Ann"})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, failed)
}

func TestRegistry_RemoveDuringDispatch(t *testing.T) {
	r := NewRegistry()
	var second *Handler
	calls := 0
	first := NewHandler("first", func(domain.Event) { r.Remove(domain.TopicEmergency, second) })
	second = NewHandler("second", func(domain.Event) { calls++ })
	r.Add(domain.TopicEmergency, first)
	r.Add(domain.TopicEmergency, second)

	r.Dispatch(domain.EmergencyDetected{})
	assert.Equal(t, 1, calls, "snapshot taken before dispatch still includes second")

	r.Dispatch(domain.EmergencyDetected{})
	assert.Equal(t, 1, calls)
}

func TestTypedHandlersFilterVariants(t *testing.T) {
	var got []string
	h := EmergencyHandler("e", func(e domain.EmergencyDetected) { got = append(got, e.DriverName) })

	h.fn(domain.CallStatusUpdate{CallID: "x"})
	h.fn(domain.EmergencyDetected{DriverName: "Ray"})

	assert.Equal(t, []string{"Ray"}, got)
}
