package cache

import (
	"maps"
	"slices"
	"time"

	"github.com/dkeye/Dispatch/internal/domain"
)

// Entry is one cached query result. A stale entry keeps serving Value until
// the next read refetches it. Rev counts local changes made by events and
// invalidations since the entry was first fetched.
type Entry struct {
	Value     any
	UpdatedAt time.Time
	Stale     bool
	Rev       uint64
}

// Snapshot is an immutable view of the cache. Reduce never mutates its input.
type Snapshot map[Key]Entry

// Reduce applies one push event and returns the next snapshot. Entries the
// event is not scoped to are carried over unchanged.
func Reduce(s Snapshot, ev domain.Event) Snapshot {
	switch e := ev.(type) {
	case domain.CallStatusUpdate:
		return reduceCallStatus(s, e)
	case domain.TranscriptUpdate:
		return reduceTranscript(s, e)
	default:
		return s
	}
}

func reduceCallStatus(s Snapshot, e domain.CallStatusUpdate) Snapshot {
	next := maps.Clone(s)
	if next == nil {
		next = Snapshot{}
	}

	if entry, ok := next[ActiveCallsKey()]; ok {
		calls, _ := entry.Value.([]*domain.Call)
		if patched, ok := patchCallList(calls, e); ok {
			entry.Value = patched
		} else {
			entry.Stale = true
		}
		entry.Rev++
		next[ActiveCallsKey()] = entry
	}

	if entry, ok := next[CallKey(e.CallID)]; ok {
		if call, ok := entry.Value.(*domain.Call); ok && call != nil {
			entry.Value = patchCall(call, e)
		}
		entry.Stale = true
		entry.Rev++
		next[CallKey(e.CallID)] = entry
	}

	// Membership and ordering of listings may have changed in ways a patch
	// cannot express.
	for k, entry := range next {
		if k.Kind == KindCalls {
			entry.Stale = true
			entry.Rev++
			next[k] = entry
		}
	}
	return next
}

// patchCallList swaps in a patched copy of the referenced call. Every other
// element keeps its pointer.
func patchCallList(calls []*domain.Call, e domain.CallStatusUpdate) ([]*domain.Call, bool) {
	i := slices.IndexFunc(calls, func(c *domain.Call) bool { return c != nil && c.ID == e.CallID })
	if i < 0 {
		return nil, false
	}
	out := slices.Clone(calls)
	out[i] = patchCall(calls[i], e)
	return out, true
}

func patchCall(c *domain.Call, e domain.CallStatusUpdate) *domain.Call {
	updated := *c
	updated.Status = e.Status
	updated.Duration = e.Duration
	return &updated
}

func reduceTranscript(s Snapshot, e domain.TranscriptUpdate) Snapshot {
	entry, ok := s[TranscriptKey(e.CallID)]
	if !ok {
		return s
	}
	lines, _ := entry.Value.([]domain.TranscriptEntry)
	next := maps.Clone(s)
	entry.Value = append(slices.Clip(lines), e.Entry)
	entry.Rev++
	next[TranscriptKey(e.CallID)] = entry
	return next
}

// invalidate marks every entry of the given kinds stale.
func invalidate(s Snapshot, kinds ...Kind) Snapshot {
	next := maps.Clone(s)
	for k, entry := range next {
		if slices.Contains(kinds, k.Kind) {
			entry.Stale = true
			entry.Rev++
			next[k] = entry
		}
	}
	return next
}
