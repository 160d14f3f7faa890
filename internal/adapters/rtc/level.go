package rtc

import (
	"math"
	"sync"
	"time"
)

// maxAudioLevel is the quietest value of the ssrc-audio-level header
// extension, expressed in -dBov.
const maxAudioLevel = 127

// NormalizeLevel maps a -dBov reading to a linear level in [0,1].
func NormalizeLevel(dBov uint8) float64 {
	if dBov >= maxAudioLevel {
		return 0
	}
	return math.Pow(10, -float64(dBov)/20)
}

// LevelSampler forwards at most one reading per interval.
type LevelSampler struct {
	interval time.Duration
	now      func() time.Time
	fn       func(float64)

	mu   sync.Mutex
	last time.Time
}

func NewLevelSampler(interval time.Duration, fn func(level float64)) *LevelSampler {
	return &LevelSampler{interval: interval, now: time.Now, fn: fn}
}

// Observe records a raw -dBov reading.
func (s *LevelSampler) Observe(dBov uint8) {
	if s.fn == nil {
		return
	}
	now := s.now()
	s.mu.Lock()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		s.mu.Unlock()
		return
	}
	s.last = now
	s.mu.Unlock()
	s.fn(NormalizeLevel(dBov))
}
