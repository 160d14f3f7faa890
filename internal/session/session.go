// Package session drives the single browser-side voice call a dashboard
// instance may have open.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
	"github.com/dkeye/Dispatch/internal/ring"
)

const TranscriptCapacity = 50

// Snapshot is a settled copy of the session record.
type Snapshot struct {
	Status           domain.SessionStatus     `json:"status"`
	CallID           domain.CallID            `json:"call_id,omitempty"`
	Error            string                   `json:"error,omitempty"`
	AudioLevel       float64                  `json:"audio_level"`
	Transcript       []domain.TranscriptEntry `json:"transcript"`
	DeviceCapability *domain.DeviceCapability `json:"device_capability,omitempty"`
}

func (s Snapshot) IsCallActive() bool {
	return s.Status == domain.SessionConnecting || s.Status == domain.SessionConnected
}

func (s Snapshot) IsConnected() bool {
	return s.Status == domain.SessionConnected
}

// Session mutates its record only through the transitions below.
type Session struct {
	client      core.VoiceClient
	unsubscribe func()

	mu         sync.RWMutex
	status     domain.SessionStatus
	callID     domain.CallID
	errMsg     string
	audioLevel float64
	transcript *ring.Buffer[domain.TranscriptEntry]
	devices    *domain.DeviceCapability
}

type Option func(*options)

type options struct {
	transcriptCapacity int
}

// WithTranscriptCapacity bounds how many transcript entries are retained.
func WithTranscriptCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.transcriptCapacity = n
		}
	}
}

// New creates an idle session and probes audio devices once. A nil client
// yields a session whose operations all fail softly.
func New(ctx context.Context, client core.VoiceClient, opts ...Option) *Session {
	o := options{transcriptCapacity: TranscriptCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Session{
		client:     client,
		status:     domain.SessionIdle,
		transcript: ring.New[domain.TranscriptEntry](o.transcriptCapacity),
	}
	if client != nil {
		s.unsubscribe = client.Subscribe(s.handle)
	}
	s.CheckAudioDevices(ctx)
	return s
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Status:     s.status,
		CallID:     s.callID,
		Error:      s.errMsg,
		AudioLevel: s.audioLevel,
		Transcript: s.transcript.Oldest(),
	}
	if s.devices != nil {
		d := *s.devices
		snap.DeviceCapability = &d
	}
	return snap
}

func (s *Session) IsCallActive() bool { return s.Snapshot().IsCallActive() }
func (s *Session) IsConnected() bool  { return s.Snapshot().IsConnected() }

// StartCall places a call. It returns nil when the client is missing, a
// call is already in flight, or the provider rejected the start; the
// latter is recorded as the error state.
func (s *Session) StartCall(ctx context.Context, cfg domain.CallConfig) *domain.StartCallResponse {
	if s.client == nil {
		log.Warn().Str("module", "session").Msg("voice client not initialized")
		return nil
	}

	s.mu.Lock()
	if s.status == domain.SessionConnecting || s.status == domain.SessionConnected {
		status := s.status
		s.mu.Unlock()
		log.Warn().Str("module", "session").Str("status", string(status)).Msg("start rejected, call already active")
		return nil
	}
	s.status = domain.SessionConnecting
	s.callID = ""
	s.errMsg = ""
	s.audioLevel = 0
	s.transcript.Reset()
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("agent", string(cfg.AgentID)).Msg("starting call")
	resp, err := s.client.StartCall(ctx, cfg)
	if err != nil {
		s.fail("start call", err.Error())
		return nil
	}
	return resp
}

// EndCall asks the provider to hang up. The session only moves to ended
// when the provider confirms with call_ended.
func (s *Session) EndCall(ctx context.Context) {
	if s.client == nil || !s.IsCallActive() {
		return
	}
	log.Info().Str("module", "session").Msg("ending call")
	if err := s.client.EndCall(ctx); err != nil {
		s.mu.Lock()
		s.errMsg = err.Error()
		s.mu.Unlock()
		log.Error().Err(err).Str("module", "session").Msg("end call failed")
	}
}

// CheckAudioDevices records the probe result. Any failure is recorded as
// neither device being available.
func (s *Session) CheckAudioDevices(ctx context.Context) domain.DeviceCapability {
	var caps domain.DeviceCapability
	if s.client != nil {
		probed, err := s.client.CheckAudioDevices(ctx)
		if err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("audio device probe failed")
		} else {
			caps = probed
		}
	}
	s.mu.Lock()
	s.devices = &caps
	s.mu.Unlock()
	return caps
}

// ClearError clears the message and moves error back to idle. Other
// statuses are left alone.
func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
	if s.status == domain.SessionError {
		s.status = domain.SessionIdle
	}
}

// Close detaches from the client and resets the record to idle.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.SessionIdle
	s.callID = ""
	s.errMsg = ""
	s.audioLevel = 0
	s.transcript.Reset()
}

func (s *Session) fail(op, msg string) {
	s.mu.Lock()
	s.status = domain.SessionError
	s.errMsg = msg
	s.mu.Unlock()
	log.Error().Str("module", "session").Str("op", op).Str("error", msg).Msg("call failed")
}

func (s *Session) handle(ev core.VoiceEvent) {
	switch ev.Kind {
	case core.VoiceCallStarted:
		s.mu.Lock()
		if s.status == domain.SessionConnecting {
			s.status = domain.SessionConnected
			s.callID = ev.CallID
		}
		s.mu.Unlock()
		log.Info().Str("module", "session").Str("call_id", string(ev.CallID)).Msg("call started")
	case core.VoiceCallEnded:
		s.mu.Lock()
		if s.status == domain.SessionConnecting || s.status == domain.SessionConnected {
			s.status = domain.SessionEnded
		}
		s.mu.Unlock()
		log.Info().Str("module", "session").Msg("call ended")
	case core.VoiceError:
		msg := ev.Message
		if msg == "" {
			msg = "voice call error"
		}
		s.mu.Lock()
		active := s.status == domain.SessionConnecting || s.status == domain.SessionConnected
		s.mu.Unlock()
		if !active {
			log.Warn().Str("module", "session").Str("error", msg).Msg("voice error outside a call ignored")
			return
		}
		s.fail("voice event", msg)
	case core.VoiceAudioLevel:
		s.mu.Lock()
		s.audioLevel = ev.Level
		s.mu.Unlock()
	case core.VoiceTranscript:
		s.mu.Lock()
		s.transcript.Push(ev.Transcript)
		s.mu.Unlock()
	}
}
