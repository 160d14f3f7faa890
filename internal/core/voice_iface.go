package core

import (
	"context"

	"github.com/dkeye/Dispatch/internal/domain"
)

type VoiceEventKind string

const (
	VoiceCallStarted VoiceEventKind = "call_started"
	VoiceCallEnded   VoiceEventKind = "call_ended"
	VoiceError       VoiceEventKind = "error"
	VoiceAudioLevel  VoiceEventKind = "audio_level"
	VoiceTranscript  VoiceEventKind = "transcript"
)

// VoiceEvent is emitted by the voice provider client. Only the fields
// relevant to Kind are set.
type VoiceEvent struct {
	Kind       VoiceEventKind
	CallID     domain.CallID
	Message    string
	Level      float64
	Transcript domain.TranscriptEntry
}

// VoiceClient is the narrow surface of the third-party voice-call SDK.
type VoiceClient interface {
	StartCall(ctx context.Context, cfg domain.CallConfig) (*domain.StartCallResponse, error)
	EndCall(ctx context.Context) error
	CheckAudioDevices(ctx context.Context) (domain.DeviceCapability, error)
	// Subscribe registers fn for every event; the returned func removes it.
	Subscribe(fn func(VoiceEvent)) (unsubscribe func())
}
