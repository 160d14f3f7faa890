package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is the audio leg of a browser-side voice call.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	AddICECandidate(webrtc.ICECandidateInit) error
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnAudioLevel is invoked with sampled remote audio levels in [0,1].
	OnAudioLevel(func(level float64))
	OnClosed(func())
}
