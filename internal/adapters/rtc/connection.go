// Package rtc is the audio leg of a browser-side voice call, built on pion.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/domain"
)

// Connection implements core.MediaConnection for one call.
type Connection struct {
	pc      *webrtc.PeerConnection
	callID  domain.CallID
	cfg     Config
	onICE   func(webrtc.ICECandidateInit)
	onLevel func(float64)
	cancel  context.CancelFunc

	closeOnce sync.Once
	onClosed  func()
}

func NewConnection(cfg Config, callID domain.CallID) (*Connection, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(cfg.webrtcConfig())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "dispatch-"+string(callID),
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("new local track: %w", err)
	}
	if _, err := pc.AddTrack(local); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add local track: %w", err)
	}
	return &Connection{pc: pc, callID: callID, cfg: cfg}, nil
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("call_id", string(c.callID)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed || s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("call_id", string(c.callID)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.fireClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("call_id", string(c.callID)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go c.readLevels(ctx, track, audioLevelExtensionID(receiver))
	})

	return nil
}

// readLevels drains the remote audio track and samples the audio level
// header extension when the far end negotiated it.
func (c *Connection) readLevels(ctx context.Context, track *webrtc.TrackRemote, extID uint8) {
	sampler := NewLevelSampler(c.cfg.SampleInterval, c.onLevel)
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("call_id", string(c.callID)).Msg("remote track ended")
			return
		}
		if extID == 0 {
			continue
		}
		if dBov, ok := audioLevel(pkt, extID); ok {
			sampler.Observe(dBov)
		}
	}
}

func audioLevelExtensionID(receiver *webrtc.RTPReceiver) uint8 {
	if receiver == nil {
		return 0
	}
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

func audioLevel(pkt *rtp.Packet, extID uint8) (uint8, bool) {
	raw := pkt.Header.GetExtension(extID)
	if raw == nil {
		return 0, false
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return 0, false
	}
	return ext.Level, true
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

func (c *Connection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
			log.Error().Err(err).Str("module", "rtc").Str("call_id", string(c.callID)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("call_id", string(c.callID)).Msg("closed")
		}
	}
	c.fireClosed()
}

func (c *Connection) fireClosed() {
	c.closeOnce.Do(func() {
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnAudioLevel sets the callback for sampled remote audio levels.
func (c *Connection) OnAudioLevel(fn func(level float64)) { c.onLevel = fn }

// OnClosed sets the callback run once when the connection goes away.
func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }
