// Package voice is the client side of the voice provider: websocket
// signalling for call control and transcripts, with the audio leg handed
// to a media connection.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/adapters/rtc"
	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
)

var (
	ErrCallInProgress = errors.New("call already in progress")
	ErrNoActiveCall   = errors.New("no active call")
	ErrSignalClosed   = errors.New("signalling connection closed")
)

// MediaFactory opens the audio leg for a registered call.
type MediaFactory func(callID domain.CallID) (core.MediaConnection, error)

// Prober reports local audio capability.
type Prober func(ctx context.Context) (domain.DeviceCapability, error)

type Options struct {
	APIKey       string
	WriteTimeout time.Duration
	Media        MediaFactory
	Probe        Prober
}

// RTCMedia returns a MediaFactory backed by pion.
func RTCMedia(cfg rtc.Config) MediaFactory {
	return func(callID domain.CallID) (core.MediaConnection, error) {
		return rtc.NewConnection(cfg, callID)
	}
}

// Client implements core.VoiceClient. It carries at most one call.
type Client struct {
	url  string
	opts Options

	mu     sync.Mutex
	call   *activeCall
	subs   map[uint64]func(core.VoiceEvent)
	nextID uint64
}

type activeCall struct {
	sig        *signalConn
	id         domain.CallID
	media      core.MediaConnection
	registered chan registration
	ending     bool
	cancel     context.CancelFunc

	resolveOnce sync.Once
}

type registration struct {
	resp *domain.StartCallResponse
	err  error
}

// resolve hands the first registration outcome to StartCall and reports
// whether this one was taken.
func (a *activeCall) resolve(r registration) bool {
	taken := false
	a.resolveOnce.Do(func() {
		a.registered <- r
		taken = true
	})
	return taken
}

func NewClient(url string, opts Options) *Client {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Media == nil {
		opts.Media = RTCMedia(rtc.DefaultConfig())
	}
	if opts.Probe == nil {
		opts.Probe = rtc.Probe
	}
	return &Client{
		url:  url,
		opts: opts,
		subs: make(map[uint64]func(core.VoiceEvent)),
	}
}

// StartCall dials the provider, registers the call and waits for the
// registration response.
func (c *Client) StartCall(ctx context.Context, cfg domain.CallConfig) (*domain.StartCallResponse, error) {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	call := &activeCall{
		registered: make(chan registration, 1),
		cancel:     cancel,
	}
	c.mu.Lock()
	if c.call != nil {
		c.mu.Unlock()
		cancel()
		return nil, ErrCallInProgress
	}
	// The slot is reserved while dialing; sig stays nil until the
	// provider answers.
	c.call = call
	c.mu.Unlock()

	header := http.Header{}
	if c.opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.teardown(call)
		return nil, fmt.Errorf("dial voice provider: %w", err)
	}
	c.mu.Lock()
	call.sig = newSignalConn(ws)
	c.mu.Unlock()

	go call.sig.writePump(c.opts.WriteTimeout)
	go c.readLoop(callCtx, call)

	err = call.sig.sendJSON(startCallMsg{
		Type:        msgStartCall,
		AgentID:     cfg.AgentID,
		DriverName:  cfg.DriverName,
		DriverPhone: cfg.DriverPhone,
		LoadNumber:  cfg.LoadNumber,
		Metadata:    cfg.Metadata,
	})
	if err != nil {
		c.teardown(call)
		return nil, fmt.Errorf("send start_call: %w", err)
	}

	select {
	case reg := <-call.registered:
		if reg.err != nil {
			c.teardown(call)
			return nil, reg.err
		}
		log.Info().Str("module", "voice").Str("call_id", string(reg.resp.CallID)).Msg("call registered")
		return reg.resp, nil
	case <-ctx.Done():
		c.teardown(call)
		return nil, ctx.Err()
	}
}

// EndCall asks the provider to hang up. Confirmation arrives as call_ended.
func (c *Client) EndCall(_ context.Context) error {
	c.mu.Lock()
	call := c.call
	var sig *signalConn
	if call != nil && call.sig != nil {
		call.ending = true
		sig = call.sig
	}
	c.mu.Unlock()
	if sig == nil {
		return ErrNoActiveCall
	}
	if err := sig.sendJSON(map[string]string{"type": msgEndCall}); err != nil {
		return fmt.Errorf("send end_call: %w", err)
	}
	return nil
}

func (c *Client) CheckAudioDevices(ctx context.Context) (domain.DeviceCapability, error) {
	return c.opts.Probe(ctx)
}

func (c *Client) Subscribe(fn func(core.VoiceEvent)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Client) emit(ev core.VoiceEvent) {
	c.mu.Lock()
	fns := make([]func(core.VoiceEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// teardown releases the call's resources. It reports whether call was
// still the active one.
func (c *Client) teardown(call *activeCall) bool {
	c.mu.Lock()
	current := c.call == call
	if current {
		c.call = nil
	}
	media := call.media
	call.media = nil
	sig := call.sig
	c.mu.Unlock()

	call.cancel()
	if sig != nil {
		sig.Close()
	}
	if media != nil {
		media.Close()
	}
	return current
}

func (c *Client) readLoop(ctx context.Context, call *activeCall) {
	var ended bool
	defer func() {
		c.mu.Lock()
		registered, ending := call.id != "", call.ending
		c.mu.Unlock()
		if !c.teardown(call) || ended || !registered {
			return
		}
		if ending {
			c.emit(core.VoiceEvent{Kind: core.VoiceCallEnded, CallID: call.id})
			return
		}
		c.emit(core.VoiceEvent{Kind: core.VoiceError, CallID: call.id, Message: "voice connection lost"})
	}()

	for {
		_, data, err := call.sig.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "voice").Msg("readLoop read error")
			}
			call.resolve(registration{err: fmt.Errorf("voice provider closed: %w", ErrSignalClosed)})
			return
		}
		if c.handleSignal(ctx, call, data) {
			ended = true
			return
		}
	}
}

// handleSignal processes one provider message and reports whether the
// call is over.
func (c *Client) handleSignal(ctx context.Context, call *activeCall, data []byte) bool {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("bad json")
		return false
	}

	switch env.Type {
	case msgCallRegistered:
		var p registeredMsg
		if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
			call.resolve(registration{err: errors.New("malformed call registration")})
			return false
		}
		c.mu.Lock()
		call.id = p.CallID
		c.mu.Unlock()
		call.resolve(registration{resp: &domain.StartCallResponse{
			CallID:      p.CallID,
			AccessToken: p.AccessToken,
			SampleRate:  p.SampleRate,
		}})
	case msgCallStarted:
		var p callStartedMsg
		_ = json.Unmarshal(data, &p)
		if p.CallID == "" {
			p.CallID = call.id
		}
		c.emit(core.VoiceEvent{Kind: core.VoiceCallStarted, CallID: p.CallID})
	case msgCallEnded:
		c.emit(core.VoiceEvent{Kind: core.VoiceCallEnded, CallID: call.id})
		return true
	case msgTranscript:
		var p transcriptMsg
		if err := json.Unmarshal(data, &p); err != nil {
			log.Error().Err(err).Str("module", "voice").Msg("bad transcript payload")
			return false
		}
		if p.Timestamp.IsZero() {
			p.Timestamp = time.Now()
		}
		c.emit(core.VoiceEvent{Kind: core.VoiceTranscript, CallID: call.id, Transcript: domain.TranscriptEntry{
			Text:      p.Text,
			Speaker:   p.Speaker,
			Timestamp: p.Timestamp,
		}})
	case msgError:
		var p errorMsg
		_ = json.Unmarshal(data, &p)
		if p.Error == "" {
			p.Error = "voice provider error"
		}
		if call.resolve(registration{err: errors.New(p.Error)}) {
			return false
		}
		c.emit(core.VoiceEvent{Kind: core.VoiceError, CallID: call.id, Message: p.Error})
	case msgOffer:
		c.handleOffer(ctx, call, data)
	case msgCandidate:
		c.handleCandidate(call, data)
	case msgPing:
		_ = call.sig.sendJSON(map[string]string{"type": msgPong})
	default:
		log.Warn().Str("module", "voice").Str("type", env.Type).Msg("unknown signal")
	}
	return false
}

func (c *Client) handleOffer(ctx context.Context, call *activeCall, data []byte) {
	var p sdpMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("bad offer payload")
		return
	}

	mc, err := c.opts.Media(call.id)
	if err != nil {
		c.emit(core.VoiceEvent{Kind: core.VoiceError, CallID: call.id, Message: fmt.Sprintf("open audio: %v", err)})
		return
	}
	mc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		msg := candidateMsg{Type: msgCandidate, Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			msg.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			msg.SDPMLineIndex = *ci.SDPMLineIndex
		}
		_ = call.sig.sendJSON(msg)
	})
	mc.OnAudioLevel(func(level float64) {
		c.emit(core.VoiceEvent{Kind: core.VoiceAudioLevel, CallID: call.id, Level: level})
	})

	if err := mc.Start(ctx); err != nil {
		mc.Close()
		c.emit(core.VoiceEvent{Kind: core.VoiceError, CallID: call.id, Message: fmt.Sprintf("start audio: %v", err)})
		return
	}
	answer, err := mc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if err != nil {
		mc.Close()
		c.emit(core.VoiceEvent{Kind: core.VoiceError, CallID: call.id, Message: fmt.Sprintf("negotiate audio: %v", err)})
		return
	}

	c.mu.Lock()
	old := call.media
	call.media = mc
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	_ = call.sig.sendJSON(sdpMsg{Type: msgAnswer, SDP: answer.SDP})
}

func (c *Client) handleCandidate(call *activeCall, data []byte) {
	var p candidateMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("bad candidate payload")
		return
	}
	cand := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	c.mu.Lock()
	mc := call.media
	c.mu.Unlock()
	if mc == nil {
		log.Warn().Str("module", "voice").Msg("candidate: no media connection")
		return
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("add ice candidate")
	}
}
