package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
)

type provider struct {
	*httptest.Server
	conns chan *websocket.Conn
	authz chan string
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{conns: make(chan *websocket.Conn, 2), authz: make(chan string, 2)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.authz <- r.Header.Get("Authorization")
		p.conns <- ws
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *provider) wsURL() string { return "ws" + strings.TrimPrefix(p.URL, "http") }

func (p *provider) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-p.conns:
		return ws
	case <-time.After(3 * time.Second):
		t.Fatal("client never dialled")
		return nil
	}
}

func expect(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	require.Equal(t, typ, msg["type"])
	return msg
}

type events struct {
	mu  sync.Mutex
	all []core.VoiceEvent
}

func (e *events) add(ev core.VoiceEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *events) kinds() []core.VoiceEventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.VoiceEventKind, 0, len(e.all))
	for _, ev := range e.all {
		out = append(out, ev.Kind)
	}
	return out
}

func (e *events) last() core.VoiceEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.all[len(e.all)-1]
}

// startRegistered runs StartCall against p and answers with a registration.
func startRegistered(t *testing.T, c *Client, p *provider) (*websocket.Conn, *domain.StartCallResponse) {
	t.Helper()
	type result struct {
		resp *domain.StartCallResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.StartCall(context.Background(), domain.CallConfig{AgentID: "agent-1", DriverName: "Ann"})
		done <- result{resp, err}
	}()

	ws := p.accept(t)
	msg := expect(t, ws, msgStartCall)
	assert.Equal(t, "agent-1", msg["agent_id"])
	require.NoError(t, ws.WriteJSON(map[string]any{"type": msgCallRegistered, "call_id": "v-1", "sample_rate": 48000}))

	r := <-done
	require.NoError(t, r.err)
	return ws, r.resp
}

func TestClient_CallLifecycle(t *testing.T) {
	p := newProvider(t)
	c := NewClient(p.wsURL(), Options{APIKey: "key"})
	ev := &events{}
	c.Subscribe(ev.add)

	ws, resp := startRegistered(t, c, p)
	assert.Equal(t, domain.CallID("v-1"), resp.CallID)
	assert.Equal(t, 48000, resp.SampleRate)
	assert.Equal(t, "Bearer key", <-p.authz)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": msgCallStarted, "call_id": "v-1"}))
	require.NoError(t, ws.WriteJSON(map[string]any{"type": msgTranscript, "text": "hello", "speaker": "agent"}))

	require.NoError(t, c.EndCall(context.Background()))
	expect(t, ws, msgEndCall)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": msgCallEnded}))

	assert.Eventually(t, func() bool { return len(ev.kinds()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []core.VoiceEventKind{core.VoiceCallStarted, core.VoiceTranscript, core.VoiceCallEnded}, ev.kinds())
	assert.Eventually(t, func() bool {
		return errors.Is(c.EndCall(context.Background()), ErrNoActiveCall)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_RejectsSecondCall(t *testing.T) {
	p := newProvider(t)
	c := NewClient(p.wsURL(), Options{})
	startRegistered(t, c, p)

	_, err := c.StartCall(context.Background(), domain.CallConfig{AgentID: "agent-1"})
	assert.ErrorIs(t, err, ErrCallInProgress)
}

func TestClient_DialDoesNotHoldLock(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.Close()
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), Options{})
	done := make(chan error, 1)
	go func() {
		_, err := c.StartCall(context.Background(), domain.CallConfig{AgentID: "agent-1"})
		done <- err
	}()
	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.call != nil
	}, 2*time.Second, time.Millisecond)

	subscribed := make(chan struct{})
	go func() {
		unsubscribe := c.Subscribe(func(core.VoiceEvent) {})
		unsubscribe()
		close(subscribed)
	}()
	select {
	case <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked behind the dial")
	}

	_, err := c.StartCall(context.Background(), domain.CallConfig{AgentID: "agent-2"})
	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.ErrorIs(t, c.EndCall(context.Background()), ErrNoActiveCall)

	release <- struct{}{}
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("StartCall never returned")
	}
}

func TestClient_ProviderRejectsStart(t *testing.T) {
	p := newProvider(t)
	c := NewClient(p.wsURL(), Options{})
	ev := &events{}
	c.Subscribe(ev.add)

	done := make(chan error, 1)
	go func() {
		_, err := c.StartCall(context.Background(), domain.CallConfig{AgentID: "agent-1"})
		done <- err
	}()
	ws := p.accept(t)
	expect(t, ws, msgStartCall)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": msgError, "error": "agent not found"}))

	err := <-done
	require.Error(t, err)
	assert.Equal(t, "agent not found", err.Error())
	assert.Empty(t, ev.kinds(), "a rejected start is reported through the return value only")

	startRegistered(t, c, p)
}

func TestClient_DropAfterRegistrationIsError(t *testing.T) {
	p := newProvider(t)
	c := NewClient(p.wsURL(), Options{})
	ev := &events{}
	c.Subscribe(ev.add)

	ws, _ := startRegistered(t, c, p)
	_ = ws.Close()

	assert.Eventually(t, func() bool { return len(ev.kinds()) == 1 }, 2*time.Second, 10*time.Millisecond)
	last := ev.last()
	assert.Equal(t, core.VoiceError, last.Kind)
	assert.Equal(t, "voice connection lost", last.Message)
}

func TestClient_StartCallContextCancelled(t *testing.T) {
	p := newProvider(t)
	c := NewClient(p.wsURL(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.StartCall(ctx, domain.CallConfig{AgentID: "agent-1"})
		done <- err
	}()
	ws := p.accept(t)
	expect(t, ws, msgStartCall)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ErrorIs(t, c.EndCall(context.Background()), ErrNoActiveCall)
}

type fakeMedia struct {
	mu         sync.Mutex
	onICE      func(webrtc.ICECandidateInit)
	onLevel    func(float64)
	candidates []webrtc.ICECandidateInit
	offer      string
	closed     bool
}

func (m *fakeMedia) Start(context.Context) error { return nil }

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *fakeMedia) AddICECandidate(ci webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, ci)
	return nil
}

func (m *fakeMedia) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offer = offer.SDP
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (m *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit)) { m.onICE = fn }
func (m *fakeMedia) OnAudioLevel(fn func(float64))                   { m.onLevel = fn }
func (m *fakeMedia) OnClosed(func())                                {}

func (m *fakeMedia) candidateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candidates)
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func TestClient_OfferAnswerAndAudioLevel(t *testing.T) {
	p := newProvider(t)
	media := &fakeMedia{}
	c := NewClient(p.wsURL(), Options{
		Media: func(domain.CallID) (core.MediaConnection, error) { return media, nil },
	})
	ev := &events{}
	c.Subscribe(ev.add)

	ws, _ := startRegistered(t, c, p)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": msgOffer, "sdp": "offer-sdp"}))
	answer := expect(t, ws, msgAnswer)
	assert.Equal(t, "answer-sdp", answer["sdp"])

	require.NoError(t, ws.WriteJSON(map[string]any{"type": msgCandidate, "candidate": "candidate:1 1 udp 1 127.0.0.1 5000 typ host", "sdpMid": "0"}))
	assert.Eventually(t, func() bool { return media.candidateCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	mid := "0"
	media.onICE(webrtc.ICECandidateInit{Candidate: "candidate:2", SDPMid: &mid})
	cand := expect(t, ws, msgCandidate)
	assert.Equal(t, "candidate:2", cand["candidate"])

	media.onLevel(0.5)
	last := ev.last()
	assert.Equal(t, core.VoiceAudioLevel, last.Kind)
	assert.Equal(t, 0.5, last.Level)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": msgCallEnded}))
	assert.Eventually(t, media.isClosed, 2*time.Second, 10*time.Millisecond)
}

func TestClient_CheckAudioDevicesUsesProbe(t *testing.T) {
	c := NewClient("ws://unused", Options{
		Probe: func(context.Context) (domain.DeviceCapability, error) {
			return domain.DeviceCapability{Microphone: true}, nil
		},
	})
	caps, err := c.CheckAudioDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceCapability{Microphone: true}, caps)
}
