package voice

import (
	"time"

	"github.com/dkeye/Dispatch/internal/domain"
)

// Signal types exchanged with the voice provider.
const (
	msgStartCall      = "start_call"
	msgEndCall        = "end_call"
	msgCallRegistered = "call_registered"
	msgCallStarted    = "call_started"
	msgCallEnded      = "call_ended"
	msgTranscript     = "transcript"
	msgError          = "error"
	msgOffer          = "offer"
	msgAnswer         = "answer"
	msgCandidate      = "candidate"
	msgPing           = "ping"
	msgPong           = "pong"
)

type startCallMsg struct {
	Type        string            `json:"type"`
	AgentID     domain.AgentID    `json:"agent_id"`
	DriverName  string            `json:"driver_name,omitempty"`
	DriverPhone string            `json:"driver_phone,omitempty"`
	LoadNumber  string            `json:"load_number,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type registeredMsg struct {
	CallID      domain.CallID `json:"call_id"`
	AccessToken string        `json:"access_token"`
	SampleRate  int           `json:"sample_rate"`
}

type callStartedMsg struct {
	CallID domain.CallID `json:"call_id"`
}

type transcriptMsg struct {
	Text      string         `json:"text"`
	Speaker   domain.Speaker `json:"speaker"`
	Timestamp time.Time      `json:"timestamp"`
}

type errorMsg struct {
	Error string `json:"error"`
}

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateMsg struct {
	Type          string `json:"type"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}
