package domain

type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionConnecting SessionStatus = "connecting"
	SessionConnected  SessionStatus = "connected"
	SessionEnded      SessionStatus = "ended"
	SessionError      SessionStatus = "error"
)

type DeviceCapability struct {
	Microphone bool `json:"microphone"`
	Speakers   bool `json:"speakers"`
}

// CallConfig is what the operator supplies to start a browser-side call.
type CallConfig struct {
	AgentID     AgentID           `json:"agent_id" binding:"required"`
	DriverName  string            `json:"driver_name"`
	DriverPhone string            `json:"driver_phone"`
	LoadNumber  string            `json:"load_number"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// StartCallResponse is returned by the voice provider once a call is registered.
type StartCallResponse struct {
	CallID      CallID `json:"call_id"`
	AccessToken string `json:"access_token,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
}
