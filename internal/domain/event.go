package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Topic names a category of server-pushed event.
type Topic string

const (
	TopicCallStatus Topic = "call_status_update"
	TopicEmergency  Topic = "emergency_detected"
	// TopicTranscript is only delivered to clients that joined the call's room.
	TopicTranscript Topic = "transcript_update"
)

var ErrUnknownTopic = errors.New("unknown topic")

// Event is a decoded push notification. The set of variants is closed.
type Event interface {
	Topic() Topic
}

type CallStatusUpdate struct {
	CallID   CallID     `json:"call_id"`
	Status   CallStatus `json:"status"`
	Duration int        `json:"duration"`
}

func (CallStatusUpdate) Topic() Topic { return TopicCallStatus }

type EmergencyDetected struct {
	CallID     CallID `json:"call_id,omitempty"`
	DriverName string `json:"driver_name"`
	LoadNumber string `json:"load_number"`
	Message    string `json:"message"`
}

func (EmergencyDetected) Topic() Topic { return TopicEmergency }

type TranscriptUpdate struct {
	CallID CallID          `json:"call_id"`
	Entry  TranscriptEntry `json:"entry"`
}

func (TranscriptUpdate) Topic() Topic { return TopicTranscript }

// DecodeEvent turns a raw payload for topic into its typed variant.
func DecodeEvent(topic Topic, raw []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch topic {
	case TopicCallStatus:
		var e CallStatusUpdate
		err = json.Unmarshal(raw, &e)
		ev = e
	case TopicEmergency:
		var e EmergencyDetected
		err = json.Unmarshal(raw, &e)
		ev = e
	case TopicTranscript:
		var e TranscriptUpdate
		err = json.Unmarshal(raw, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", topic, err)
	}
	return ev, nil
}
