package rtc

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Dispatch/internal/domain"
)

// Probe reports whether this process can send (microphone) and receive
// (speakers) Opus audio. It negotiates a throwaway offer and inspects the
// audio section of the generated SDP.
func Probe(ctx context.Context) (domain.DeviceCapability, error) {
	var caps domain.DeviceCapability
	if err := ctx.Err(); err != nil {
		return caps, err
	}

	api, err := newAPI()
	if err != nil {
		return caps, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return caps, fmt.Errorf("new peer connection: %w", err)
	}
	defer pc.Close()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		return caps, fmt.Errorf("add audio transceiver: %w", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return caps, fmt.Errorf("create offer: %w", err)
	}
	return CapabilityFromSDP(offer.SDP)
}

// CapabilityFromSDP derives device capability from the first audio media
// section that offers Opus.
func CapabilityFromSDP(raw string) (domain.DeviceCapability, error) {
	var caps domain.DeviceCapability
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return caps, fmt.Errorf("parse sdp: %w", err)
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" || !hasOpus(md) {
			continue
		}
		switch direction(md) {
		case "sendrecv":
			caps.Microphone, caps.Speakers = true, true
		case "sendonly":
			caps.Microphone = true
		case "recvonly":
			caps.Speakers = true
		}
		return caps, nil
	}
	return caps, nil
}

func hasOpus(md *sdp.MediaDescription) bool {
	for _, a := range md.Attributes {
		if a.Key == "rtpmap" && strings.Contains(strings.ToLower(a.Value), "opus/") {
			return true
		}
	}
	return false
}

func direction(md *sdp.MediaDescription) string {
	for _, d := range []string{"sendrecv", "sendonly", "recvonly", "inactive"} {
		if _, ok := md.Attribute(d); ok {
			return d
		}
	}
	return "sendrecv"
}
