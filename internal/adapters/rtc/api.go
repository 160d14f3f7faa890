package rtc

import (
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	ICEServers     []string
	SampleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:     []string{"stun:stun.l.google.com:19302"},
		SampleInterval: 100 * time.Millisecond,
	}
}

func (c Config) webrtcConfig() webrtc.Configuration {
	if len(c.ICEServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: c.ICEServers,
			},
		},
	}
}

// newAPI builds a pion API that negotiates the default codecs plus the
// audio level header extension used for telemetry.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: zerologFactory{}}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)), nil
}
