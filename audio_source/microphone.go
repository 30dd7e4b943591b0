package audio_source

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aatchison/mycroft-core/utterance"
)

type MicrophoneConfig struct {
	// DeviceIndex selects an input device; negative means the system default.
	DeviceIndex   int
	SampleRate    int
	FrameSize     int
	QuietTime     time.Duration
	MaxPhraseTime time.Duration
	Logger        zerolog.Logger
}

func (c *MicrophoneConfig) sampleRate() int {
	if c.SampleRate <= 0 {
		return utterance.DefaultSampleRate
	}

	return c.SampleRate
}
