//go:build !portaudio

package audio_source

import (
	"context"
	"fmt"

	"github.com/aatchison/mycroft-core/utterance"
)

// Microphone is unavailable in builds without the portaudio tag.
type Microphone struct{}

func NewMicrophone(cfg *MicrophoneConfig) (*Microphone, error) {
	return nil, fmt.Errorf("microphone support not built in, rebuild with -tags portaudio")
}

func (m *Microphone) Listen(ctx context.Context) (*utterance.Utterance, error) {
	return nil, ErrStopped
}

func (m *Microphone) Mute() {}

func (m *Microphone) Unmute() {}

func (m *Microphone) Close() error {
	return nil
}
