//go:build portaudio

package audio_source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/aatchison/mycroft-core/utterance"
)

// Microphone reads 16-bit mono audio from a portaudio input device.
type Microphone struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	in         []int16
	segmenter  *segmenter
	sampleRate int
	muted      atomic.Bool
	logger     zerolog.Logger
}

func NewMicrophone(cfg *MicrophoneConfig) (*Microphone, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	sampleRate := cfg.sampleRate()

	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}

	err := portaudio.Initialize()
	if err != nil {
		return nil, err
	}

	in := make([]int16, frameSize)

	stream, err := openStream(cfg.DeviceIndex, sampleRate, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	err = stream.Start()
	if err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()

		return nil, err
	}

	return &Microphone{
		stream:     stream,
		in:         in,
		segmenter:  newSegmenter(frameSize, sampleRate, cfg.QuietTime, cfg.MaxPhraseTime),
		sampleRate: sampleRate,
		logger:     cfg.Logger.With().Str("component", "microphone").Logger(),
	}, nil
}

func openStream(deviceIndex, sampleRate int, in []int16) (*portaudio.Stream, error) {
	if deviceIndex < 0 {
		return portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(in), in)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	if deviceIndex >= len(devices) {
		return nil, fmt.Errorf("input device %d not found, %d devices available", deviceIndex, len(devices))
	}

	params := portaudio.LowLatencyParameters(devices[deviceIndex], nil)
	params.Input.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = len(in)

	return portaudio.OpenStream(params, in)
}

func (m *Microphone) Listen(ctx context.Context) (*utterance.Utterance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil, ErrStopped
	}

	samples, err := m.segmenter.next(ctx, m.readFrame)
	if err != nil {
		return nil, err
	}

	return utterance.FromSamples(samples, m.sampleRate), nil
}

// readFrame returns a copy of the next frame. While muted the device is still
// drained but silence is handed on.
func (m *Microphone) readFrame() ([]int16, error) {
	err := m.stream.Read()
	if err != nil {
		return nil, &IOError{Err: err}
	}

	frame := make([]int16, len(m.in))

	if !m.muted.Load() {
		copy(frame, m.in)
	}

	return frame, nil
}

func (m *Microphone) Mute() {
	m.muted.Store(true)
	m.logger.Info().Msg("microphone muted")
}

func (m *Microphone) Unmute() {
	m.muted.Store(false)
	m.logger.Info().Msg("microphone unmuted")
}

// Close stops the stream. Call it after the listener has stopped.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}

	err := m.stream.Stop()
	if err != nil {
		m.logger.Warn().Err(err).Msg("error stopping stream")
	}

	err = m.stream.Close()
	m.stream = nil

	if termErr := portaudio.Terminate(); termErr != nil {
		m.logger.Warn().Err(termErr).Msg("error while freeing audio")
	}

	return err
}
