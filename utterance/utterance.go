// Package utterance holds the audio segment handed from capture to dispatch.
package utterance

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero/mem"
)

const (
	DefaultSampleRate  = 16000
	DefaultSampleWidth = 2

	wavFormatPCM = 1
)

// Utterance is one bounded segment of 16-bit little-endian mono PCM. Treat it as
// read-only once constructed.
type Utterance struct {
	FrameData   []byte
	SampleRate  int
	SampleWidth int
	CapturedAt  time.Time
}

// New copies frameData so later writes by the caller cannot change the utterance.
func New(frameData []byte, sampleRate, sampleWidth int) *Utterance {
	data := make([]byte, len(frameData))
	copy(data, frameData)

	return &Utterance{
		FrameData:   data,
		SampleRate:  sampleRate,
		SampleWidth: sampleWidth,
		CapturedAt:  time.Now(),
	}
}

func FromSamples(samples []int16, sampleRate int) *Utterance {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	return &Utterance{
		FrameData:   data,
		SampleRate:  sampleRate,
		SampleWidth: DefaultSampleWidth,
		CapturedAt:  time.Now(),
	}
}

// Duration is the length in seconds: byte count / (rate * width).
func (u *Utterance) Duration() float64 {
	if u == nil || u.SampleRate <= 0 || u.SampleWidth <= 0 {
		return 0
	}

	return float64(len(u.FrameData)) / float64(u.SampleRate*u.SampleWidth)
}

func (u *Utterance) Samples() []int16 {
	samples := make([]int16, len(u.FrameData)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(u.FrameData[i*2:]))
	}

	return samples
}

// EncodeWAV wraps the PCM data in a RIFF/WAVE container.
func (u *Utterance) EncodeWAV() ([]byte, error) {
	if u.SampleWidth != DefaultSampleWidth {
		return nil, fmt.Errorf("unsupported sample width: %d", u.SampleWidth)
	}

	samples := u.Samples()

	intBuffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  u.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}

	for i, sample := range samples {
		intBuffer.Data[i] = int(sample)
	}

	// the encoder seeks back to patch the header, so it needs a seekable scratch file
	scratch := mem.NewFileHandle(mem.CreateFile("utterance.wav"))

	encoder := wav.NewEncoder(scratch, u.SampleRate, 16, 1, wavFormatPCM)

	err := encoder.Write(intBuffer)
	if err != nil {
		return nil, fmt.Errorf("writing wav samples: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return nil, fmt.Errorf("closing wav encoder: %w", err)
	}

	_, err = scratch.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	return io.ReadAll(scratch)
}
