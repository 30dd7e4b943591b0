//go:build whisper

package wake_word

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/audio"

	"github.com/aatchison/mycroft-core/utterance"
)

// WhisperEngine transcribes the buffered audio locally and reports the text as the
// hypothesis. Whisper has no keyword score, so every hypothesis scores 1.
type WhisperEngine struct {
	mu    sync.Mutex
	model whisper.Model
}

func NewWhisperEngine(modelPath string) (*WhisperEngine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model file not specified")
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("error loading model: %w", err)
	}

	return &WhisperEngine{model: model}, nil
}

func (e *WhisperEngine) Hypothesis(pcm []byte) (Hypothesis, error) {
	samples := utterance.New(pcm, utterance.DefaultSampleRate, utterance.DefaultSampleWidth).Samples()

	wavBuffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  utterance.DefaultSampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}

	for i, sample := range samples {
		wavBuffer.Data[i] = int(sample)
	}

	// a whisper context is not safe for concurrent use
	e.mu.Lock()
	defer e.mu.Unlock()

	context, err := e.model.NewContext()
	if err != nil {
		return Hypothesis{}, err
	}

	var cb whisper.SegmentCallback

	err = context.Process(wavBuffer.AsFloat32Buffer().Data, cb)
	if err != nil {
		return Hypothesis{}, err
	}

	text, err := segmentText(context)
	if err != nil {
		return Hypothesis{}, err
	}

	return Hypothesis{Text: text, Score: 1}, nil
}

func (e *WhisperEngine) Close() error {
	return e.model.Close()
}

func segmentText(context whisper.Context) (string, error) {
	seenText := make(map[string]bool)
	parts := make([]string, 0)

	for {
		segment, err := context.NextSegment()
		if err == io.EOF {
			return strings.Join(parts, " "), nil
		} else if err != nil {
			return "", err
		}

		text := strings.TrimSpace(segment.Text)

		// bracketed segments are non-speech annotations such as [music]
		if len(text) > 0 && (text[0] == '(' || text[0] == '[' ||
			text[len(text)-1] == ')' || text[len(text)-1] == ']') {
			continue
		}

		if seenText[text] {
			continue
		}

		seenText[text] = true
		parts = append(parts, text)
	}
}
