//go:build !whisper

package wake_word

import "fmt"

// WhisperEngine is unavailable without the whisper build tag.
type WhisperEngine struct{}

func NewWhisperEngine(modelPath string) (*WhisperEngine, error) {
	return nil, fmt.Errorf("whisper engine not available: rebuild with -tags whisper")
}

func (e *WhisperEngine) Hypothesis(pcm []byte) (Hypothesis, error) {
	return Hypothesis{}, fmt.Errorf("whisper engine not available")
}

func (e *WhisperEngine) Close() error {
	return nil
}
