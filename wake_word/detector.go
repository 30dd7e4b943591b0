package wake_word

import (
	"fmt"
	"strings"
	"time"

	"github.com/aatchison/mycroft-core/utterance"
)

const (
	DefaultStandupWord      = "wake up"
	DefaultStandupPhonemes  = "W EY K . AH P"
	DefaultStandupThreshold = 1e-10
)

type Config struct {
	KeyPhrase string
	Phonemes  string
	Threshold float64

	// SampleRate of the audio handed to Detect. Engines take 16 kHz PCM; zero
	// means that rate.
	SampleRate int
	Engine     Engine

	// OnTiming receives the engine's elapsed time; leave nil when metrics are off.
	OnTiming func(elapsed time.Duration)
}

type detectorImpl struct {
	keyPhrase string
	threshold float64
	engine    Engine
	onTiming  func(elapsed time.Duration)
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}

	keyPhrase := strings.ToLower(strings.TrimSpace(cfg.KeyPhrase))
	if keyPhrase == "" {
		return nil, fmt.Errorf("key phrase is empty")
	}

	if cfg.Phonemes != "" {
		words := strings.Fields(keyPhrase)
		groups := strings.Split(cfg.Phonemes, ".")

		if len(words) != len(groups) {
			return nil, fmt.Errorf("key phrase %q has %d words but %d phoneme groups",
				keyPhrase, len(words), len(groups))
		}
	}

	if cfg.SampleRate != 0 && cfg.SampleRate != utterance.DefaultSampleRate {
		return nil, fmt.Errorf("sample rate %d not supported, engines take %d Hz audio",
			cfg.SampleRate, utterance.DefaultSampleRate)
	}

	return &detectorImpl{
		keyPhrase: keyPhrase,
		threshold: cfg.Threshold,
		engine:    cfg.Engine,
		onTiming:  cfg.OnTiming,
	}, nil
}

func (d *detectorImpl) KeyPhrase() string {
	return d.keyPhrase
}

func (d *detectorImpl) Detect(pcm []byte) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, nil
	}

	start := time.Now()

	hyp, err := d.engine.Hypothesis(pcm)

	if d.onTiming != nil {
		d.onTiming(time.Since(start))
	}

	if err != nil {
		return Result{}, err
	}

	text := Normalize(hyp.Text)

	return Result{
		Matched:    text != "" && hyp.Score >= d.threshold && strings.Contains(text, d.keyPhrase),
		Hypothesis: text,
	}, nil
}

// Normalize lower-cases text and keeps only letters, digits and single spaces, so
// punctuation in a hypothesis cannot hide the key phrase.
func Normalize(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ' ' {
			return r
		}

		return -1
	}, text)

	return strings.Join(strings.Fields(strings.ToLower(cleaned)), " ")
}
