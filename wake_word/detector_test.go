package wake_word

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	hyp   Hypothesis
	err   error
	calls int
}

func (f *fakeEngine) Hypothesis(pcm []byte) (Hypothesis, error) {
	f.calls++
	return f.hyp, f.err
}

func TestNew(t *testing.T) {
	t.Run("nil config is rejected", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("missing engine is rejected", func(t *testing.T) {
		_, err := New(&Config{KeyPhrase: "hey mycroft"})
		assert.Error(t, err)
	})

	t.Run("empty key phrase is rejected", func(t *testing.T) {
		_, err := New(&Config{KeyPhrase: "  ", Engine: &fakeEngine{}})
		assert.Error(t, err)
	})

	t.Run("phoneme groups must line up with words", func(t *testing.T) {
		_, err := New(&Config{KeyPhrase: "wake up", Phonemes: "W EY K", Engine: &fakeEngine{}})
		assert.Error(t, err)
	})

	t.Run("audio at a rate engines cannot take is rejected", func(t *testing.T) {
		_, err := New(&Config{KeyPhrase: "hey mycroft", SampleRate: 44100, Engine: &fakeEngine{}})
		assert.Error(t, err)

		_, err = New(&Config{KeyPhrase: "hey mycroft", SampleRate: 16000, Engine: &fakeEngine{}})
		assert.NoError(t, err)
	})

	t.Run("stand-up defaults are accepted", func(t *testing.T) {
		d, err := New(&Config{
			KeyPhrase: DefaultStandupWord,
			Phonemes:  DefaultStandupPhonemes,
			Threshold: DefaultStandupThreshold,
			Engine:    &fakeEngine{},
		})
		require.NoError(t, err)
		assert.Equal(t, "wake up", d.KeyPhrase())
	})
}

func TestDetector_Detect(t *testing.T) {
	tests := []struct {
		name      string
		hyp       Hypothesis
		threshold float64
		matched   bool
	}{
		{name: "exact phrase matches", hyp: Hypothesis{Text: "wake up", Score: 1}, threshold: 1e-10, matched: true},
		{name: "phrase inside a sentence matches", hyp: Hypothesis{Text: "Okay, WAKE UP now!", Score: 1}, threshold: 1e-10, matched: true},
		{name: "other words do not match", hyp: Hypothesis{Text: "make soup", Score: 1}, threshold: 1e-10, matched: false},
		{name: "score below threshold does not match", hyp: Hypothesis{Text: "wake up", Score: 0.1}, threshold: 0.5, matched: false},
		{name: "empty hypothesis does not match", hyp: Hypothesis{}, threshold: 0, matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(&Config{KeyPhrase: "Wake Up", Threshold: tt.threshold, Engine: &fakeEngine{hyp: tt.hyp}})
			require.NoError(t, err)

			result, err := d.Detect([]byte{1, 2})
			require.NoError(t, err)

			assert.Equal(t, tt.matched, result.Matched)
		})
	}
}

func TestDetector_DetectEmptyAudio(t *testing.T) {
	engine := &fakeEngine{hyp: Hypothesis{Text: "wake up", Score: 1}}
	d, err := New(&Config{KeyPhrase: "wake up", Engine: engine})
	require.NoError(t, err)

	result, err := d.Detect(nil)

	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Zero(t, engine.calls)
}

func TestDetector_EngineError(t *testing.T) {
	var timed bool

	d, err := New(&Config{
		KeyPhrase: "wake up",
		Engine:    &fakeEngine{err: errors.New("decoder failed")},
		OnTiming:  func(time.Duration) { timed = true },
	})
	require.NoError(t, err)

	_, err = d.Detect([]byte{1, 2})

	assert.EqualError(t, err, "decoder failed")
	assert.True(t, timed, "timing is reported even when the engine fails")
}

func TestSilentEngine_NeverMatches(t *testing.T) {
	d, err := New(&Config{KeyPhrase: "hey mycroft", Engine: SilentEngine{}})
	require.NoError(t, err)

	result, err := d.Detect([]byte{1, 2, 3, 4})

	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hey mycroft", Normalize("  Hey,   Mycroft! "))
	assert.Equal(t, "music", Normalize("[music]"))
}
