package wake_word

// SilentEngine never hears anything. It stands in when no local model is
// configured, so detectors built on it never match.
type SilentEngine struct{}

func (SilentEngine) Hypothesis(pcm []byte) (Hypothesis, error) {
	return Hypothesis{}, nil
}
