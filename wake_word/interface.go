package wake_word

// Interface is the detector contract the listener consumes: raw PCM in, verdict out.
type Interface interface {
	Detect(pcm []byte) (Result, error)
	KeyPhrase() string
}

// Engine is the acoustic scorer behind a detector.
type Engine interface {
	Hypothesis(pcm []byte) (Hypothesis, error)
}

type Hypothesis struct {
	Text  string
	Score float64
}

type Result struct {
	Matched    bool
	Hypothesis string
}
