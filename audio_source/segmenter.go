package audio_source

import (
	"context"
	"time"

	"github.com/aatchison/mycroft-core/ring_buffer"
	"github.com/aatchison/mycroft-core/vad"
)

const (
	DefaultFrameSize     = 4096
	DefaultQuietTime     = 200 * time.Millisecond
	DefaultMaxPhraseTime = 10 * time.Second

	// onsetRatio is how much louder, in spectral flux, a frame must be than the
	// one before it to count as the start of speech. Falling back below
	// 1/onsetRatio of the last loud frame counts as quiet.
	onsetRatio = 1.75

	// minOnsetFlux keeps digital silence followed by a click from counting.
	minOnsetFlux = 1.0
)

type frameReader func() ([]int16, error)

// segmenter cuts one phrase out of a frame stream: it waits for a jump in
// spectral flux, keeps the frames just before it, and stops after a run of
// quiet frames or at the phrase limit.
type segmenter struct {
	frameSize   int
	quietFrames int
	maxSamples  int

	vad     *vad.Detector
	preRoll *ring_buffer.Buffer
}

func newSegmenter(frameSize, sampleRate int, quietTime, maxPhraseTime time.Duration) *segmenter {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}

	if quietTime <= 0 {
		quietTime = DefaultQuietTime
	}

	if maxPhraseTime <= 0 {
		maxPhraseTime = DefaultMaxPhraseTime
	}

	frameTime := time.Duration(float64(frameSize) / float64(sampleRate) * float64(time.Second))

	quietFrames := int(quietTime / frameTime)
	if quietFrames < 1 {
		quietFrames = 1
	}

	return &segmenter{
		frameSize:   frameSize,
		quietFrames: quietFrames,
		maxSamples:  int(maxPhraseTime.Seconds() * float64(sampleRate)),
		vad:         vad.New(frameSize),
		preRoll:     ring_buffer.New(frameSize * 2),
	}
}

func (s *segmenter) next(ctx context.Context, read frameReader) ([]int16, error) {
	s.vad.Reset()
	s.preRoll.Clear()

	var (
		heardSomething bool
		primed         bool
		quietCount     int
		lastFlux       float64
		phrase         []int16
	)

	for {
		if ctx.Err() != nil {
			return nil, ErrStopped
		}

		frame, err := read()
		if err != nil {
			return nil, err
		}

		// keep the audio just before onset so the first word is not clipped
		if !heardSomething {
			s.preRoll.Add(frame)
		} else {
			phrase = append(phrase, frame...)
		}

		flux := s.vad.Flux(frame)

		if !primed {
			primed = true
			lastFlux = flux

			continue
		}

		if heardSomething {
			if flux*onsetRatio <= lastFlux {
				quietCount++

				if quietCount >= s.quietFrames {
					return phrase, nil
				}
			} else {
				quietCount = 0
				lastFlux = flux
			}

			if len(phrase) >= s.maxSamples {
				return phrase, nil
			}

			continue
		}

		if flux >= lastFlux*onsetRatio && flux > minOnsetFlux {
			heardSomething = true
			phrase = append(phrase, s.preRoll.Read()...)
		}

		lastFlux = flux
	}
}
