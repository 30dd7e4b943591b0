// Package vad measures voice activity as the spectral flux between consecutive
// microphone frames.
package vad

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

type Detector struct {
	frameSize    int
	lastSpectrum []float64
}

func New(frameSize int) *Detector {
	return &Detector{
		frameSize:    frameSize,
		lastSpectrum: make([]float64, frameSize/2+1),
	}
}

// Flux returns the summed positive change in magnitude spectrum since the previous
// frame. Frames shorter than the configured size are zero padded.
func (d *Detector) Flux(frame []int16) float64 {
	input := make([]float64, d.frameSize)
	for i := 0; i < len(frame) && i < d.frameSize; i++ {
		input[i] = float64(frame[i]) / math.MaxInt16
	}

	spectrum := fft.FFTReal(input)

	flux := 0.0

	for i := range d.lastSpectrum {
		magnitude := cmplx.Abs(spectrum[i])

		diff := magnitude - d.lastSpectrum[i]
		if diff > 0 {
			flux += diff
		}

		d.lastSpectrum[i] = magnitude
	}

	return flux
}

func (d *Detector) Reset() {
	for i := range d.lastSpectrum {
		d.lastSpectrum[i] = 0
	}
}
