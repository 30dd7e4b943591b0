// Package audio_source turns a continuous sample stream into utterances.
package audio_source

import (
	"context"
	"errors"

	"github.com/aatchison/mycroft-core/utterance"
)

// ErrStopped is returned once a source has nothing more to give, either because
// its context was cancelled or because it ran out of input.
var ErrStopped = errors.New("audio source stopped")

// IOError is a device read failure. The source stays usable.
type IOError struct {
	Err error
}

func (e *IOError) Error() string {
	return "audio io error: " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

type Interface interface {
	// Listen blocks until one utterance has been heard.
	Listen(ctx context.Context) (*utterance.Utterance, error)
}

// Muter is implemented by sources that can stop hearing without stopping.
type Muter interface {
	Mute()
	Unmute()
}
