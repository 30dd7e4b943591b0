package speech_to_text

import (
	"context"
	"errors"

	"github.com/aatchison/mycroft-core/utterance"
)

// PairingUtterance stands in for the user's words when the device can no longer
// authenticate, so the pairing skill takes over.
const PairingUtterance = "pair my device"

var (
	ErrNotConnected  = errors.New("not connected to the internet")
	ErrNotRecognized = errors.New("speech not recognized")
)

type Interface interface {
	Transcribe(ctx context.Context, u *utterance.Utterance) (string, error)
	Lang() string
}
