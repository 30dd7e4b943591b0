package speech_to_text

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aatchison/mycroft-core/api"
	"github.com/aatchison/mycroft-core/utterance"
)

const (
	DefaultLang        = "en-us"
	DefaultLimit       = 1
	DefaultContentType = "audio/wav"
)

// Recognizer is the remote call Remote makes. *api.STTAPI satisfies it.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, contentType, lang string, limit int) (any, error)
}

type Config struct {
	Recognizer  Recognizer
	Lang        string
	Limit       int
	ContentType string
	Logger      zerolog.Logger
}

type remoteImpl struct {
	recognizer  Recognizer
	lang        string
	limit       int
	contentType string
	logger      zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is nil")
	}

	lang := cfg.Lang
	if lang == "" {
		lang = DefaultLang
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	return &remoteImpl{
		recognizer:  cfg.Recognizer,
		lang:        lang,
		limit:       limit,
		contentType: contentType,
		logger:      cfg.Logger.With().Str("component", "stt").Logger(),
	}, nil
}

func (r *remoteImpl) Lang() string {
	return r.lang
}

// Transcribe uploads the utterance and returns the lower-cased text.
//
// A connection failure returns ErrNotConnected. A device that has lost its
// credentials returns PairingUtterance and no error. Any other rejection by the
// service returns ErrNotRecognized.
func (r *remoteImpl) Transcribe(ctx context.Context, u *utterance.Utterance) (string, error) {
	audio, err := u.EncodeWAV()
	if err != nil {
		return "", fmt.Errorf("encoding utterance: %w", err)
	}

	payload, err := r.recognizer.Recognize(ctx, audio, r.contentType, r.lang, r.limit)
	if err != nil {
		return r.mapError(err)
	}

	text, ok := extractText(payload)
	if !ok {
		r.logger.Debug().Interface("payload", payload).Msg("no text in stt response")
		return "", ErrNotRecognized
	}

	return text, nil
}

func (r *remoteImpl) mapError(err error) (string, error) {
	var connErr *api.ConnectionError
	if errors.As(err, &connErr) {
		return "", fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	if errors.Is(err, api.ErrAuthFatal) || api.IsUnauthorized(err) {
		r.logger.Warn().Err(err).Msg("device is not authorized, asking for pairing")
		return PairingUtterance, nil
	}

	var reqErr *api.RequestError
	if errors.As(err, &reqErr) {
		return "", fmt.Errorf("%w: %w", ErrNotRecognized, err)
	}

	return "", fmt.Errorf("transcribing utterance: %w", err)
}

// extractText accepts the shapes the service answers with: a list of
// alternatives, an object with a text field, or bare text.
func extractText(payload any) (string, bool) {
	var text string

	switch v := payload.(type) {
	case string:
		text = v
	case []any:
		if len(v) == 0 {
			return "", false
		}

		s, ok := v[0].(string)
		if !ok {
			return "", false
		}

		text = s
	case map[string]any:
		s, ok := v["text"].(string)
		if !ok {
			return "", false
		}

		text = s
	default:
		return "", false
	}

	text = strings.ToLower(strings.TrimSpace(text))

	return text, text != ""
}
