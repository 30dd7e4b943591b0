package audio_source

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aatchison/mycroft-core/utterance"
	"github.com/aatchison/mycroft-core/wake_word"
)

type GateConfig struct {
	Source   Interface
	Detector wake_word.Interface
	Logger   zerolog.Logger
}

// WakeGate holds back speech until the wake phrase is heard, then returns the
// phrase that follows it. While bypassed every phrase passes straight through,
// which is how a sleeping listener gets to hear its stand-up phrase.
type WakeGate struct {
	source   Interface
	detector wake_word.Interface
	bypass   atomic.Pointer[func() bool]
	logger   zerolog.Logger
}

func NewWakeGate(cfg *GateConfig) (*WakeGate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Source == nil {
		return nil, fmt.Errorf("source is nil")
	}

	if cfg.Detector == nil {
		return nil, fmt.Errorf("detector is nil")
	}

	return &WakeGate{
		source:   cfg.Source,
		detector: cfg.Detector,
		logger:   cfg.Logger.With().Str("component", "wake-gate").Logger(),
	}, nil
}

// SetBypass installs the predicate checked before each phrase.
func (g *WakeGate) SetBypass(bypass func() bool) {
	g.bypass.Store(&bypass)
}

func (g *WakeGate) bypassed() bool {
	bypass := g.bypass.Load()

	return bypass != nil && *bypass != nil && (*bypass)()
}

func (g *WakeGate) Listen(ctx context.Context) (*utterance.Utterance, error) {
	for {
		u, err := g.source.Listen(ctx)
		if err != nil {
			return nil, err
		}

		if g.bypassed() {
			return u, nil
		}

		result, err := g.detector.Detect(u.FrameData)
		if err != nil {
			g.logger.Warn().Err(err).Msg("wake word detection failed")
			continue
		}

		if !result.Matched {
			continue
		}

		g.logger.Debug().Str("hypothesis", result.Hypothesis).Msg("wake word heard")

		return g.source.Listen(ctx)
	}
}

func (g *WakeGate) Mute() {
	if m, ok := g.source.(Muter); ok {
		m.Mute()
	}
}

func (g *WakeGate) Unmute() {
	if m, ok := g.source.(Muter); ok {
		m.Unmute()
	}
}
