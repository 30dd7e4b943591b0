// Package listener runs the capture and dispatch loops: capture pulls utterances
// from the audio source into a bounded queue, dispatch drains it in order and
// either listens for the stand-up phrase or sends speech off for transcription.
package listener

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aatchison/mycroft-core/audio_source"
	"github.com/aatchison/mycroft-core/bus"
	"github.com/aatchison/mycroft-core/metrics"
	"github.com/aatchison/mycroft-core/speech_to_text"
	"github.com/aatchison/mycroft-core/utterance"
	"github.com/aatchison/mycroft-core/wake_word"
)

const (
	DefaultMinAudioSeconds = 0.5
	DefaultQueueSize       = 32
	DefaultIOErrorPause    = 100 * time.Millisecond
)

const (
	speakAwake        = "I'm awake."
	speakNotConnected = "Mycroft seems not to be connected to the Internet"
	speakNotCaught    = "Sorry, I didn't catch that"
)

type SessionManager interface {
	Touch() string
	Current() string
}

type Recorder interface {
	Save(u *utterance.Utterance) (string, error)
}

type Config struct {
	Source audio_source.Interface

	// Detector is the primary wake word detector. The listener only reports its
	// key phrase; gating on it happens in the source.
	Detector        wake_word.Interface
	StandupDetector wake_word.Interface
	STT             speech_to_text.Interface
	Publisher       bus.Publisher
	Sessions        SessionManager

	// Metrics and Recorder are optional.
	Metrics  *metrics.Metrics
	Recorder Recorder

	MinAudioSeconds float64
	QueueSize       int
	IOErrorPause    time.Duration
	Logger          zerolog.Logger
}

type listenerImpl struct {
	source          audio_source.Interface
	detector        wake_word.Interface
	standupDetector wake_word.Interface
	stt             speech_to_text.Interface
	publisher       bus.Publisher
	sessions        SessionManager
	metrics         *metrics.Metrics
	recorder        Recorder

	minAudioSeconds float64
	queueSize       int
	ioErrorPause    time.Duration
	logger          zerolog.Logger

	running  atomic.Bool
	sleeping atomic.Bool

	mu      sync.Mutex
	current *generation
}

// generation is the state of one Start..exit cycle. A stopped generation may
// still be winding down when the next one is started.
type generation struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Source == nil {
		return nil, fmt.Errorf("source is nil")
	}

	if cfg.Detector == nil {
		return nil, fmt.Errorf("detector is nil")
	}

	if cfg.StandupDetector == nil {
		return nil, fmt.Errorf("standup detector is nil")
	}

	if cfg.STT == nil {
		return nil, fmt.Errorf("stt is nil")
	}

	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is nil")
	}

	if cfg.Sessions == nil {
		return nil, fmt.Errorf("sessions is nil")
	}

	minAudioSeconds := cfg.MinAudioSeconds
	if minAudioSeconds <= 0 {
		minAudioSeconds = DefaultMinAudioSeconds
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ioErrorPause := cfg.IOErrorPause
	if ioErrorPause <= 0 {
		ioErrorPause = DefaultIOErrorPause
	}

	l := &listenerImpl{
		source:          cfg.Source,
		detector:        cfg.Detector,
		standupDetector: cfg.StandupDetector,
		stt:             cfg.STT,
		publisher:       cfg.Publisher,
		sessions:        cfg.Sessions,
		metrics:         cfg.Metrics,
		recorder:        cfg.Recorder,
		minAudioSeconds: minAudioSeconds,
		queueSize:       queueSize,
		ioErrorPause:    ioErrorPause,
		logger:          cfg.Logger.With().Str("component", "listener").Logger(),
	}

	// a gated source must let everything through while asleep so the stand-up
	// phrase can be heard
	if gate, ok := cfg.Source.(interface{ SetBypass(func() bool) }); ok {
		gate.SetBypass(l.IsSleeping)
	}

	return l, nil
}

func (l *listenerImpl) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener already running")
	}

	l.mu.Lock()
	prev := l.current
	l.mu.Unlock()

	// the previous run must release the source before a new one reads it
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("listener already running")
	}

	ctx, cancel := context.WithCancel(ctx)

	gen := &generation{cancel: cancel, done: make(chan struct{})}
	queue := make(chan captured, l.queueSize)

	l.mu.Lock()
	l.current = gen
	l.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return l.capture(gctx, queue)
	})

	g.Go(func() error {
		return l.dispatch(gctx, queue)
	})

	go func() {
		gen.err = g.Wait()

		cancel()

		l.mu.Lock()
		if l.current == gen {
			l.running.Store(false)
		}
		l.mu.Unlock()

		close(gen.done)

		l.logger.Info().Msg("listener stopped")
	}()

	l.logger.Info().Int("queue_size", l.queueSize).Msg("listener started")

	return nil
}

func (l *listenerImpl) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.running.Store(false)

	if l.current != nil {
		l.current.cancel()
	}
}

func (l *listenerImpl) Wait() error {
	l.mu.Lock()
	gen := l.current
	l.mu.Unlock()

	if gen == nil {
		return nil
	}

	<-gen.done

	return gen.err
}

func (l *listenerImpl) Run(ctx context.Context) error {
	err := l.Start(ctx)
	if err != nil {
		return err
	}

	return l.Wait()
}

func (l *listenerImpl) IsRunning() bool {
	return l.running.Load()
}

func (l *listenerImpl) IsSleeping() bool {
	return l.sleeping.Load()
}

func (l *listenerImpl) Sleep() {
	if l.sleeping.CompareAndSwap(false, true) {
		l.logger.Info().Msg("going to sleep")
		l.publish(bus.EventSleep, nil)
	}
}

func (l *listenerImpl) Awaken() {
	if l.sleeping.CompareAndSwap(true, false) {
		l.logger.Info().Msg("awake")
		l.publish(bus.EventAwoken, nil)
	}
}

func (l *listenerImpl) Mute() {
	if m, ok := l.source.(audio_source.Muter); ok {
		m.Mute()
	}
}

func (l *listenerImpl) Unmute() {
	if m, ok := l.source.(audio_source.Muter); ok {
		m.Unmute()
	}
}

// publish never fails the caller: the bus is fire-and-forget.
func (l *listenerImpl) publish(event string, data map[string]any) {
	err := l.publisher.Publish(event, data)
	if err != nil {
		l.logger.Error().Err(err).Str("event", event).Msg("failed to publish event")
	}
}

func (l *listenerImpl) speak(text string) {
	l.publish(bus.EventSpeak, map[string]any{
		"utterance": text,
		"session":   l.sessions.Current(),
	})
}
