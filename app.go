package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/aatchison/mycroft-core/api"
	"github.com/aatchison/mycroft-core/audio_source"
	"github.com/aatchison/mycroft-core/bus"
	"github.com/aatchison/mycroft-core/config"
	"github.com/aatchison/mycroft-core/identity"
	"github.com/aatchison/mycroft-core/listener"
	"github.com/aatchison/mycroft-core/metrics"
	"github.com/aatchison/mycroft-core/recorder"
	"github.com/aatchison/mycroft-core/session"
	"github.com/aatchison/mycroft-core/speech_to_text"
	"github.com/aatchison/mycroft-core/wake_word"
)

const version = "0.9.0"

// app holds the wired components and everything that has to be closed.
type app struct {
	listener listener.Interface
	metrics  *metrics.Metrics
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("error during shutdown")
		}
	}
}

func build(ctx context.Context, cfg *config.Config, fs afero.Fs, wavPaths []string) (_ *app, err error) {
	a := &app{}

	// release whatever was opened if a later step fails
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger := log.Logger

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	store, closeStore, err := openIdentity(ctx, cfg, fs)
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, closeStore)

	client, err := newAPIClient(cfg, store)
	if err != nil {
		return nil, err
	}

	sttAPI, err := api.NewSTTAPI(client)
	if err != nil {
		return nil, err
	}

	stt, err := speech_to_text.New(&speech_to_text.Config{
		Recognizer:  sttAPI,
		Lang:        cfg.Lang,
		Limit:       cfg.STT.Limit,
		ContentType: cfg.STT.ContentType,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	publisher, closePublisher, err := newPublisher(cfg.Bus)
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, closePublisher)

	engine, err := newWakeEngine(cfg.Whisper.Model, len(wavPaths) > 0)
	if err != nil {
		return nil, err
	}

	if c, ok := engine.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	detector, err := wake_word.New(&wake_word.Config{
		KeyPhrase:  cfg.Listener.WakeWord,
		Phonemes:   cfg.Listener.Phonemes,
		Threshold:  cfg.Listener.Threshold,
		SampleRate: cfg.Listener.SampleRate,
		Engine:     engine,
		OnTiming:   a.metrics.ObserveLocalSTT,
	})
	if err != nil {
		return nil, err
	}

	standup, err := wake_word.New(&wake_word.Config{
		KeyPhrase:  cfg.Listener.StandupWord,
		Phonemes:   cfg.Listener.StandupPhonemes,
		Threshold:  cfg.Listener.StandupThreshold,
		SampleRate: cfg.Listener.SampleRate,
		Engine:     engine,
		OnTiming:   a.metrics.ObserveLocalSTT,
	})
	if err != nil {
		return nil, err
	}

	source, err := newSource(cfg, fs, wavPaths, detector, a)
	if err != nil {
		return nil, err
	}

	var rec listener.Recorder

	if cfg.Listener.RecordUtterances {
		r, err := recorder.New(&recorder.Config{FileSys: fs, Dir: cfg.Listener.RecordDir})
		if err != nil {
			return nil, err
		}

		rec = r
	}

	a.listener, err = listener.New(&listener.Config{
		Source:          source,
		Detector:        detector,
		StandupDetector: standup,
		STT:             stt,
		Publisher:       publisher,
		Sessions:        session.New(cfg.Session.TTL),
		Metrics:         a.metrics,
		Recorder:        rec,
		MinAudioSeconds: cfg.Listener.MinAudioSeconds,
		QueueSize:       cfg.Listener.QueueSize,
		IOErrorPause:    cfg.Listener.IOErrorPause,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

func openIdentity(ctx context.Context, cfg *config.Config, fs afero.Fs) (*identity.Store, func() error, error) {
	var (
		backend identity.Backend
		closeFn = func() error { return nil }
	)

	switch cfg.Identity.Backend {
	case "redis":
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Identity.RedisAddr,
			Password: cfg.Identity.RedisPassword,
			DB:       cfg.Identity.RedisDB,
		})

		b, err := identity.NewRedisBackend(rc, cfg.Identity.RedisKey)
		if err != nil {
			_ = rc.Close()
			return nil, nil, err
		}

		backend = b
		closeFn = rc.Close
	default:
		path, err := config.ExpandHome(cfg.Identity.Path)
		if err != nil {
			return nil, nil, err
		}

		b, err := identity.NewFileBackend(fs, path)
		if err != nil {
			return nil, nil, err
		}

		backend = b
	}

	store, err := identity.Open(ctx, backend)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}

	return store, closeFn, nil
}

func newAPIClient(cfg *config.Config, store *identity.Store) (*api.Client, error) {
	return api.NewClient(&api.Config{
		URL:            cfg.Server.URL,
		Version:        cfg.Server.Version,
		ConnectTimeout: cfg.Server.ConnectTimeout,
		ReadTimeout:    cfg.Server.ReadTimeout,
		Identity:       store,
		Logger:         log.Logger,
	})
}

func newPublisher(cfg config.BusConfig) (bus.Publisher, func() error, error) {
	switch cfg.Backend {
	case "websocket":
		p, err := bus.NewWebsocketPublisher(cfg.URL, log.Logger)
		if err != nil {
			return nil, nil, err
		}

		return p, p.Close, nil
	case "nats":
		p, conn, err := bus.ConnectNats(cfg.NatsURLs, cfg.SubjectPrefix)
		if err != nil {
			return nil, nil, err
		}

		return p, conn.Drain, nil
	case "local", "":
		b := bus.NewLocal(0)

		_, err := b.Subscribe("", func(m bus.Message) {
			log.Debug().Str("event", m.Type).Interface("data", m.Data).Msg("bus")
		})
		if err != nil {
			_ = b.Close()
			return nil, nil, err
		}

		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
	}
}

// newWakeEngine loads whisper when a model is configured. Replaying files does
// not need wake word detection, so the silent engine is enough there.
func newWakeEngine(model string, replay bool) (wake_word.Engine, error) {
	if model != "" {
		return wake_word.NewWhisperEngine(model)
	}

	if replay {
		return wake_word.SilentEngine{}, nil
	}

	return nil, fmt.Errorf("a whisper model is required for wake word detection, set whisper.model or --whisper-model")
}

func newSource(cfg *config.Config, fs afero.Fs, wavPaths []string, detector wake_word.Interface, a *app) (audio_source.Interface, error) {
	if len(wavPaths) > 0 {
		log.Info().Str("files", strings.Join(wavPaths, ",")).Msg("replaying wav files")

		return audio_source.NewFileSource(&audio_source.FileConfig{FileSys: fs, Paths: wavPaths})
	}

	mic, err := audio_source.NewMicrophone(&audio_source.MicrophoneConfig{
		DeviceIndex:   cfg.Listener.DeviceIndex,
		SampleRate:    cfg.Listener.SampleRate,
		QuietTime:     cfg.Listener.QuietTime,
		MaxPhraseTime: cfg.Listener.MaxPhraseTime,
		Logger:        log.Logger,
	})
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, mic.Close)

	return audio_source.NewWakeGate(&audio_source.GateConfig{
		Source:   mic,
		Detector: detector,
		Logger:   log.Logger,
	})
}
