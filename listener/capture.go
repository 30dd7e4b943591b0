package listener

import (
	"context"
	"errors"
	"time"

	"github.com/aatchison/mycroft-core/audio_source"
	"github.com/aatchison/mycroft-core/bus"
	"github.com/aatchison/mycroft-core/utterance"
)

type captured struct {
	u      *utterance.Utterance
	asleep bool
}

// capture is the only sender on queue and closes it on exit, so dispatch drains
// what was captured before a source runs dry.
func (l *listenerImpl) capture(ctx context.Context, queue chan<- captured) error {
	defer close(queue)

	for l.running.Load() {
		asleep := l.sleeping.Load()

		u, err := l.source.Listen(ctx)
		if errors.Is(err, audio_source.ErrStopped) || ctx.Err() != nil {
			return nil
		}

		if err != nil {
			l.logger.Error().Err(err).Msg("audio source failed")
			l.metrics.AudioIOError()
			l.publish(bus.EventIOError, map[string]any{"error": err.Error()})

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.ioErrorPause):
			}

			continue
		}

		if l.recorder != nil {
			name, err := l.recorder.Save(u)
			if err != nil {
				l.logger.Warn().Err(err).Msg("failed to record utterance")
			} else {
				l.logger.Debug().Str("file", name).Msg("utterance recorded")
			}
		}

		// a gated source lets everything through while asleep, so audio that
		// overlapped sleep has not passed the wake word
		item := captured{u: u, asleep: asleep || l.sleeping.Load()}

		// blocking put: a full queue slows capture down rather than dropping audio
		select {
		case queue <- item:
			l.metrics.SetQueueDepth(len(queue))
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}
