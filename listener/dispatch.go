package listener

import (
	"context"
	"errors"

	"github.com/aatchison/mycroft-core/bus"
	"github.com/aatchison/mycroft-core/speech_to_text"
	"github.com/aatchison/mycroft-core/utterance"
)

func (l *listenerImpl) dispatch(ctx context.Context, queue <-chan captured) error {
	for {
		if !l.running.Load() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-queue:
			if !ok {
				return nil
			}

			l.metrics.SetQueueDepth(len(queue))

			// transcription already under way finishes even if we are stopped meanwhile
			l.handle(context.WithoutCancel(ctx), item)
		}
	}
}

// handle processes one utterance. A panic here costs that utterance only.
// Audio heard while asleep is only ever checked for the stand-up phrase, even
// when an earlier utterance has woken the listener since.
func (l *listenerImpl) handle(ctx context.Context, item captured) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("recovered while processing utterance")
		}
	}()

	if item.asleep || l.sleeping.Load() {
		l.wakeUp(item.u)
		return
	}

	l.process(ctx, item.u)
}

func (l *listenerImpl) wakeUp(u *utterance.Utterance) {
	result, err := l.standupDetector.Detect(u.FrameData)
	if err != nil {
		l.logger.Warn().Err(err).Msg("stand-up detection failed")
		return
	}

	if !result.Matched {
		return
	}

	// only the caller that flips the flag acknowledges
	if !l.sleeping.CompareAndSwap(true, false) {
		return
	}

	l.sessions.Touch()
	l.logger.Info().Str("hypothesis", result.Hypothesis).Msg("woken by stand-up phrase")
	l.speak(speakAwake)
	l.metrics.Wakeup()
}

func (l *listenerImpl) process(ctx context.Context, u *utterance.Utterance) {
	l.sessions.Touch()

	l.publish(bus.EventWakeWord, map[string]any{
		"utterance": l.detector.KeyPhrase(),
		"session":   l.sessions.Current(),
	})

	if u.Duration() < l.minAudioSeconds {
		l.logger.Warn().Float64("seconds", u.Duration()).Msg("audio too short to be processed")
		return
	}

	l.transcribe(ctx, u)
}

func (l *listenerImpl) transcribe(ctx context.Context, u *utterance.Utterance) {
	text, err := l.stt.Transcribe(ctx, u)

	switch {
	case err == nil:
	case errors.Is(err, speech_to_text.ErrNotConnected):
		l.logger.Error().Err(err).Msg("connection error")
		l.metrics.TranscriptionFailed("not_connected")
		l.speak(speakNotConnected)

		return
	case errors.Is(err, speech_to_text.ErrNotRecognized):
		l.logger.Error().Err(err).Msg("could not request speech recognition")
		l.metrics.TranscriptionFailed("not_recognized")

		return
	default:
		l.logger.Error().Err(err).Msg("speech recognition could not understand audio")
		l.metrics.TranscriptionFailed("unexpected")
		l.speak(speakNotCaught)

		return
	}

	if text == "" {
		return
	}

	l.logger.Debug().Str("text", text).Msg("stt")

	l.publish(bus.EventUtterance, map[string]any{
		"utterances": []string{text},
		"lang":       l.stt.Lang(),
		"session":    l.sessions.Current(),
	})

	l.metrics.Utterance()
}
