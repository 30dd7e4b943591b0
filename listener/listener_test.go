package listener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatchison/mycroft-core/api"
	"github.com/aatchison/mycroft-core/audio_source"
	"github.com/aatchison/mycroft-core/bus"
	"github.com/aatchison/mycroft-core/identity"
	"github.com/aatchison/mycroft-core/metrics"
	"github.com/aatchison/mycroft-core/speech_to_text"
	"github.com/aatchison/mycroft-core/utterance"
	"github.com/aatchison/mycroft-core/wake_word"
)

type step struct {
	u   *utterance.Utterance
	err error
}

// scriptedSource plays its steps in order, then reports ErrStopped and calls
// exhausted if set.
type scriptedSource struct {
	mu        sync.Mutex
	steps     []step
	muted     bool
	exhausted func()
}

func (s *scriptedSource) Listen(ctx context.Context) (*utterance.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.steps) == 0 {
		if s.exhausted != nil {
			s.exhausted()
			s.exhausted = nil
		}

		return nil, audio_source.ErrStopped
	}

	next := s.steps[0]
	s.steps = s.steps[1:]

	return next.u, next.err
}

func (s *scriptedSource) Mute()   { s.mu.Lock(); s.muted = true; s.mu.Unlock() }
func (s *scriptedSource) Unmute() { s.mu.Lock(); s.muted = false; s.mu.Unlock() }

// blockingSource never produces audio; it returns when its context ends.
type blockingSource struct{}

func (blockingSource) Listen(ctx context.Context) (*utterance.Utterance, error) {
	<-ctx.Done()
	return nil, audio_source.ErrStopped
}

// prefixDetector matches audio whose first byte is 'W'. With hold set it
// answers only once hold is closed.
type prefixDetector struct {
	phrase string
	calls  atomic.Int32
	hold   chan struct{}
}

func (d *prefixDetector) Detect(pcm []byte) (wake_word.Result, error) {
	if d.hold != nil {
		<-d.hold
	}

	d.calls.Add(1)

	return wake_word.Result{Matched: len(pcm) > 0 && pcm[0] == 'W', Hypothesis: d.phrase}, nil
}

func (d *prefixDetector) KeyPhrase() string {
	return d.phrase
}

type fakeSTT struct {
	mu    sync.Mutex
	calls []*utterance.Utterance
	fn    func(u *utterance.Utterance) (string, error)
}

func (f *fakeSTT) Transcribe(_ context.Context, u *utterance.Utterance) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, u)
	f.mu.Unlock()

	if f.fn == nil {
		return "hello", nil
	}

	return f.fn(u)
}

func (f *fakeSTT) Lang() string {
	return "en-us"
}

func (f *fakeSTT) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.Message
}

func (p *recordingPublisher) Publish(event string, data map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, bus.NewMessage(event, data))

	return nil
}

func (p *recordingPublisher) ofType(event string) []bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []bus.Message

	for _, m := range p.events {
		if m.Type == event {
			out = append(out, m)
		}
	}

	return out
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.events))
	for _, m := range p.events {
		out = append(out, m.Type)
	}

	return out
}

type fakeSessions struct{}

func (fakeSessions) Touch() string   { return "session-1" }
func (fakeSessions) Current() string { return "session-1" }

// speech returns an utterance of the given length at 16kHz 16-bit whose first
// byte is marker.
func speech(seconds float64, marker byte) *utterance.Utterance {
	data := make([]byte, int(seconds*16000*2))
	data[0] = marker

	return utterance.New(data, 16000, 2)
}

type harness struct {
	source    *scriptedSource
	standup   *prefixDetector
	stt       *fakeSTT
	publisher *recordingPublisher
	listener  Interface
}

func newHarness(t *testing.T, stt speech_to_text.Interface, steps ...step) *harness {
	t.Helper()

	h := &harness{
		source:    &scriptedSource{steps: steps},
		standup:   &prefixDetector{phrase: "wake up"},
		publisher: &recordingPublisher{},
	}

	if stt == nil {
		h.stt = &fakeSTT{}
		stt = h.stt
	}

	l, err := New(&Config{
		Source:          h.source,
		Detector:        &prefixDetector{phrase: "hey mycroft"},
		StandupDetector: h.standup,
		STT:             stt,
		Publisher:       h.publisher,
		Sessions:        fakeSessions{},
		Metrics:         metrics.New(),
		IOErrorPause:    time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	h.listener = l

	return h
}

func run(t *testing.T, l Interface) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, l.Run(ctx))
	require.NoError(t, ctx.Err(), "listener did not finish in time")
}

func TestNew_Validation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source:          &scriptedSource{},
			Detector:        &prefixDetector{},
			StandupDetector: &prefixDetector{},
			STT:             &fakeSTT{},
			Publisher:       &recordingPublisher{},
			Sessions:        fakeSessions{},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "source is required", mutate: func(c *Config) { c.Source = nil }},
		{name: "detector is required", mutate: func(c *Config) { c.Detector = nil }},
		{name: "standup detector is required", mutate: func(c *Config) { c.StandupDetector = nil }},
		{name: "stt is required", mutate: func(c *Config) { c.STT = nil }},
		{name: "publisher is required", mutate: func(c *Config) { c.Publisher = nil }},
		{name: "sessions are required", mutate: func(c *Config) { c.Sessions = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			_, err := New(cfg)
			assert.Error(t, err)
		})
	}

	t.Run("nil config is rejected", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("defaults are applied", func(t *testing.T) {
		l, err := New(valid())
		require.NoError(t, err)

		impl := l.(*listenerImpl)
		assert.Equal(t, DefaultMinAudioSeconds, impl.minAudioSeconds)
		assert.Equal(t, DefaultQueueSize, impl.queueSize)
	})
}

func TestListener_ShortUtteranceIsDiscarded(t *testing.T) {
	h := newHarness(t, nil, step{u: speech(0.3, 0)})

	run(t, h.listener)

	assert.Zero(t, h.stt.callCount())
	assert.Equal(t, []string{bus.EventWakeWord}, h.publisher.types())

	wake := h.publisher.ofType(bus.EventWakeWord)[0]
	assert.Equal(t, "hey mycroft", wake.Data["utterance"])
	assert.Equal(t, "session-1", wake.Data["session"])
}

func TestListener_TranscribesInCaptureOrder(t *testing.T) {
	stt := &fakeSTT{fn: func(u *utterance.Utterance) (string, error) {
		return string(rune('a' + u.FrameData[0])), nil
	}}

	h := newHarness(t, stt, step{u: speech(1, 0)}, step{u: speech(1, 1)}, step{u: speech(1, 2)})

	run(t, h.listener)

	var got []string
	for _, m := range h.publisher.ofType(bus.EventUtterance) {
		got = append(got, m.Data["utterances"].([]string)[0])
		assert.Equal(t, "en-us", m.Data["lang"])
		assert.Equal(t, "session-1", m.Data["session"])
	}

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestListener_SleepingOnlyListensForStandup(t *testing.T) {
	h := newHarness(t, nil, step{u: speech(2, 0)}, step{u: speech(2, 0)})

	h.listener.Sleep()
	run(t, h.listener)

	assert.Zero(t, h.stt.callCount())
	assert.Equal(t, int32(2), h.standup.calls.Load())
	assert.True(t, h.listener.IsSleeping())
	assert.Equal(t, []string{bus.EventSleep}, h.publisher.types())
}

// holdUntilCaptured keeps dispatch in the stand-up check until capture has
// queued every scripted utterance, so all of them are heard while asleep.
func holdUntilCaptured(h *harness) {
	release := make(chan struct{})

	h.standup.hold = release
	h.source.exhausted = func() { close(release) }
}

func TestListener_StandupWakesExactlyOnce(t *testing.T) {
	h := newHarness(t, nil, step{u: speech(2, 'W')}, step{u: speech(2, 'W')})
	holdUntilCaptured(h)

	h.listener.Sleep()
	run(t, h.listener)

	assert.False(t, h.listener.IsSleeping())
	assert.Equal(t, int32(2), h.standup.calls.Load())

	speaks := h.publisher.ofType(bus.EventSpeak)
	require.Len(t, speaks, 1)
	assert.Equal(t, "I'm awake.", speaks[0].Data["utterance"])

	assert.Zero(t, h.stt.callCount())
}

func TestListener_AudioHeardAsleepIsNotTranscribedAfterWaking(t *testing.T) {
	h := newHarness(t, nil, step{u: speech(2, 'W')}, step{u: speech(2, 'a')})
	holdUntilCaptured(h)

	h.listener.Sleep()
	run(t, h.listener)

	assert.False(t, h.listener.IsSleeping())
	assert.Zero(t, h.stt.callCount(), "the phrase never passed the wake word")
	assert.Empty(t, h.publisher.ofType(bus.EventWakeWord))
	assert.Len(t, h.publisher.ofType(bus.EventSpeak), 1)
}

func TestListener_AudioHeardAfterWakingIsTranscribed(t *testing.T) {
	h := newHarness(t, nil, step{u: speech(2, 'W')})

	h.listener.Sleep()
	run(t, h.listener)
	require.False(t, h.listener.IsSleeping())

	h.source.mu.Lock()
	h.source.steps = []step{{u: speech(2, 'a')}}
	h.source.mu.Unlock()

	run(t, h.listener)

	assert.Equal(t, 1, h.stt.callCount())
}

func TestListener_SleepAndAwakenPublishOnChange(t *testing.T) {
	h := newHarness(t, nil)

	h.listener.Sleep()
	h.listener.Sleep()
	assert.True(t, h.listener.IsSleeping())

	h.listener.Awaken()
	h.listener.Awaken()
	assert.False(t, h.listener.IsSleeping())

	assert.Equal(t, []string{bus.EventSleep, bus.EventAwoken}, h.publisher.types())
}

func TestListener_IOErrorDoesNotStopCapture(t *testing.T) {
	h := newHarness(t, nil,
		step{err: &audio_source.IOError{Err: errors.New("input overflowed")}},
		step{u: speech(1, 0)},
	)

	run(t, h.listener)

	ioErrors := h.publisher.ofType(bus.EventIOError)
	require.Len(t, ioErrors, 1)
	assert.Contains(t, ioErrors[0].Data["error"], "input overflowed")

	assert.Len(t, h.publisher.ofType(bus.EventUtterance), 1)
}

func TestListener_TranscriptionFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		speak string
	}{
		{name: "not connected is spoken", err: speech_to_text.ErrNotConnected, speak: "Mycroft seems not to be connected to the Internet"},
		{name: "not recognized is only logged", err: speech_to_text.ErrNotRecognized},
		{name: "anything else is apologised for", err: errors.New("decoder exploded"), speak: "Sorry, I didn't catch that"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stt := &fakeSTT{fn: func(*utterance.Utterance) (string, error) { return "", tt.err }}
			h := newHarness(t, stt, step{u: speech(1, 0)}, step{u: speech(1, 0)})

			run(t, h.listener)

			assert.Equal(t, 2, stt.callCount(), "the loop keeps going")
			assert.Empty(t, h.publisher.ofType(bus.EventUtterance))

			speaks := h.publisher.ofType(bus.EventSpeak)
			if tt.speak == "" {
				assert.Empty(t, speaks)
				return
			}

			require.Len(t, speaks, 2)
			assert.Equal(t, tt.speak, speaks[0].Data["utterance"])
		})
	}
}

func TestListener_PanicCostsOneUtterance(t *testing.T) {
	var calls atomic.Int32

	stt := &fakeSTT{fn: func(*utterance.Utterance) (string, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}

		return "still here", nil
	}}

	h := newHarness(t, stt, step{u: speech(1, 0)}, step{u: speech(1, 0)})

	run(t, h.listener)

	utterances := h.publisher.ofType(bus.EventUtterance)
	require.Len(t, utterances, 1)
	assert.Equal(t, []string{"still here"}, utterances[0].Data["utterances"])
}

func TestListener_StopEndsBothLoops(t *testing.T) {
	l, err := New(&Config{
		Source:          blockingSource{},
		Detector:        &prefixDetector{},
		StandupDetector: &prefixDetector{},
		STT:             &fakeSTT{},
		Publisher:       &recordingPublisher{},
		Sessions:        fakeSessions{},
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background()))
	assert.True(t, l.IsRunning())
	assert.Error(t, l.Start(context.Background()), "already running")

	l.Stop()

	done := make(chan error, 1)
	go func() { done <- l.Wait() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	assert.False(t, l.IsRunning())
}

func TestListener_RestartRightAfterStop(t *testing.T) {
	l, err := New(&Config{
		Source:          blockingSource{},
		Detector:        &prefixDetector{},
		StandupDetector: &prefixDetector{},
		STT:             &fakeSTT{},
		Publisher:       &recordingPublisher{},
		Sessions:        fakeSessions{},
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 50; i++ {
		require.NoError(t, l.Start(ctx))
		l.Stop()
		require.NoError(t, l.Start(ctx), "restart %d", i)

		time.Sleep(time.Millisecond)
		require.True(t, l.IsRunning(), "restart %d: the previous run must not switch the new one off", i)

		l.Stop()
		require.NoError(t, l.Wait())
		assert.False(t, l.IsRunning())
	}
}

func TestListener_RestartedListenerProcessesAudio(t *testing.T) {
	h := newHarness(t, nil)

	run(t, h.listener)

	h.source.mu.Lock()
	h.source.steps = []step{{u: speech(1, 'a')}}
	h.source.mu.Unlock()

	run(t, h.listener)

	assert.Equal(t, 1, h.stt.callCount())
}

func TestListener_MuteReachesSource(t *testing.T) {
	h := newHarness(t, nil)

	h.listener.Mute()
	assert.True(t, h.source.muted)

	h.listener.Unmute()
	assert.False(t, h.source.muted)
}

func TestListener_RecordsUtterances(t *testing.T) {
	var saved atomic.Int32

	l, err := New(&Config{
		Source:          &scriptedSource{steps: []step{{u: speech(1, 0)}}},
		Detector:        &prefixDetector{},
		StandupDetector: &prefixDetector{},
		STT:             &fakeSTT{},
		Publisher:       &recordingPublisher{},
		Sessions:        fakeSessions{},
		Recorder:        recorderFunc(func(*utterance.Utterance) (string, error) { saved.Add(1); return "x.wav", nil }),
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	run(t, l)

	assert.Equal(t, int32(1), saved.Load())
}

type recorderFunc func(u *utterance.Utterance) (string, error)

func (f recorderFunc) Save(u *utterance.Utterance) (string, error) {
	return f(u)
}

func remoteSTT(t *testing.T, serverURL string) speech_to_text.Interface {
	t.Helper()

	backend, err := identity.NewFileBackend(afero.NewMemMapFs(), "/identity.json")
	require.NoError(t, err)

	store, err := identity.Open(context.Background(), backend)
	require.NoError(t, err)

	require.NoError(t, store.Replace(context.Background(), identity.Identity{
		UUID:         "device",
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	client, err := api.NewClient(&api.Config{URL: serverURL, Identity: store, Logger: zerolog.Nop()})
	require.NoError(t, err)

	sttAPI, err := api.NewSTTAPI(client)
	require.NoError(t, err)

	stt, err := speech_to_text.New(&speech_to_text.Config{Recognizer: sttAPI, Lang: "en-us"})
	require.NoError(t, err)

	return stt
}

func TestListener_TranscribesAfterTokenRefresh(t *testing.T) {
	var sttCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/token" {
			_, _ = w.Write([]byte(`{"uuid":"device","accessToken":"fresh","refreshToken":"refresh-2","expiration":3600}`))
			return
		}

		if sttCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_, _ = w.Write([]byte(`{"text":"turn on the lights"}`))
	}))
	defer server.Close()

	h := newHarness(t, remoteSTT(t, server.URL), step{u: speech(2, 0)})

	run(t, h.listener)

	utterances := h.publisher.ofType(bus.EventUtterance)
	require.Len(t, utterances, 1)
	assert.Equal(t, []string{"turn on the lights"}, utterances[0].Data["utterances"])
	assert.Equal(t, int32(2), sttCalls.Load())
}

func TestListener_ConnectionErrorIsSpoken(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()

	h := newHarness(t, remoteSTT(t, serverURL), step{u: speech(2, 0)})

	run(t, h.listener)

	assert.Empty(t, h.publisher.ofType(bus.EventUtterance))

	speaks := h.publisher.ofType(bus.EventSpeak)
	require.Len(t, speaks, 1)
	assert.Equal(t, "Mycroft seems not to be connected to the Internet", speaks[0].Data["utterance"])
}
