package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/sjawhar/doobs/internal/audio"
	"github.com/sjawhar/doobs/internal/recognition"
)

var errConnect = errors.New("deepgram connect failed")

// session is one recognition session. Each Start begins a run that lasts
// until Stop, an error, silence or the server closing the socket; every run
// that started ends with exactly one OnEnd.
type session struct {
	rec      *Recognizer
	settings recognition.Settings
	handler  recognition.Handler
	events   dispatcher

	mu  sync.Mutex
	run *run
	gen uint64
}

type run struct {
	gen      uint64
	client   liveClient
	mic      microphone
	cancel   context.CancelFunc
	detector *silenceDetector
	started  bool
	results  []recognition.Result
}

func newSession(rec *Recognizer, settings recognition.Settings, handler recognition.Handler) *session {
	return &session{rec: rec, settings: settings, handler: handler}
}

func (s *session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		return recognition.ErrAlreadyStarted
	}
	s.gen++
	current := &run{gen: s.gen}
	s.run = current
	s.mu.Unlock()

	logger := s.rec.logger.With(slog.Uint64("run", current.gen))

	mic, err := s.rec.openMic(s.rec.cfg.SampleRates)
	if err != nil {
		logger.Warn("microphone unavailable", slog.String("error", err.Error()))
		s.abandon(current, recognition.ErrorEvent{Code: recognition.CodeNoMicrophone, Message: err.Error()})
		return nil
	}

	// The run outlives the caller's request but keeps its values.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	options := s.rec.transcriptionOptions(s.settings, mic.SampleRate())
	dg, err := s.rec.dial(runCtx, s.rec.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, options, &callbacks{s: s, gen: current.gen})
	if err != nil {
		cancel()
		_ = mic.Close()
		s.discard(current)
		return fmt.Errorf("create deepgram client: %w", err)
	}
	if !dg.Connect() {
		cancel()
		_ = mic.Close()
		s.discard(current)
		return errConnect
	}
	if err := mic.Start(); err != nil {
		logger.Warn("microphone start failed", slog.String("error", err.Error()))
		cancel()
		dg.Stop()
		_ = mic.Close()
		s.abandon(current, recognition.ErrorEvent{Code: recognition.CodeNoMicrophone, Message: err.Error()})
		return nil
	}

	s.mu.Lock()
	if s.run != current {
		s.mu.Unlock()
		cancel()
		dg.Stop()
		_ = mic.Stop()
		_ = mic.Close()
		return nil
	}
	current.client = dg
	current.mic = mic
	current.cancel = cancel
	current.detector = newSilenceDetector(s.rec.cfg.NoSpeechTimeout, func() {
		s.finish(current.gen, &recognition.ErrorEvent{Code: recognition.CodeNoSpeech}, true)
	})
	current.detector.Arm()
	s.markStartedLocked(current)
	s.mu.Unlock()

	logger.Info("recognition started", slog.Int("sample_rate", mic.SampleRate()))

	go func() {
		err := audio.StreamWithRetry(runCtx, mic, dg, s.rec.wait, logger)
		if err != nil && runCtx.Err() == nil {
			logger.Error("mic stream error", slog.String("error", err.Error()))
			s.finish(current.gen, &recognition.ErrorEvent{Code: recognition.CodeNoMicrophone, Message: err.Error()}, true)
		}
	}()
	return nil
}

// Stop ends the current run, if any, and waits for its resources to be
// released.
func (s *session) Stop() error {
	s.mu.Lock()
	current := s.run
	s.mu.Unlock()
	if current == nil {
		return nil
	}
	s.finish(current.gen, nil, false)
	return nil
}

// discard drops a run that never got going; no events were delivered for it.
func (s *session) discard(current *run) {
	s.mu.Lock()
	if s.run == current {
		s.run = nil
	}
	s.mu.Unlock()
}

// abandon ends a run that failed before streaming, reporting the cause.
func (s *session) abandon(current *run, event recognition.ErrorEvent) {
	s.mu.Lock()
	if s.run != current {
		s.mu.Unlock()
		return
	}
	s.run = nil
	s.mu.Unlock()

	s.events.post(func() { s.handler.OnError(event) })
	s.events.post(s.handler.OnEnd)
}

// finish ends the run with the given generation. Callers on Deepgram's own
// goroutines release resources asynchronously so the client can unwind.
func (s *session) finish(gen uint64, cause *recognition.ErrorEvent, async bool) {
	s.mu.Lock()
	current := s.run
	if current == nil || current.gen != gen {
		s.mu.Unlock()
		return
	}
	s.run = nil
	s.mu.Unlock()

	if cause != nil {
		event := *cause
		s.events.post(func() { s.handler.OnError(event) })
	}
	s.events.post(s.handler.OnEnd)

	if async {
		go current.release()
		return
	}
	current.release()
}

func (r *run) release() {
	if r.detector != nil {
		r.detector.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.mic != nil {
		_ = r.mic.Stop()
	}
	if r.client != nil {
		r.client.Stop()
	}
	if r.mic != nil {
		_ = r.mic.Close()
	}
}

func (s *session) markStartedLocked(current *run) {
	if current.started {
		return
	}
	current.started = true
	s.events.post(s.handler.OnStart)
}

// activeLocked returns the run for gen when it is still current.
func (s *session) activeLocked(gen uint64) *run {
	if s.run == nil || s.run.gen != gen {
		return nil
	}
	return s.run
}

func (s *session) message(gen uint64, mr *api.MessageResponse) {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return
	}

	s.mu.Lock()
	current := s.activeLocked(gen)
	if current == nil {
		s.mu.Unlock()
		return
	}

	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	open := len(current.results) > 0 && !current.results[len(current.results)-1].IsFinal

	var event recognition.ResultEvent
	switch {
	case transcript == "" && !open:
		s.mu.Unlock()
		return
	case transcript == "":
		// Silence closed the open utterance; drop its preview.
		current.results = current.results[:len(current.results)-1]
		event = recognition.ResultEvent{ResultIndex: len(current.results), Results: cloneResults(current.results)}
	default:
		if current.detector != nil {
			current.detector.Arm()
		}
		result := recognition.Result{IsFinal: mr.IsFinal, Alternatives: s.alternatives(mr)}
		index := len(current.results)
		if open {
			index--
			current.results[index] = result
		} else {
			current.results = append(current.results, result)
		}
		event = recognition.ResultEvent{ResultIndex: index, Results: cloneResults(current.results)}
	}
	single := mr.IsFinal && transcript != "" && !s.settings.Continuous
	s.mu.Unlock()

	s.events.post(func() { s.handler.OnResult(event) })
	if single {
		s.finish(gen, nil, true)
	}
}

func (s *session) alternatives(mr *api.MessageResponse) []recognition.Alternative {
	limit := s.settings.MaxAlternatives
	if limit < 1 {
		limit = 1
	}
	out := make([]recognition.Alternative, 0, limit)
	for _, alt := range mr.Channel.Alternatives {
		if len(out) == limit {
			break
		}
		out = append(out, recognition.Alternative{
			Transcript: strings.TrimSpace(alt.Transcript),
			Confidence: alt.Confidence,
		})
	}
	return out
}

func (s *session) speech(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.activeLocked(gen); current != nil && current.detector != nil {
		current.detector.Arm()
	}
}

func (s *session) opened(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.activeLocked(gen); current != nil {
		s.markStartedLocked(current)
	}
}

func cloneResults(results []recognition.Result) []recognition.Result {
	out := make([]recognition.Result, len(results))
	copy(out, results)
	return out
}

// callbacks receives Deepgram websocket events for a single run.
type callbacks struct {
	s   *session
	gen uint64
}

func (c *callbacks) Open(*api.OpenResponse) error {
	c.s.rec.logger.Debug("connected to deepgram")
	c.s.opened(c.gen)
	return nil
}

func (c *callbacks) Message(mr *api.MessageResponse) error {
	c.s.message(c.gen, mr)
	return nil
}

func (c *callbacks) Metadata(*api.MetadataResponse) error { return nil }

func (c *callbacks) SpeechStarted(*api.SpeechStartedResponse) error {
	c.s.speech(c.gen)
	return nil
}

func (c *callbacks) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c *callbacks) Close(*api.CloseResponse) error {
	c.s.rec.logger.Debug("disconnected from deepgram")
	c.s.finish(c.gen, nil, true)
	return nil
}

func (c *callbacks) Error(er *api.ErrorResponse) error {
	code, detail := classifyError(er)
	event := recognition.ErrorEvent{Code: code, Message: detail}
	c.s.rec.logger.Warn("deepgram error",
		slog.String("code", string(event.Code)),
		slog.String("detail", event.Message),
	)
	c.s.finish(c.gen, &event, true)
	return nil
}

func (c *callbacks) UnhandledEvent([]byte) error { return nil }
