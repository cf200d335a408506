package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config controls how the controller configures and recovers its session.
type Config struct {
	Settings Settings
	Policy   RestartPolicy
	Logger   *slog.Logger
}

type scheduleFunc func(delay time.Duration, fn func()) (cancel func() bool)

func afterFunc(delay time.Duration, fn func()) func() bool {
	return time.AfterFunc(delay, fn).Stop
}

// Controller owns one recognition session and keeps the transcript, the
// listening flag and the error state consistent with the session's events.
type Controller struct {
	logger   *slog.Logger
	sink     EventSink
	policy   RestartPolicy
	now      func() time.Time
	schedule scheduleFunc

	ctx    context.Context
	cancel context.CancelFunc

	// cmdMu orders Start and Stop calls on the session. It is never
	// acquired while mu is held.
	cmdMu sync.Mutex

	mu          sync.Mutex
	session     Session
	unsupported bool
	closed      bool
	listening   bool
	state       State
	kind        ErrorKind
	message     string
	prompt      bool
	buffer      *TranscriptBuffer
	revision    uint64

	restarts      *restartBackoff
	restartCancel func() bool
	restartSeq    uint64
	runStartedAt  time.Time
}

// NewController detects the capability and opens a session with it. A nil
// recognizer, or one that fails to open, leaves the controller permanently
// unsupported.
func NewController(recognizer Recognizer, sink EventSink, cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = nopSink{}
	}
	settings := cfg.Settings
	if settings == (Settings{}) {
		settings = DefaultSettings("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		logger:   logger.With(slog.String("component", "recognition")),
		sink:     sink,
		policy:   cfg.Policy,
		now:      time.Now,
		schedule: afterFunc,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		buffer:   NewTranscriptBuffer(),
		restarts: newRestartBackoff(cfg.Policy),
	}

	if recognizer == nil {
		c.markUnsupported(ErrUnsupported)
		return c
	}

	session, err := recognizer.Open(settings, controllerEvents{c: c})
	if err != nil {
		c.markUnsupported(err)
		return c
	}
	c.session = session
	c.logger.Info("speech recognition ready",
		slog.String("locale", settings.Locale),
		slog.Bool("continuous", settings.Continuous),
		slog.Bool("interim_results", settings.InterimResults),
	)
	return c
}

func (c *Controller) markUnsupported(err error) {
	if !errors.Is(err, ErrUnsupported) {
		c.logger.Warn("speech recognition unavailable", slog.String("error", err.Error()))
	} else {
		c.logger.Info("speech recognition not supported", slog.String("reason", err.Error()))
	}
	c.unsupported = true
	c.state = StateUnsupported
	c.kind = KindUnsupported
	c.message = MessageUnsupported
}

// Start begins listening. It is a no-op when recognition is unsupported or
// already listening. A session that reports it is already running counts as
// started; any other failure is shown as an error and returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.unsupported || c.listening {
		c.mu.Unlock()
		return nil
	}
	c.cancelRestartLocked()
	c.restarts.Reset()
	c.listening = true
	c.setStateLocked(StateListening, KindNone, "")
	seq := c.restartSeq
	snapshot := c.changedLocked()
	c.mu.Unlock()
	c.flush(snapshot)

	issued, err := c.startSession(ctx, seq)
	if !issued || err == nil {
		return nil
	}
	if errors.Is(err, ErrAlreadyStarted) {
		c.logger.Debug("recognition already started")
		return nil
	}

	c.logger.Error("failed to start recognition", slog.String("error", err.Error()))

	c.mu.Lock()
	if !c.listening || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("start recognition: %w", err)
	}
	c.listening = false
	c.setStateLocked(StateError, KindSession, MessageStartFailed)
	snapshot = c.changedLocked()
	c.mu.Unlock()
	c.flush(snapshot, c.lifecycle(LifecycleStartFailed, "", err.Error()))
	return fmt.Errorf("start recognition: %w", err)
}

// Stop ends listening. When not listening it does nothing and issues no
// session command. A pending restart is always cancelled first.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.closed || c.unsupported || !c.listening {
		c.mu.Unlock()
		return nil
	}
	c.cancelRestartLocked()
	c.listening = false
	c.buffer.ClearInterim()
	c.setStateLocked(StateIdle, KindNone, "")
	snapshot := c.changedLocked()
	c.mu.Unlock()
	c.flush(snapshot)

	if err := c.stopSession(); err != nil {
		c.logger.Warn("failed to stop recognition", slog.String("error", err.Error()))
		return fmt.Errorf("stop recognition: %w", err)
	}
	return nil
}

// Clear empties the transcript and dismisses any error message. The
// listening flag is left alone.
func (c *Controller) Clear() {
	c.mu.Lock()
	if c.closed || c.unsupported {
		c.mu.Unlock()
		return
	}
	c.buffer.Reset()
	if c.state == StateError {
		c.setStateLocked(c.listeningState(), KindNone, "")
	}
	c.prompt = false
	snapshot := c.changedLocked()
	c.mu.Unlock()
	c.flush(snapshot)
}

// DismissPermissionPrompt records that the blocking permission explanation
// was acknowledged.
func (c *Controller) DismissPermissionPrompt() {
	c.mu.Lock()
	if !c.prompt {
		c.mu.Unlock()
		return
	}
	c.prompt = false
	snapshot := c.changedLocked()
	c.mu.Unlock()
	c.flush(snapshot)
}

// Close cancels any pending restart and stops the session whatever the
// current state, publishing a final snapshot if it was listening. Later
// calls, and every other operation afterwards, do nothing.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	wasListening := c.listening
	c.cancelRestartLocked()
	c.listening = false
	c.buffer.ClearInterim()
	if c.state == StateListening {
		c.state = StateIdle
	}
	var snapshot *Snapshot
	if wasListening {
		snapshot = c.changedLocked()
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.flush(snapshot)
	if err := c.stopSession(); err != nil {
		return fmt.Errorf("stop recognition: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) handleStart() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state == StateError {
		c.setStateLocked(c.listeningState(), KindNone, "")
	}
	if c.listening {
		c.runStartedAt = c.now()
	}
	snapshot := c.changedLocked()
	c.mu.Unlock()

	c.logger.Info("speech recognition started")
	c.flush(snapshot, c.lifecycle(LifecycleSessionStarted, "", ""))
}

func (c *Controller) handleResult(event ResultEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	committed := c.buffer.Apply(event)
	if committed != "" || c.buffer.InterimText() != "" {
		c.restarts.Reset()
	}
	snapshot := c.changedLocked()
	c.mu.Unlock()

	if committed == "" {
		c.flush(snapshot)
		return
	}
	committedEvent := c.lifecycle(LifecycleTranscriptCommitted, "", "")
	committedEvent.Words = WordCount(committed)
	c.flush(snapshot, committedEvent)
}

func (c *Controller) handleError(event ErrorEvent) {
	logger := c.logger.With(slog.String("code", string(event.Code)))
	if event.Message != "" {
		logger = logger.With(slog.String("detail", event.Message))
	}

	if event.Code == CodeAborted {
		logger.Debug("recognition aborted")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	events := []LifecycleEvent{c.lifecycle(LifecycleError, event.Code, event.Message)}
	var snapshot *Snapshot

	switch event.Code {
	case CodePermissionDenied:
		c.failLocked(KindPermissionDenied, MessagePermissionDenied)
		c.prompt = true
		snapshot = c.changedLocked()
	case CodeNoMicrophone:
		c.failLocked(KindNoMicrophone, MessageNoMicrophone)
		snapshot = c.changedLocked()
	case CodeNetwork:
		c.failLocked(KindNetwork, MessageNetwork)
		snapshot = c.changedLocked()
	case CodeNoSpeech:
		logger.Info("no speech detected, continuing")
		if c.listening && c.policy.Applies(TriggerNoSpeech) {
			var changed bool
			events, changed = c.scheduleRestartLocked(TriggerNoSpeech, events)
			if changed {
				snapshot = c.changedLocked()
			}
		}
	default:
		c.failLocked(KindSession, genericErrorMessage(event.Code, event.Message))
		snapshot = c.changedLocked()
	}
	c.mu.Unlock()

	if event.Code != CodeNoSpeech {
		logger.Error("speech recognition error")
	}
	c.flush(snapshot, events...)
}

func (c *Controller) handleEnd() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	events := []LifecycleEvent{c.lifecycle(LifecycleSessionEnded, "", "")}
	var snapshot *Snapshot

	if c.listening && c.policy.Applies(TriggerEnd) {
		var changed bool
		events, changed = c.scheduleRestartLocked(TriggerEnd, events)
		if changed {
			snapshot = c.changedLocked()
		}
	} else {
		c.listening = false
		c.buffer.ClearInterim()
		if c.state == StateListening {
			c.state = StateIdle
		}
		snapshot = c.changedLocked()
	}
	c.mu.Unlock()

	c.logger.Info("speech recognition ended")
	c.flush(snapshot, events...)
}

// scheduleRestartLocked arms the single restart task. A run that drops
// reports both no-speech and end; the second trigger joins the restart the
// first one armed instead of spending another attempt. It reports whether
// visible state changed, which happens when the restart budget is spent and
// listening stops.
func (c *Controller) scheduleRestartLocked(trigger Trigger, events []LifecycleEvent) ([]LifecycleEvent, bool) {
	if c.restartCancel != nil {
		c.logger.Debug("restart already pending", slog.String("trigger", string(trigger)))
		return events, false
	}
	if !c.runStartedAt.IsZero() && c.restarts.Settled(c.now().Sub(c.runStartedAt)) {
		c.restarts.Reset()
	}
	c.runStartedAt = time.Time{}

	delay, ok := c.restarts.Next()
	if !ok {
		c.logger.Warn("restart budget exhausted", slog.String("trigger", string(trigger)))
		c.failLocked(KindSession, MessageRestartExhausted)
		return append(events, c.lifecycle(LifecycleRestartExhausted, "", string(trigger))), true
	}

	c.cancelRestartLocked()
	seq := c.restartSeq
	c.restartCancel = c.schedule(delay, func() { c.runRestart(seq) })

	detail := fmt.Sprintf("%s: attempt %d in %s", trigger, c.restarts.Attempts(), delay)
	c.logger.Info("restart scheduled",
		slog.String("trigger", string(trigger)),
		slog.Int("attempt", c.restarts.Attempts()),
		slog.Duration("delay", delay),
	)
	return append(events, c.lifecycle(LifecycleRestartScheduled, "", detail)), false
}

func (c *Controller) runRestart(seq uint64) {
	c.mu.Lock()
	if c.closed || !c.listening || seq != c.restartSeq {
		c.mu.Unlock()
		return
	}
	c.restartCancel = nil
	c.mu.Unlock()

	c.sink.Lifecycle(c.lifecycle(LifecycleRestartAttempted, "", ""))

	issued, err := c.startSession(c.ctx, seq)
	if !issued {
		c.logger.Debug("restart superseded")
		return
	}
	if err == nil {
		c.logger.Info("restarted recognition")
		return
	}
	if errors.Is(err, ErrAlreadyStarted) {
		c.logger.Debug("recognition already started")
		return
	}
	c.logger.Warn("could not restart recognition", slog.String("error", err.Error()))

	c.mu.Lock()
	if c.closed || !c.listening || seq != c.restartSeq {
		c.mu.Unlock()
		return
	}
	events, changed := c.scheduleRestartLocked(TriggerEnd, nil)
	var snapshot *Snapshot
	if changed {
		snapshot = c.changedLocked()
	}
	c.mu.Unlock()
	c.flush(snapshot, events...)
}

// startSession issues Start unless a Stop, Close or newer restart has
// superseded seq since it was taken. It reports whether Start was issued.
func (c *Controller) startSession(ctx context.Context, seq uint64) (bool, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	current := !c.closed && c.listening && seq == c.restartSeq
	session := c.session
	c.mu.Unlock()
	if !current {
		return false, nil
	}
	return true, session.Start(ctx)
}

func (c *Controller) stopSession() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Stop()
}

// cancelRestartLocked stops the pending restart timer and invalidates a
// timer callback that has already fired but not yet run.
func (c *Controller) cancelRestartLocked() {
	if c.restartCancel != nil {
		c.restartCancel()
		c.restartCancel = nil
	}
	c.restartSeq++
}

func (c *Controller) failLocked(kind ErrorKind, message string) {
	c.cancelRestartLocked()
	c.listening = false
	c.buffer.ClearInterim()
	c.setStateLocked(StateError, kind, message)
}

func (c *Controller) setStateLocked(state State, kind ErrorKind, message string) {
	c.state = state
	c.kind = kind
	c.message = message
}

func (c *Controller) listeningState() State {
	if c.listening {
		return StateListening
	}
	return StateIdle
}

func (c *Controller) changedLocked() *Snapshot {
	c.revision++
	snapshot := c.snapshotLocked()
	return &snapshot
}

func (c *Controller) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Revision:    c.revision,
		State:       c.state,
		ErrorKind:   c.kind,
		Message:     c.message,
		Listening:   c.listening,
		Unsupported: c.unsupported,
		FinalText:   c.buffer.FinalText(),
		InterimText: c.buffer.InterimText(),
	}
	snapshot.WordCount = WordCount(snapshot.FinalText)
	if c.prompt {
		snapshot.PermissionPrompt = &PermissionPrompt{
			Header:  permissionPromptHeader,
			Message: permissionPromptMessage,
		}
	}
	return snapshot
}

func (c *Controller) lifecycle(kind LifecycleKind, code ErrorCode, detail string) LifecycleEvent {
	return LifecycleEvent{Kind: kind, Code: code, Detail: detail, At: c.now().UTC()}
}

func (c *Controller) flush(snapshot *Snapshot, events ...LifecycleEvent) {
	for _, event := range events {
		c.sink.Lifecycle(event)
	}
	if snapshot != nil {
		c.sink.SnapshotChanged(*snapshot)
	}
}

// controllerEvents keeps the Handler methods off the controller's exported
// surface.
type controllerEvents struct {
	c *Controller
}

func (e controllerEvents) OnStart()                  { e.c.handleStart() }
func (e controllerEvents) OnResult(event ResultEvent) { e.c.handleResult(event) }
func (e controllerEvents) OnError(event ErrorEvent)   { e.c.handleError(event) }
func (e controllerEvents) OnEnd()                     { e.c.handleEnd() }
