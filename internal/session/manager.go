package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helppeople411-create/rei-voice-pro/internal/audio"
	"github.com/helppeople411-create/rei-voice-pro/internal/events"
	"github.com/helppeople411-create/rei-voice-pro/internal/metrics"
	"github.com/helppeople411-create/rei-voice-pro/internal/protocol"
	"github.com/helppeople411-create/rei-voice-pro/internal/transcript"
)

// ErrManagerClosed is returned by commands after Close
var ErrManagerClosed = errors.New("session manager closed")

// Timer is a pending retry
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// AudioIO opens fresh devices for every connection attempt
type AudioIO interface {
	OpenCapture(ctx context.Context) (audio.Source, error)
	OpenPlayback(ctx context.Context) (audio.Sink, error)
}

// ToolDispatcher answers a batch of tool calls, one response per call in order
type ToolDispatcher interface {
	Dispatch(calls []protocol.FunctionCall) []protocol.FunctionResponse
}

// Config holds session settings
type Config struct {
	Backoff          Backoff
	Capture          audio.CaptureConfig
	OutputSampleRate int
	// RecordPath, when set, receives each connection's microphone audio as
	// WAV, suffixed with the attempt number.
	RecordPath string
}

// DefaultConfig returns the standard session settings
func DefaultConfig() Config {
	return Config{
		Backoff:          DefaultBackoff(),
		Capture:          audio.DefaultCaptureConfig(),
		OutputSampleRate: audio.DefaultOutputSampleRate,
	}
}

// Validate validates session settings
func (c Config) Validate() error {
	if err := c.Backoff.Validate(); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if c.OutputSampleRate <= 0 {
		return fmt.Errorf("output sample rate must be positive, got %d", c.OutputSampleRate)
	}
	return nil
}

// Deps are the collaborators a Manager drives
type Deps struct {
	Dialer     protocol.Dialer
	Audio      AudioIO
	Tools      ToolDispatcher
	Transcript *transcript.Log
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	AfterFunc  AfterFunc
	Now        func() time.Time
}

// attempt holds the resources of one connection attempt
type attempt struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	conn      protocol.Conn
	source    audio.Source
	sink      audio.Sink
	scheduler *audio.Scheduler
	capture   *audio.Capture
	recorder  *audio.Recorder
	openedAt  time.Time
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
)

type command struct {
	kind  commandKind
	reply chan error
}

// Events posted to the coordinating goroutine
type (
	dialResult struct {
		id     uint64
		conn   protocol.Conn
		source audio.Source
		sink   audio.Sink
		err    error
	}
	inbound struct {
		id  uint64
		msg *protocol.ServerMessage
	}
	lost struct {
		id  uint64
		err error
	}
	retryDue struct {
		gen uint64
	}
)

func (r dialResult) closeResources() {
	if r.conn != nil {
		r.conn.Close()
	}
	if r.source != nil {
		r.source.Close()
	}
	if r.sink != nil {
		r.sink.Close()
	}
}

// Manager owns the connection state machine, retry policy and audio pipeline
type Manager struct {
	config     Config
	dialer     protocol.Dialer
	audio      AudioIO
	tools      ToolDispatcher
	transcript *transcript.Log
	bus        *events.Bus
	metrics    *metrics.Metrics
	logger     *slog.Logger
	afterFunc  AfterFunc
	now        func() time.Time

	cmds  chan command
	inbox chan any
	done  chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// Owned by the coordinating goroutine
	state    State
	current  *attempt
	seq      uint64
	retries  int
	timer    Timer
	timerGen uint64
	acc      transcript.Accumulator

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewManager creates a manager and starts its coordinating goroutine
func NewManager(config Config, deps Deps) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("dialer cannot be nil")
	}
	if deps.Audio == nil {
		return nil, fmt.Errorf("audio devices cannot be nil")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool dispatcher cannot be nil")
	}
	if deps.Transcript == nil {
		deps.Transcript = transcript.NewLog()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = realAfterFunc
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:     config,
		dialer:     deps.Dialer,
		audio:      deps.Audio,
		tools:      deps.Tools,
		transcript: deps.Transcript,
		bus:        deps.Bus,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		afterFunc:  deps.AfterFunc,
		now:        deps.Now,
		cmds:       make(chan command),
		inbox:      make(chan any, 16),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		snap:       Snapshot{State: StateIdle.String()},
	}

	go m.run()

	return m, nil
}

// Connect starts connecting unless a connection is already open or in
// progress. During a retry wait it cancels the wait and dials immediately.
// A configuration problem fails fast with an error wrapping ErrConfig.
func (m *Manager) Connect() error {
	return m.send(cmdConnect)
}

// Disconnect tears down every resource and returns to Idle. It is safe in any state.
func (m *Manager) Disconnect() error {
	return m.send(cmdDisconnect)
}

// Close disconnects and stops the coordinating goroutine
func (m *Manager) Close() error {
	m.closeOnce.Do(m.cancel)
	<-m.done
	return nil
}

// Snapshot returns the current observable state
func (m *Manager) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	snap := m.snap
	if snap.OpenedAt != nil {
		t := *snap.OpenedAt
		snap.OpenedAt = &t
	}
	return snap
}

// Transcript returns all completed turns in order
func (m *Manager) Transcript() []transcript.Turn {
	return m.transcript.Turns()
}

func (m *Manager) send(kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case m.cmds <- cmd:
	case <-m.done:
		return ErrManagerClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-m.done:
		return ErrManagerClosed
	}
}

// post delivers an event unless ctx ends first
func (m *Manager) post(ctx context.Context, ev any) bool {
	select {
	case m.inbox <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		select {
		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdConnect:
				cmd.reply <- m.handleConnect()
			case cmdDisconnect:
				cmd.reply <- m.handleDisconnect()
			}
		case ev := <-m.inbox:
			m.handleEvent(ev)
		case <-m.ctx.Done():
			m.shutdown()
			return
		}
	}
}

func (m *Manager) handleEvent(ev any) {
	switch e := ev.(type) {
	case dialResult:
		m.handleDialResult(e)
	case inbound:
		m.handleInbound(e)
	case lost:
		m.handleLost(e)
	case retryDue:
		m.handleRetryDue(e)
	}
}

func (m *Manager) handleConnect() error {
	if m.state == StateOpen || (m.state == StateConnecting && m.timer == nil) {
		return nil
	}

	if err := m.dialer.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrConfig, err)
		m.cancelRetry()
		m.metrics.RecordSessionError(ClassConfig)
		m.logger.Error("Cannot connect", slog.String("error", err.Error()))
		m.setState(StateClosed, "", err.Error())
		return err
	}

	m.cancelRetry()
	m.retries = 0
	m.startAttempt()
	return nil
}

func (m *Manager) handleDisconnect() error {
	m.cancelRetry()
	if m.current != nil {
		m.logger.Info("Disconnecting session", slog.Uint64("attempt", m.current.id))
	}
	m.teardown(m.current)
	m.retries = 0
	m.setState(StateIdle, "", "")
	return nil
}

func (m *Manager) shutdown() {
	m.cancelRetry()
	m.teardown(m.current)
	m.setState(StateIdle, "", "")

	// Dial results already queued still own their devices and connection.
	for {
		select {
		case ev := <-m.inbox:
			if r, ok := ev.(dialResult); ok {
				r.closeResources()
			}
		default:
			return
		}
	}
}

func (m *Manager) startAttempt() {
	m.seq++
	ctx, cancel := context.WithCancel(m.ctx)
	a := &attempt{
		id:     m.seq,
		ctx:    ctx,
		cancel: cancel,
		group:  new(errgroup.Group),
	}
	m.current = a
	m.metrics.RecordConnectionAttempt()

	status := "connecting"
	if m.retries > 0 {
		status = fmt.Sprintf("reconnecting, attempt %d", m.retries)
	}
	m.logger.Info("Connecting session",
		slog.Uint64("attempt", a.id),
		slog.Int("retry", m.retries))
	m.setState(StateConnecting, status, "")

	a.group.Go(func() error {
		m.dial(a)
		return nil
	})
}

// dial opens the devices and the connection. Whatever it opened is closed
// here if the result cannot be delivered.
func (m *Manager) dial(a *attempt) {
	res := dialResult{id: a.id}

	res.sink, res.err = m.audio.OpenPlayback(a.ctx)
	if res.err == nil {
		res.source, res.err = m.audio.OpenCapture(a.ctx)
	}
	if res.err == nil {
		res.conn, res.err = m.dialer.Dial(a.ctx)
	}
	if res.err != nil {
		res.closeResources()
		res.conn, res.source, res.sink = nil, nil, nil
	}

	if !m.post(a.ctx, res) {
		res.closeResources()
	}
}

func (m *Manager) handleDialResult(r dialResult) {
	a := m.current
	if a == nil || a.id != r.id || m.state != StateConnecting {
		r.closeResources()
		return
	}
	if r.err != nil {
		m.fail(a, r.err)
		return
	}

	a.conn, a.source, a.sink = r.conn, r.source, r.sink
	if err := m.open(a); err != nil {
		m.fail(a, err)
	}
}

// open wires the pipeline for an established connection and starts its goroutines
func (m *Manager) open(a *attempt) error {
	scheduler, err := audio.NewScheduler(a.sink, m.config.OutputSampleRate)
	if err != nil {
		return fmt.Errorf("failed to create playback scheduler: %w", err)
	}

	conn := a.conn
	send := func(frame []byte) error {
		if err := conn.SendAudio(frame); err != nil {
			return err
		}
		m.metrics.RecordFrameSent()
		return nil
	}
	capture, err := audio.NewCapture(a.source, m.config.Capture, send, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create capture pipeline: %w", err)
	}
	capture.OnLevel(m.setVolume)
	capture.OnDrop(func(error) { m.metrics.RecordFrameDropped() })

	if m.config.RecordPath != "" {
		m.attachRecorder(a, capture)
	}

	a.scheduler = scheduler
	a.capture = capture
	a.openedAt = m.now()
	m.acc.Reset()

	m.logger.Info("Session open", slog.Uint64("attempt", a.id))
	m.setState(StateOpen, "connected", "")

	a.group.Go(func() error {
		m.receive(a, conn)
		return nil
	})
	a.group.Go(func() error {
		if err := capture.Run(a.ctx); err != nil {
			m.post(a.ctx, lost{id: a.id, err: fmt.Errorf("capture failed: %w", err)})
		}
		return nil
	})
	return nil
}

func (m *Manager) attachRecorder(a *attempt, capture *audio.Capture) {
	path := recordingPath(m.config.RecordPath, a.id)
	rec, err := audio.CreateRecorder(path, m.config.Capture.SampleRate)
	if err != nil {
		m.logger.Warn("Failed to start recording",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	a.recorder = rec

	var once sync.Once
	capture.OnFrame(func(frame []float32) {
		if err := rec.Write(frame); err != nil {
			once.Do(func() {
				m.logger.Warn("Failed to write recording",
					slog.String("path", path),
					slog.String("error", err.Error()))
			})
		}
	})
}

// recordingPath inserts the attempt number before the extension
func recordingPath(base string, id uint64) string {
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".wav"
	}
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, filepath.Ext(base)), id, ext)
}

func (m *Manager) receive(a *attempt, conn protocol.Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			m.post(a.ctx, lost{id: a.id, err: err})
			return
		}
		if !m.post(a.ctx, inbound{id: a.id, msg: msg}) {
			return
		}
	}
}

// handleInbound applies one server message: audio, transcription, turn
// completion, tool calls, then interruption.
func (m *Manager) handleInbound(ev inbound) {
	a := m.current
	if a == nil || a.id != ev.id || m.state != StateOpen || ev.msg == nil {
		return
	}
	msg := ev.msg
	if m.logger.Enabled(a.ctx, slog.LevelDebug) {
		m.logger.Debug("Received server message",
			slog.Uint64("attempt", a.id),
			slog.String("message", msg.String()))
	}
	if msg.Empty() {
		return
	}

	for _, chunk := range msg.Audio {
		seg, err := a.scheduler.Schedule(audio.DecodePCM16(chunk))
		if err != nil {
			m.logger.Warn("Failed to schedule playback", slog.String("error", err.Error()))
			continue
		}
		if seg.Samples > 0 {
			m.metrics.RecordSegmentScheduled(seg.Duration.Seconds())
		}
	}

	if msg.InputText != "" {
		m.acc.AddUser(msg.InputText)
	}
	if msg.OutputText != "" {
		m.acc.AddModel(msg.OutputText)
	}

	if msg.TurnComplete {
		turn := m.acc.Complete(m.now())
		m.transcript.Append(turn)
		m.metrics.RecordTurnCompleted()
		m.publish(events.TypeTurn, turn)
		m.logger.Debug("Turn completed", slog.Int("turns", m.transcript.Len()))
	}

	if len(msg.ToolCalls) > 0 {
		responses := m.tools.Dispatch(msg.ToolCalls)
		if err := protocol.ValidateResponses(msg.ToolCalls, responses); err != nil {
			m.logger.Error("Dropping invalid tool responses",
				slog.Int("calls", len(msg.ToolCalls)),
				slog.String("error", err.Error()))
		} else if err := a.conn.SendToolResponses(responses); err != nil {
			m.logger.Error("Failed to send tool responses",
				slog.Int("count", len(responses)),
				slog.String("error", err.Error()))
		}
	}

	if msg.Interrupted {
		a.scheduler.Interrupt()
		m.metrics.RecordPlaybackInterruption()
		m.logger.Debug("Playback interrupted", slog.Uint64("attempt", a.id))
	}

	if msg.GoAway != nil {
		m.logger.Warn("Service is ending the session",
			slog.Uint64("attempt", a.id),
			slog.Duration("time_left", msg.GoAway.TimeLeft))
	}
}

func (m *Manager) handleLost(ev lost) {
	a := m.current
	if a == nil || a.id != ev.id {
		return
	}

	if isCleanClose(ev.err) {
		m.logger.Info("Session closed by service", slog.Uint64("attempt", a.id))
		m.teardown(a)
		m.setState(StateIdle, "", "")
		return
	}
	m.fail(a, ev.err)
}

// fail releases the attempt then either schedules a retry or settles in Closed
func (m *Manager) fail(a *attempt, err error) {
	m.teardown(a)

	class := classify(err)
	if class == ClassTransient && m.config.Backoff.Allows(m.retries+1) {
		m.retries++
		delay := m.config.Backoff.Delay(m.retries)

		m.metrics.RecordSessionError(ClassTransient)
		m.metrics.RecordConnectionRetry()
		m.logger.Warn("Connection failed, retrying",
			slog.Uint64("attempt", a.id),
			slog.Int("retry", m.retries),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		m.setState(StateConnecting, fmt.Sprintf("reconnecting, attempt %d", m.retries), "")
		m.scheduleRetry(delay)
		return
	}

	if class == ClassTransient {
		class = ClassExhausted
		err = fmt.Errorf("connection failed after %d retries: %w", m.retries, err)
	}
	m.metrics.RecordSessionError(class)
	m.logger.Error("Connection failed",
		slog.Uint64("attempt", a.id),
		slog.String("class", class),
		slog.String("error", err.Error()))
	m.setState(StateClosed, "", err.Error())
}

func (m *Manager) scheduleRetry(delay time.Duration) {
	m.timerGen++
	gen := m.timerGen
	ctx := m.ctx
	m.timer = m.afterFunc(delay, func() {
		select {
		case m.inbox <- retryDue{gen: gen}:
		case <-ctx.Done():
		}
	})
}

func (m *Manager) cancelRetry() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Manager) handleRetryDue(ev retryDue) {
	if m.timer == nil || ev.gen != m.timerGen {
		return
	}
	m.timer = nil
	m.startAttempt()
}

// teardown cancels the attempt, closes its resources and waits for its goroutines
func (m *Manager) teardown(a *attempt) {
	if a == nil {
		return
	}

	a.cancel()
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			m.logger.Debug("Failed to close connection", slog.String("error", err.Error()))
		}
	}
	if a.source != nil {
		a.source.Close()
	}
	if a.sink != nil {
		a.sink.Flush()
		a.sink.Close()
	}
	a.group.Wait()

	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			m.logger.Warn("Failed to finalize recording", slog.String("error", err.Error()))
		} else {
			m.logger.Info("Saved recording",
				slog.String("path", a.recorder.Path()),
				slog.Duration("duration", a.recorder.Duration()))
		}
	}
	if !a.openedAt.IsZero() {
		m.metrics.RecordSessionClosed(m.now().Sub(a.openedAt).Seconds())
	}
	if a.capture != nil {
		stats := a.capture.Stats()
		m.logger.Debug("Capture stopped",
			slog.Uint64("attempt", a.id),
			slog.Uint64("frames_sent", stats.FramesSent),
			slog.Uint64("frames_dropped", stats.FramesDropped),
			slog.Float64("active_percentage", stats.Level.ActivePercentage),
			slog.Float64("peak_level", stats.Level.PeakLevel))
	}
	if a.scheduler != nil {
		stats := a.scheduler.Stats()
		m.logger.Debug("Playback stopped",
			slog.Uint64("attempt", a.id),
			slog.Uint64("segments", stats.SegmentsScheduled),
			slog.Uint64("interruptions", stats.Interruptions),
			slog.Duration("scheduled_audio", stats.ScheduledAudio))
	}
	if user, model := m.acc.Pending(); user != "" || model != "" {
		m.logger.Debug("Discarding unfinished turn",
			slog.Uint64("attempt", a.id),
			slog.Int("user_chars", len(user)),
			slog.Int("model_chars", len(model)))
	}

	if m.current == a {
		m.current = nil
	}
	m.acc.Reset()
	m.setVolume(0)
}

func (m *Manager) setState(state State, status, errText string) {
	m.state = state
	m.metrics.SetSessionState(int(state))

	m.snapMu.Lock()
	m.snap.State = state.String()
	m.snap.Connected = state == StateOpen
	m.snap.Connecting = state == StateConnecting
	m.snap.Status = status
	m.snap.Error = errText
	m.snap.Retries = m.retries
	if m.current != nil {
		m.snap.Attempt = m.current.id
	}
	if state == StateOpen && m.current != nil {
		opened := m.current.openedAt
		m.snap.OpenedAt = &opened
	} else {
		m.snap.OpenedAt = nil
	}
	snap := m.snap
	m.snapMu.Unlock()

	m.publish(events.TypeState, snap)
}

func (m *Manager) setVolume(level float64) {
	m.snapMu.Lock()
	m.snap.Volume = level
	m.snapMu.Unlock()

	m.metrics.SetInputLevel(level)
	m.publish(events.TypeVolume, level)
}

func (m *Manager) publish(t events.Type, data any) {
	if m.bus != nil {
		m.bus.Publish(t, data)
	}
}
