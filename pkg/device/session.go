package device

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultConnectDelay      = time.Second
	defaultReconnectInterval = 5 * time.Second
	defaultEnrollTimeout     = 60 * time.Second
	defaultVerifyTimeout     = 15 * time.Second
	defaultDeleteWindow      = 5 * time.Second
	defaultSettleWindow      = 2 * time.Second
)

// Config controls Session timing. Zero values fall back to defaults.
type Config struct {
	ConnectDelay      time.Duration
	ReconnectInterval time.Duration
	EnrollTimeout     time.Duration
	VerifyTimeout     time.Duration
	// DeleteWindow is how long a DELETE waits for an ERROR line. The
	// firmware never acknowledges a successful delete, so silence for the
	// whole window counts as success.
	DeleteWindow time.Duration
	// SettleWindow is how long new commands are refused after an enroll or
	// verify timed out, so a late reply to it cannot resolve the next one.
	// The window ends early when that late reply arrives.
	SettleWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = defaultConnectDelay
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.EnrollTimeout <= 0 {
		c.EnrollTimeout = defaultEnrollTimeout
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = defaultVerifyTimeout
	}
	if c.DeleteWindow <= 0 {
		c.DeleteWindow = defaultDeleteWindow
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = defaultSettleWindow
	}
}

// pendingOp is the single in-flight request. It is resolved at most once:
// every resolution path first checks that it still owns Session.pending.
type pendingOp struct {
	op      Op
	id      int
	done    chan Result
	timer   *time.Timer
	started time.Time
}

func (p *pendingOp) accepts(kind EventKind) bool {
	switch kind {
	case EventDeviceError:
		return true
	case EventEnrollSuccess:
		return p.op == OpEnroll
	case EventMatchFound:
		return p.op == OpVerify
	default:
		return false
	}
}

func (p *pendingOp) resultFor(ev Event) Result {
	if ev.Kind == EventDeviceError {
		return Result{Op: p.op, Err: newError(p.op, KindDevice, ev.Message, nil)}
	}
	return Result{Op: p.op, TemplateID: ev.TemplateID}
}

// Session owns the transport to one sensor. It reconnects on its own and
// admits one operation at a time; a second caller gets ErrBusy.
type Session struct {
	cfg       Config
	transport Transport

	mu          sync.Mutex
	state       ConnectionState
	gen         uint64
	pending     *pendingOp
	settleOp    Op
	settleUntil time.Time
	reconnect   *time.Timer
	started     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	lastStatus  string
	lastCount   int
	lastError   string
	connectedAt *time.Time
	attempts    int

	subMu      sync.Mutex
	subs       map[uint64]chan Notification
	nextSub    uint64
	subsClosed bool

	readers sync.WaitGroup
}

// NewSession builds a session around t. Nothing is opened until Start.
func NewSession(t Transport, cfg Config) (*Session, error) {
	if t == nil {
		return nil, errors.New("device session: transport cannot be nil")
	}
	cfg.applyDefaults()
	return &Session{
		cfg:       cfg,
		transport: t,
		state:     StateDisconnected,
		subs:      make(map[uint64]chan Notification),
	}, nil
}

// Start arms the first connection attempt after ConnectDelay. From then on
// the session keeps reconnecting until Close.
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("device session: context cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return errors.New("device session: already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	log.Info().Dur("delay", s.cfg.ConnectDelay).Msg("device session starting")
	s.scheduleReconnectLocked(s.cfg.ConnectDelay)
	return nil
}

// Close stops reconnecting, fails any pending operation and releases the
// transport.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	p := s.pending
	if p != nil {
		s.clearLocked(p)
	}
	s.settleOp = OpNone
	s.gen++
	wasConnected := s.state == StateConnected
	s.state = StateDisconnected
	s.connectedAt = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.transport.Close()
	if p != nil {
		s.finish(p, Result{Op: p.op, Err: opError(p.op, ErrSessionClosed)})
	}
	s.readers.Wait()
	if wasConnected {
		s.emit(Notification{Type: NotifyDisconnected, State: StateDisconnected, Message: "session closed"})
	}
	s.closeSubscribers()
	log.Info().Msg("device session closed")
	if err != nil {
		return errors.Wrap(err, "device session: close transport")
	}
	return nil
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether operations can currently be issued.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Snapshot returns a copy of the observable session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:             s.state,
		Busy:              s.pending != nil,
		LastStatus:        s.lastStatus,
		LastCount:         s.lastCount,
		LastError:         s.lastError,
		ReconnectAttempts: s.attempts,
		Settling:          s.settlingLocked(time.Now()),
	}
	if s.pending != nil {
		snap.PendingOp = s.pending.op
	}
	if s.connectedAt != nil {
		t := *s.connectedAt
		snap.ConnectedAt = &t
	}
	return snap
}

// WaitConnected blocks until the session is connected or ctx ends.
func (s *Session) WaitConnected(ctx context.Context) error {
	ch, cancel := s.Subscribe(8)
	defer cancel()
	for {
		if s.Connected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for device connection")
		case _, ok := <-ch:
			if !ok {
				return ErrSessionClosed
			}
		}
	}
}

// Enroll asks the sensor to store a new fingerprint under id. The returned
// id is the one the device reports and may differ from the request.
func (s *Session) Enroll(ctx context.Context, id int) (int, error) {
	res := s.do(ctx, OpEnroll, id, EnrollCommand(id), s.cfg.EnrollTimeout)
	return res.TemplateID, res.Err
}

// Verify asks the sensor to scan a finger and returns the matched id.
func (s *Session) Verify(ctx context.Context) (int, error) {
	res := s.do(ctx, OpVerify, 0, VerifyCommand(), s.cfg.VerifyTimeout)
	return res.TemplateID, res.Err
}

// Delete removes template id from the sensor. Success means no ERROR line
// arrived within DeleteWindow; the firmware sends no positive ack.
func (s *Session) Delete(ctx context.Context, id int) error {
	res := s.do(ctx, OpDelete, id, DeleteCommand(id), s.cfg.DeleteWindow)
	return res.Err
}

func (s *Session) do(ctx context.Context, op Op, id int, cmd string, window time.Duration) Result {
	if (op == OpEnroll || op == OpDelete) && id <= 0 {
		return Result{Op: op, Err: ErrInvalidTemplateID}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{Op: op, Err: opError(op, ErrSessionClosed)}
	}
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return Result{Op: op, Err: newError(op, KindNotConnected, "device is "+state.String(), nil)}
	}
	if s.pending != nil {
		busyWith := s.pending.op
		s.mu.Unlock()
		return Result{Op: op, Err: newError(op, KindBusy, busyWith.String()+" in progress", nil)}
	}
	if s.settlingLocked(time.Now()) {
		late := s.settleOp
		s.mu.Unlock()
		return Result{Op: op, Err: newError(op, KindBusy, "waiting for late "+late.String()+" reply", nil)}
	}
	p := &pendingOp{
		op:      op,
		id:      id,
		done:    make(chan Result, 1),
		started: time.Now(),
	}
	s.pending = p
	p.timer = time.AfterFunc(window, func() { s.expire(p, window) })
	t := s.transport
	s.mu.Unlock()

	log.Info().Str("op", op.String()).Int("template_id", id).Str("command", cmd).Msg("sending device command")
	s.emit(Notification{Type: NotifyOperationStarted, State: StateConnected, Op: op, TemplateID: id})

	if err := t.WriteLine(cmd); err != nil {
		s.resolve(p, Result{Op: op, Err: newError(op, KindTransport, "write failed", err)})
	}

	if ctx == nil {
		return <-p.done
	}
	select {
	case res := <-p.done:
		return res
	case <-ctx.Done():
		// The device may still be working on the command, so the slot stays
		// occupied until the terminal event or the operation's own deadline.
		log.Warn().Str("op", op.String()).Msg("caller abandoned device operation, slot held until it resolves")
		return Result{Op: op, Err: errors.Wrapf(ctx.Err(), "%s abandoned", op)}
	}
}

func (s *Session) expire(p *pendingOp, window time.Duration) {
	if p.op == OpDelete {
		s.resolve(p, Result{Op: OpDelete, TemplateID: p.id})
		return
	}
	s.mu.Lock()
	if s.pending != p {
		s.mu.Unlock()
		return
	}
	s.clearLocked(p)
	s.settleOp = p.op
	s.settleUntil = time.Now().Add(s.cfg.SettleWindow)
	s.mu.Unlock()
	s.finish(p, Result{Op: p.op, Err: timeoutError(p.op, window)})
}

// settlingLocked reports whether a timed-out operation may still get its
// reply. An expired window is cleared.
func (s *Session) settlingLocked(now time.Time) bool {
	if s.settleOp == OpNone {
		return false
	}
	if now.Before(s.settleUntil) {
		return true
	}
	s.settleOp = OpNone
	return false
}

// resolve completes p if it is still the pending operation.
func (s *Session) resolve(p *pendingOp, res Result) bool {
	s.mu.Lock()
	if s.pending != p {
		s.mu.Unlock()
		return false
	}
	s.clearLocked(p)
	s.mu.Unlock()
	s.finish(p, res)
	return true
}

func (s *Session) clearLocked(p *pendingOp) {
	s.pending = nil
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (s *Session) finish(p *pendingOp, res Result) {
	p.done <- res

	elapsed := time.Since(p.started)
	n := Notification{
		Type:       NotifyOperationFinished,
		Op:         p.op,
		TemplateID: res.TemplateID,
	}
	if res.Err != nil {
		n.Message = res.Err.Error()
		log.Warn().Err(res.Err).Str("op", p.op.String()).Dur("elapsed", elapsed).Msg("device operation failed")
	} else {
		log.Info().Str("op", p.op.String()).Int("template_id", res.TemplateID).Dur("elapsed", elapsed).Msg("device operation succeeded")
	}
	n.State = s.State()
	s.emit(n)
}

// scheduleReconnectLocked arms the single reconnect timer. It is a no-op
// while a timer is already armed.
func (s *Session) scheduleReconnectLocked(delay time.Duration) {
	if s.closed || s.reconnect != nil {
		return
	}
	s.reconnect = time.AfterFunc(delay, s.connect)
}

func (s *Session) connect() {
	s.mu.Lock()
	s.reconnect = nil
	if s.closed || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.attempts++
	attempt := s.attempts
	ctx := s.ctx
	s.mu.Unlock()

	log.Debug().Int("attempt", attempt).Msg("connecting to device")
	err := s.transport.Open(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err == nil {
			_ = s.transport.Close()
		}
		return
	}
	var lines <-chan string
	if err == nil {
		if lines = s.transport.Lines(); lines == nil {
			err = errors.New("transport returned no line stream")
		}
	}
	if err != nil {
		s.state = StateDisconnected
		s.lastError = err.Error()
		s.scheduleReconnectLocked(s.cfg.ReconnectInterval)
		s.mu.Unlock()
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", s.cfg.ReconnectInterval).Msg("device connect failed")
		s.emit(Notification{Type: NotifyConnectFailed, State: StateDisconnected, Message: err.Error()})
		return
	}
	s.gen++
	gen := s.gen
	now := time.Now()
	s.state = StateConnected
	s.connectedAt = &now
	s.lastError = ""
	s.readers.Add(1)
	s.mu.Unlock()

	go s.readLoop(gen, lines)
	log.Info().Int("attempt", attempt).Msg("device connected")
	s.emit(Notification{Type: NotifyConnected, State: StateConnected})
}

func (s *Session) readLoop(gen uint64, lines <-chan string) {
	defer s.readers.Done()
	// Keep draining after a generation change so the transport never
	// blocks on a full channel.
	for line := range lines {
		s.handleLine(gen, line)
	}
	s.handleLost(gen)
}

func (s *Session) handleLine(gen uint64, line string) {
	ev := Decode(line)
	log.Debug().Str("line", ev.Raw).Str("event", ev.Kind.String()).Msg("device line received")
	if ev.Kind == EventNoise {
		return
	}

	var (
		notes    []Notification
		resolved *pendingOp
		res      Result
	)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	switch ev.Kind {
	case EventStatus:
		s.lastStatus = ev.Value
		notes = append(notes, Notification{Type: NotifyStatus, Message: ev.Value})
	case EventCount:
		s.lastCount = ev.Count
		notes = append(notes, Notification{Type: NotifyCount, Count: ev.Count})
	default:
		if ev.Kind == EventDeviceError {
			s.lastError = ev.Message
			notes = append(notes, Notification{Type: NotifyDeviceError, Message: ev.Message})
		}
		p := s.pending
		switch {
		case p != nil && p.accepts(ev.Kind):
			s.clearLocked(p)
			resolved, res = p, p.resultFor(ev)
		case p == nil && ev.Terminal() && s.settlingLocked(time.Now()):
			log.Info().
				Str("event", ev.Kind.String()).
				Str("late_op", s.settleOp.String()).
				Msg("late reply to timed-out operation discarded")
			s.settleOp = OpNone
		default:
			pendingOp := OpNone
			if p != nil {
				pendingOp = p.op
			}
			log.Warn().
				Str("event", ev.Kind.String()).
				Int("template_id", ev.TemplateID).
				Str("pending", pendingOp.String()).
				Msg("discarding device event with no matching operation")
		}
	}
	s.mu.Unlock()

	if resolved != nil {
		if resolved.op == OpEnroll && res.Err == nil && res.TemplateID != resolved.id {
			log.Warn().
				Int("requested", resolved.id).
				Int("reported", res.TemplateID).
				Msg("device stored template under a different id")
		}
		s.finish(resolved, res)
	}
	for _, n := range notes {
		n.State = StateConnected
		s.emit(n)
	}
}

func (s *Session) handleLost(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = StateDisconnected
	s.connectedAt = nil
	s.settleOp = OpNone
	p := s.pending
	if p != nil {
		s.clearLocked(p)
	}
	s.mu.Unlock()

	_ = s.transport.Close()
	if p != nil {
		s.finish(p, Result{Op: p.op, Err: opError(p.op, ErrDisconnected)})
	}

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.scheduleReconnectLocked(s.cfg.ReconnectInterval)
	}
	s.mu.Unlock()

	log.Warn().Dur("retry_in", s.cfg.ReconnectInterval).Msg("device disconnected")
	s.emit(Notification{Type: NotifyDisconnected, State: StateDisconnected, Message: "connection lost"})
}
