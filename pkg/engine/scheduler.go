package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultIntakeSize = 100

	// DeniedReply answers a matched command the caller may not run.
	DeniedReply = "Nope, denied."
	// FailureReply answers a command that failed without reporting why.
	FailureReply = "Something went wrong running that command."
	// InternalErrorReply answers a command aborted by an engine fault.
	InternalErrorReply = "Internal error, check the logs."
)

// Result describes how one top-level invocation ended.
type Result struct {
	InvocationID string
	Command      string
	Message      Message
	Err          error
	Elapsed      time.Duration
	Terminated   bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFinishHook registers fn to observe every finished top-level
// invocation. fn runs on the scheduler goroutine and must not block.
func WithFinishHook(fn func(Result)) Option {
	return func(s *Scheduler) {
		s.onFinish = fn
	}
}

// WithIntakeSize sets how many submitted invocations may wait for the loop.
func WithIntakeSize(size int) Option {
	return func(s *Scheduler) {
		if size > 0 {
			s.intakeSize = size
		}
	}
}

// Scheduler drives handler coroutines one step at a time on a single loop.
type Scheduler struct {
	registry  *Registry
	gate      *Gate
	transport Transport
	log       *slog.Logger
	onFinish  func(Result)

	intakeSize int
	intake     chan *task
	wake       chan wakeup
	done       chan struct{}
	stopOnce   sync.Once
	running    atomic.Bool

	// Owned by the loop goroutine.
	ready []*task
	live  map[*task]struct{}
	ctx   context.Context
}

type task struct {
	id        string
	command   string
	msg       Message
	caller    Caller
	args      Args
	entry     *entry
	namespace string
	run       HandlerFunc
	submitted time.Time

	stack   []*coroutine
	pending resumption
	timer   *time.Timer
}

type wakeup struct {
	task   *task
	result resumption
}

// NewScheduler builds a scheduler. The registry resolves delegation targets
// and the gate authorizes them; both may be shared with a Dispatcher.
func NewScheduler(registry *Registry, gate *Gate, transport Transport, log *slog.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		registry:   registry,
		gate:       gate,
		transport:  transport,
		log:        log.With("component", "engine.scheduler"),
		intakeSize: defaultIntakeSize,
		wake:       make(chan wakeup),
		done:       make(chan struct{}),
		live:       make(map[*task]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.intake = make(chan *task, s.intakeSize)

	return s
}

// Run serves submitted invocations until ctx is canceled or a handler
// terminates. A terminate request is returned as *Termination; a canceled
// context returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = loopCtx

	s.log.Info("Scheduler started")

	for {
		s.collect()

		if len(s.ready) == 0 {
			select {
			case <-ctx.Done():
				s.shutdown(cancel, ErrSchedulerStopped)
				s.log.Info("Scheduler stopped")
				return nil
			case t := <-s.intake:
				s.admit(t)
			case w := <-s.wake:
				s.resumeWith(w)
			}
			continue
		}

		if ctx.Err() != nil {
			s.shutdown(cancel, ErrSchedulerStopped)
			s.log.Info("Scheduler stopped")
			return nil
		}

		t := s.ready[0]
		s.ready[0] = nil
		s.ready = s.ready[1:]

		if term := s.advance(t); term != nil {
			s.log.Info("Terminate requested", "reason", term.Reason, "invocation_id", term.InvocationID, "command", term.Command)
			s.shutdown(cancel, term)
			return term
		}
	}
}

// Done is closed once the scheduler stopped accepting work.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) submit(ctx context.Context, t *task) error {
	select {
	case <-s.done:
		return ErrSchedulerStopped
	default:
	}

	select {
	case <-s.done:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	case s.intake <- t:
		return nil
	}
}

// collect moves everything already waiting at the intake and wake channels
// into the ready queue without blocking.
func (s *Scheduler) collect() {
	for {
		select {
		case t := <-s.intake:
			s.admit(t)
		case w := <-s.wake:
			s.resumeWith(w)
		default:
			return
		}
	}
}

func (s *Scheduler) admit(t *task) {
	inv := &Invocation{
		ID:      t.id,
		Command: t.command,
		Message: t.msg,
		Caller:  t.caller,
		Args:    t.args,
		ctx:     s.ctx,
		gate:    s.gate,
	}

	t.stack = append(t.stack, newCoroutine(inv, t.entry, t.namespace, t.command, t.run))
	s.live[t] = struct{}{}
	s.ready = append(s.ready, t)

	s.log.Debug("Invocation admitted", "invocation_id", t.id, "command", t.command, "queued", time.Since(t.submitted))
}

func (s *Scheduler) resumeWith(w wakeup) {
	if _, ok := s.live[w.task]; !ok {
		return
	}

	w.task.timer = nil
	w.task.pending = w.result
	s.ready = append(s.ready, w.task)
}

func (s *Scheduler) post(w wakeup) {
	select {
	case s.wake <- w:
	case <-s.done:
	}
}

// advance runs the task's innermost handler up to its next suspension point
// and performs the yielded side effect.
func (s *Scheduler) advance(t *task) *Termination {
	co := t.stack[len(t.stack)-1]
	st := co.advance(t.pending)
	t.pending = resumption{}

	if st.action == nil {
		s.finishFrame(t, st.err)
		return nil
	}

	a := st.action
	dst := t.msg.Destination()

	switch a.kind {
	case actionReply:
		if err := s.transport.SendReply(s.ctx, dst, a.text); err != nil {
			s.log.Warn("Reply delivery failed", "invocation_id", t.id, "channel", dst.Channel, "chat_id", dst.ChatID, "error", err)
		}
		s.ready = append(s.ready, t)

	case actionTyping:
		if err := s.transport.SendTyping(s.ctx, dst); err != nil {
			s.log.Debug("Typing delivery failed", "invocation_id", t.id, "channel", dst.Channel, "error", err)
		}
		s.ready = append(s.ready, t)

	case actionSleep:
		if a.duration <= 0 {
			s.ready = append(s.ready, t)
			return nil
		}
		t.timer = time.AfterFunc(a.duration, func() {
			s.post(wakeup{task: t})
		})

	case actionAwait:
		ctx := s.ctx
		go func() {
			value, err := safeCall(ctx, a.call)
			s.post(wakeup{task: t, result: resumption{value: value, err: err}})
		}()

	case actionDelegate:
		s.delegate(t, co, a)

	case actionTerminate:
		return &Termination{Reason: a.reason, InvocationID: t.id, Command: co.label}

	default:
		t.pending = resumption{err: fmt.Errorf("unsupported action %s", a.kind)}
		s.ready = append(s.ready, t)
	}

	return nil
}

func (s *Scheduler) delegate(t *task, parent *coroutine, a *action) {
	target, ok := s.registry.lookup(parent.namespace, a.target)
	if !ok {
		s.resumeParent(t, fmt.Errorf("%w: %s", ErrUnknownHandler, a.target))
		return
	}

	for _, co := range t.stack {
		if co.entry == target {
			s.failTask(t, &DelegationCycleError{Target: target.key(), Stack: t.labels()})
			return
		}
	}

	args := parent.inv.Args
	if !a.reuseArgs {
		var matched bool
		args, matched = target.matchArgs(a.argText)
		if !matched {
			s.resumeParent(t, fmt.Errorf("%w: %q for %s", ErrNoMatch, a.argText, target.key()))
			return
		}
	}

	if !Authorize(t.caller, target.desc.Require) {
		s.log.Info("Delegation denied", "invocation_id", t.id, "target", target.key(), "sender_id", t.caller.SenderID)
		s.resumeParent(t, fmt.Errorf("%w: %s requires %s", ErrUnauthorized, target.key(), target.desc.Require))
		return
	}

	inv := &Invocation{
		ID:      t.id,
		Command: target.key(),
		Message: t.msg,
		Caller:  t.caller,
		Args:    args,
		ctx:     s.ctx,
		gate:    s.gate,
	}

	s.log.Debug("Delegating", "invocation_id", t.id, "from", parent.label, "to", target.key(), "depth", len(t.stack))

	t.stack = append(t.stack, newCoroutine(inv, target, target.namespace, target.key(), target.desc.Run))
	s.ready = append(s.ready, t)
}

func (s *Scheduler) resumeParent(t *task, err error) {
	t.pending = resumption{err: err}
	s.ready = append(s.ready, t)
}

// finishFrame pops a returned handler. A child's error becomes the result
// of the parent's Delegate call.
func (s *Scheduler) finishFrame(t *task, err error) {
	t.stack[len(t.stack)-1] = nil
	t.stack = t.stack[:len(t.stack)-1]

	if len(t.stack) > 0 {
		s.resumeParent(t, err)
		return
	}

	s.complete(t, err)
}

// failTask aborts every frame of t and reports err as its outcome.
func (s *Scheduler) failTask(t *task, err error) {
	s.unwind(t, err)
	s.complete(t, err)
}

func (s *Scheduler) unwind(t *task, cause error) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}

	for i := len(t.stack) - 1; i >= 0; i-- {
		t.stack[i].unwind(cause)
		t.stack[i] = nil
	}
	t.stack = nil
}

func (s *Scheduler) complete(t *task, err error) {
	delete(s.live, t)

	elapsed := time.Since(t.submitted)
	log := s.log.With("invocation_id", t.id, "command", t.command, "elapsed", elapsed)

	var reply string
	var cycle *DelegationCycleError
	switch {
	case err == nil:
		log.Debug("Invocation completed")
	case errors.As(err, &cycle):
		log.Error("Invocation aborted", "error", err)
		reply = InternalErrorReply
	case errors.Is(err, ErrAborted):
		log.Info("Invocation aborted", "error", err)
	case errors.Is(err, ErrUnauthorized):
		log.Info("Invocation denied", "error", err)
		reply = DeniedReply
	default:
		log.Error("Invocation failed", "error", err)
		reply = FailureReply
	}

	if reply != "" {
		if sendErr := s.transport.SendReply(s.ctx, t.msg.Destination(), reply); sendErr != nil {
			log.Warn("Reply delivery failed", "error", sendErr)
		}
	}

	if s.onFinish != nil {
		s.onFinish(Result{
			InvocationID: t.id,
			Command:      t.command,
			Message:      t.msg,
			Err:          err,
			Elapsed:      elapsed,
		})
	}
}

// shutdown stops intake and tears down every live invocation, sleeping or
// not, without resuming any of them.
func (s *Scheduler) shutdown(cancel context.CancelFunc, cause error) {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	cancel()

	term, terminated := IsTermination(cause)

	for t := range s.live {
		s.unwind(t, cause)
		delete(s.live, t)

		if s.onFinish == nil {
			continue
		}
		result := Result{
			InvocationID: t.id,
			Command:      t.command,
			Message:      t.msg,
			Err:          fmt.Errorf("%w: %w", ErrAborted, cause),
			Elapsed:      time.Since(t.submitted),
		}
		if terminated && term.InvocationID == t.id {
			result.Err = nil
			result.Terminated = true
		}
		s.onFinish(result)
	}
	s.ready = nil

	dropped := 0
	for drained := false; !drained; {
		select {
		case <-s.intake:
			dropped++
		default:
			drained = true
		}
	}
	if dropped > 0 {
		s.log.Warn("Dropped queued invocations", "count", dropped)
	}
}

func (t *task) labels() []string {
	out := make([]string, 0, len(t.stack))
	for _, co := range t.stack {
		out = append(out, co.label)
	}

	return out
}

func safeCall(ctx context.Context, call func(context.Context) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("awaited call panicked: %v", r)
		}
	}()

	return call(ctx)
}
