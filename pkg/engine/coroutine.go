package engine

import (
	"context"
	"fmt"
	"time"
)

type actionKind int

const (
	actionReply actionKind = iota + 1
	actionTyping
	actionSleep
	actionAwait
	actionDelegate
	actionTerminate
)

func (k actionKind) String() string {
	switch k {
	case actionReply:
		return "reply"
	case actionTyping:
		return "typing"
	case actionSleep:
		return "sleep"
	case actionAwait:
		return "await"
	case actionDelegate:
		return "delegate"
	case actionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// action is what a handler yields at a suspension point.
type action struct {
	kind     actionKind
	text     string
	duration time.Duration
	call     func(context.Context) (any, error)

	target    string
	argText   string
	reuseArgs bool

	reason string
}

// resumption is what the scheduler hands back to a parked handler.
type resumption struct {
	value any
	err   error
	abort bool
}

// step is what a handler reports when it parks (action set) or returns.
type step struct {
	action *action
	err    error
}

// coroutine runs one handler body on its own goroutine. Control passes back
// and forth over unbuffered channels, so the handler and the scheduler loop
// never execute at the same time.
type coroutine struct {
	inv       *Invocation
	entry     *entry
	namespace string
	label     string
	run       HandlerFunc

	resume chan resumption
	out    chan step

	// aborted is only touched by the handler goroutine.
	aborted error
}

func newCoroutine(inv *Invocation, e *entry, namespace string, label string, run HandlerFunc) *coroutine {
	co := &coroutine{
		inv:       inv,
		entry:     e,
		namespace: namespace,
		label:     label,
		run:       run,
		resume:    make(chan resumption),
		out:       make(chan step),
	}
	inv.co = co

	go co.main()
	return co
}

func (c *coroutine) main() {
	first := <-c.resume
	if first.abort {
		c.out <- step{err: first.err}
		return
	}

	c.out <- step{err: c.invoke()}
}

func (c *coroutine) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", c.label, r)
		}
	}()

	return c.run(c.inv)
}

// yield parks the handler until the scheduler resumes it. Called on the
// handler goroutine only.
func (c *coroutine) yield(a action) (any, error) {
	if c.aborted != nil {
		return nil, c.aborted
	}

	c.out <- step{action: &a}
	r := <-c.resume
	if r.abort {
		c.aborted = r.err
	}

	return r.value, r.err
}

// advance resumes the handler and blocks until it parks again or returns.
// Called on the scheduler goroutine only.
func (c *coroutine) advance(r resumption) step {
	c.resume <- r
	return <-c.out
}

// unwind aborts a parked (or not yet started) handler and waits for it to
// return. Once aborted every suspension point fails fast, so the next
// message from the handler is its return.
func (c *coroutine) unwind(cause error) {
	c.resume <- resumption{abort: true, err: fmt.Errorf("%w: %w", ErrAborted, cause)}
	<-c.out
}
