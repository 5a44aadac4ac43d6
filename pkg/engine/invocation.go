package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Invocation binds a message, its caller and parsed arguments to one running
// handler. Its methods are suspension points and must only be called from
// the handler that received it.
type Invocation struct {
	ID      string
	Command string
	Message Message
	Caller  Caller
	Args    Args

	ctx  context.Context
	gate *Gate
	co   *coroutine
}

// Context is canceled when the scheduler shuts down.
func (inv *Invocation) Context() context.Context {
	if inv.ctx == nil {
		return context.Background()
	}

	return inv.ctx
}

// Reply sends text to the chat the message came from.
func (inv *Invocation) Reply(text string) error {
	_, err := inv.co.yield(action{kind: actionReply, text: text})
	return err
}

// Replyf is Reply with fmt formatting.
func (inv *Invocation) Replyf(format string, args ...any) error {
	return inv.Reply(fmt.Sprintf(format, args...))
}

// Typing shows a typing indicator in the originating chat.
func (inv *Invocation) Typing() error {
	_, err := inv.co.yield(action{kind: actionTyping})
	return err
}

// Sleep parks this handler for d. Other invocations keep running.
func (inv *Invocation) Sleep(d time.Duration) error {
	_, err := inv.co.yield(action{kind: actionSleep, duration: d})
	return err
}

// Delegate runs another handler with this invocation's message, caller and
// arguments, and returns once it has completed. Unqualified names resolve in
// the current plugin namespace; "namespace.name" reaches other plugins.
func (inv *Invocation) Delegate(name string) error {
	_, err := inv.co.yield(action{kind: actionDelegate, target: name, reuseArgs: true})
	return err
}

// DelegateArgs is Delegate with text parsed against the target's pattern.
func (inv *Invocation) DelegateArgs(name string, text string) error {
	_, err := inv.co.yield(action{kind: actionDelegate, target: name, argText: strings.TrimSpace(text)})
	return err
}

// Terminate asks the host to stop the process. The handler is not resumed.
func (inv *Invocation) Terminate(reason string) error {
	_, err := inv.co.yield(action{kind: actionTerminate, reason: reason})
	return err
}

// Permission re-resolves the caller's live permission level. Handlers use it
// for finer checks on top of the gate.
func (inv *Invocation) Permission() (Permission, error) {
	caller, err := Await(inv, func(ctx context.Context) (Caller, error) {
		return inv.gate.Resolve(ctx, inv.Caller.SenderID), nil
	})
	if err != nil {
		return "", err
	}

	return caller.Permission, nil
}

// Await runs a blocking call off the scheduler loop and parks the handler
// until it returns, so other invocations make progress meanwhile.
func Await[T any](inv *Invocation, call func(ctx context.Context) (T, error)) (T, error) {
	value, err := inv.co.yield(action{
		kind: actionAwait,
		call: func(ctx context.Context) (any, error) {
			return call(ctx)
		},
	})

	typed, _ := value.(T)
	return typed, err
}
