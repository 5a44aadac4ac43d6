package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
)

// DefaultCommandMarker starts every command message.
const DefaultCommandMarker = "!"

// nearMissDistance bounds how far a typo may be from a prefix to be logged
// as a likely intended command.
const nearMissDistance = 2

// Outcome is what Dispatch did with a message.
type Outcome int

const (
	OutcomeNoMatch Outcome = iota
	OutcomeDenied
	OutcomeScheduled
	OutcomeAmbient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeDenied:
		return "denied"
	case OutcomeScheduled:
		return "scheduled"
	case OutcomeAmbient:
		return "ambient"
	default:
		return "unknown"
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCommandMarker overrides the command marker.
func WithCommandMarker(marker string) DispatcherOption {
	return func(d *Dispatcher) {
		if marker = strings.TrimSpace(marker); marker != "" {
			d.marker = marker
		}
	}
}

// WithDispatchObserver registers fn to see each dispatch decision. It runs on
// the caller's goroutine.
func WithDispatchObserver(fn func(Message, Outcome, string)) DispatcherOption {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

// Dispatcher turns inbound messages into scheduled invocations.
type Dispatcher struct {
	registry  *Registry
	gate      *Gate
	scheduler *Scheduler
	marker    string
	observe   func(Message, Outcome, string)
	log       *slog.Logger
}

// NewDispatcher seals the registry and returns a dispatcher over it.
func NewDispatcher(registry *Registry, gate *Gate, scheduler *Scheduler, log *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	registry.Seal()

	d := &Dispatcher{
		registry:  registry,
		gate:      gate,
		scheduler: scheduler,
		marker:    DefaultCommandMarker,
		log:       log.With("component", "engine.dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch routes one message. Unmatched commands are dropped silently;
// matched commands the caller may not run are answered with a denial.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (Outcome, error) {
	text, isCommand := stripMarker(msg.Text, d.marker)
	if !isCommand {
		return d.dispatchAmbient(ctx, msg)
	}

	e, args, ok := d.registry.match(text)
	if !ok {
		d.logNearMiss(msg, text)
		d.notify(msg, OutcomeNoMatch, "")
		return OutcomeNoMatch, nil
	}

	caller := d.gate.Resolve(ctx, msg.SenderID)
	t := &task{
		id:        uuid.NewString(),
		command:   e.key(),
		msg:       msg,
		caller:    caller,
		args:      args,
		entry:     e,
		namespace: e.namespace,
		run:       e.desc.Run,
		submitted: time.Now(),
	}

	if !Authorize(caller, e.desc.Require) {
		d.log.Info("Command denied",
			"invocation_id", t.id,
			"command", t.command,
			"sender_id", msg.SenderID,
			"required", e.desc.Require.String(),
			"permission", string(caller.Permission),
		)

		t.entry = nil
		t.run = deny
		if err := d.scheduler.submit(ctx, t); err != nil {
			return OutcomeDenied, err
		}
		d.notify(msg, OutcomeDenied, t.command)
		return OutcomeDenied, nil
	}

	d.log.Debug("Command matched", "invocation_id", t.id, "command", t.command, "sender_id", msg.SenderID, "channel", msg.Channel)
	if err := d.scheduler.submit(ctx, t); err != nil {
		return OutcomeScheduled, err
	}
	d.notify(msg, OutcomeScheduled, t.command)

	return OutcomeScheduled, nil
}

func (d *Dispatcher) dispatchAmbient(ctx context.Context, msg Message) (Outcome, error) {
	handlers := d.registry.ambientHandlers()
	if len(handlers) == 0 {
		return OutcomeNoMatch, nil
	}

	caller := Caller{SenderID: strings.TrimSpace(msg.SenderID), Permission: PermissionNormal}
	for _, handler := range handlers {
		t := &task{
			id:        uuid.NewString(),
			command:   qualifiedName(handler.namespace, handler.handler.Name),
			msg:       msg,
			caller:    caller,
			args:      Args{raw: strings.TrimSpace(msg.Text)},
			namespace: handler.namespace,
			run:       handler.handler.Run,
			submitted: time.Now(),
		}
		if err := d.scheduler.submit(ctx, t); err != nil {
			return OutcomeAmbient, err
		}
	}
	d.notify(msg, OutcomeAmbient, "")

	return OutcomeAmbient, nil
}

func (d *Dispatcher) notify(msg Message, outcome Outcome, command string) {
	if d.observe != nil {
		d.observe(msg, outcome, command)
	}
}

// logNearMiss records the closest known prefix for an unmatched command.
func (d *Dispatcher) logNearMiss(msg Message, text string) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return
	}

	best := ""
	bestDistance := nearMissDistance + 1
	for _, prefix := range d.registry.prefixes() {
		n := len(strings.Fields(prefix))
		if n > len(words) {
			n = len(words)
		}
		candidate := strings.Join(words[:n], " ")

		if distance := levenshtein.ComputeDistance(candidate, prefix); distance < bestDistance {
			best = prefix
			bestDistance = distance
		}
	}

	if best == "" {
		d.log.Debug("No command matched", "sender_id", msg.SenderID, "channel", msg.Channel)
		return
	}

	d.log.Debug("No command matched", "sender_id", msg.SenderID, "channel", msg.Channel, "closest", best, "distance", bestDistance)
}

func deny(inv *Invocation) error {
	return inv.Reply(DeniedReply)
}
