// Package engine routes chat messages to plugin command handlers and drives
// those handlers as cooperative, suspendable units of work.
//
// A handler is an ordinary Go function that receives an *Invocation. Every
// method on the invocation that talks to the outside world (Reply, Typing,
// Sleep, Delegate, Terminate, Await) is a suspension point: the handler
// parks, the Scheduler performs the side effect, and the handler resumes with
// the result. Only one handler step executes at any instant.
package engine

import (
	"context"
	"strings"
	"time"
)

// Message is one inbound chat message as seen by the engine.
type Message struct {
	ID         string
	SenderID   string
	SenderName string
	Channel    string
	ChatID     string
	ChatName   string
	Text       string
	At         time.Time
}

// Destination returns where replies to this message are delivered.
func (m Message) Destination() Destination {
	return Destination{Channel: m.Channel, ChatID: m.ChatID}
}

// Destination addresses one chat on one transport.
type Destination struct {
	Channel string
	ChatID  string
}

// Permission is the resolved permission level of a caller.
type Permission string

const (
	PermissionNormal Permission = "normal"
	PermissionAdmin  Permission = "admin"
)

// ParsePermission normalizes user input into a known permission level.
func ParsePermission(input string) (Permission, bool) {
	switch Permission(strings.ToLower(strings.TrimSpace(input))) {
	case PermissionNormal:
		return PermissionNormal, true
	case PermissionAdmin:
		return PermissionAdmin, true
	default:
		return "", false
	}
}

// Requirement is the level a descriptor statically demands of its caller.
type Requirement int

const (
	RequireOpen Requirement = iota
	RequireAdmin
)

func (r Requirement) String() string {
	switch r {
	case RequireOpen:
		return "open"
	case RequireAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Caller is the sender of a message plus its freshly resolved permission.
type Caller struct {
	SenderID   string
	Permission Permission
}

// IsAdmin reports whether the caller resolved to the admin level.
func (c Caller) IsAdmin() bool {
	return c.Permission == PermissionAdmin
}

// HandlerFunc is the body of a command or ambient handler.
type HandlerFunc func(inv *Invocation) error

// Descriptor declares one command handler inside a plugin namespace.
type Descriptor struct {
	// Name identifies the handler for delegation. Unique within a namespace.
	Name string
	// Prefix is the command text after the marker, e.g. "git checkout".
	// Defaults to Name with underscores replaced by spaces.
	Prefix string
	// Pattern optionally parses the text following the prefix. Named groups
	// become Args values. It always has to consume the whole trailing text.
	Pattern string
	Require Requirement
	Help    string
	Run     HandlerFunc
}

func (d Descriptor) prefix() string {
	if p := strings.TrimSpace(d.Prefix); p != "" {
		return p
	}

	return strings.ReplaceAll(strings.TrimSpace(d.Name), "_", " ")
}

// Ambient is a non-command handler that sees every ordinary message.
type Ambient struct {
	Name string
	Run  HandlerFunc
}

// Plugin groups handlers under one namespace.
type Plugin interface {
	Name() string
	Commands() []Descriptor
}

// AmbientPlugin is implemented by plugins that also react to plain messages.
type AmbientPlugin interface {
	Plugin
	Ambient() []Ambient
}

// Args are the parsed arguments of a command invocation.
type Args struct {
	raw   string
	named map[string]string
}

// NewArgs builds an argument bundle. Mostly useful in tests.
func NewArgs(raw string, named map[string]string) Args {
	copied := make(map[string]string, len(named))
	for key, value := range named {
		copied[key] = value
	}

	return Args{raw: raw, named: copied}
}

// Raw returns the trailing text after the command prefix, verbatim.
func (a Args) Raw() string {
	return a.raw
}

// Get returns the value captured by the named pattern group.
func (a Args) Get(name string) string {
	return a.named[name]
}

// Transport delivers the engine's outbound side effects.
type Transport interface {
	SendReply(ctx context.Context, dst Destination, text string) error
	SendTyping(ctx context.Context, dst Destination) error
}
