package engine

import (
	"context"
	"log/slog"
	"strings"
)

// PermissionResolver looks up the live permission level of a sender.
type PermissionResolver interface {
	ResolvePermission(ctx context.Context, senderID string) (Permission, error)
}

// PermissionResolverFunc adapts a function to PermissionResolver.
type PermissionResolverFunc func(ctx context.Context, senderID string) (Permission, error)

func (f PermissionResolverFunc) ResolvePermission(ctx context.Context, senderID string) (Permission, error) {
	return f(ctx, senderID)
}

// Gate decides whether a caller may run a descriptor.
type Gate struct {
	roster PermissionResolver
	log    *slog.Logger
}

// NewGate builds a gate over the given roster. A nil roster resolves
// everybody to the normal level.
func NewGate(roster PermissionResolver, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}

	return &Gate{roster: roster, log: log.With("component", "engine.gate")}
}

// Resolve reads the caller's current permission from the roster. Lookup
// failures resolve to the normal level so admin commands fail closed.
func (g *Gate) Resolve(ctx context.Context, senderID string) Caller {
	caller := Caller{SenderID: strings.TrimSpace(senderID), Permission: PermissionNormal}
	if g == nil || g.roster == nil || caller.SenderID == "" {
		return caller
	}

	permission, err := g.roster.ResolvePermission(ctx, caller.SenderID)
	if err != nil {
		g.log.Warn("Permission lookup failed", "sender_id", caller.SenderID, "error", err)
		return caller
	}
	if permission == PermissionAdmin {
		caller.Permission = PermissionAdmin
	}

	return caller
}

// Authorize reports whether caller satisfies the requirement.
func Authorize(caller Caller, required Requirement) bool {
	switch required {
	case RequireOpen:
		return true
	case RequireAdmin:
		return caller.IsAdmin()
	default:
		return false
	}
}
