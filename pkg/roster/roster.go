// Package roster stores who may run admin commands.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"opsbot/pkg/engine"
	"opsbot/pkg/store"
)

const (
	SourceConfig = "config"
	SourceRoster = "roster"
)

// Member is one roster entry.
type Member struct {
	SenderID   string
	Permission engine.Permission
	GrantedBy  string
	Source     string
	UpdatedAt  time.Time
}

// Store resolves permissions from the members table. Senders listed as
// static admins always resolve to admin.
type Store struct {
	db     *sql.DB
	admins map[string]struct{}
	log    *slog.Logger
}

// Open opens the roster database at path.
func Open(path string, admins []string, log *slog.Logger) (*Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	return New(db, admins, log), nil
}

// New wraps an open database.
func New(db *sql.DB, admins []string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}

	set := make(map[string]struct{}, len(admins))
	for _, id := range admins {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}

	return &Store{db: db, admins: set, log: log.With("component", "roster")}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ResolvePermission reads the sender's current level. Unknown senders are
// normal members.
func (s *Store) ResolvePermission(ctx context.Context, senderID string) (engine.Permission, error) {
	senderID = strings.TrimSpace(senderID)
	if _, ok := s.admins[senderID]; ok {
		return engine.PermissionAdmin, nil
	}

	var level string
	err := s.db.QueryRowContext(ctx, `SELECT level FROM members WHERE sender_id = ?`, senderID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.PermissionNormal, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve permission for %s: %w", senderID, err)
	}

	permission, ok := engine.ParsePermission(level)
	if !ok {
		s.log.Warn("Unknown permission level in roster", "sender_id", senderID, "level", level)
		return engine.PermissionNormal, nil
	}

	return permission, nil
}

// Grant sets the sender's level.
func (s *Store) Grant(ctx context.Context, senderID string, level engine.Permission, grantedBy string) error {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return errors.New("sender id is required")
	}
	if _, ok := engine.ParsePermission(string(level)); !ok {
		return fmt.Errorf("unknown permission level %q", level)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (sender_id, level, granted_by, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(sender_id) DO UPDATE SET
			level = excluded.level,
			granted_by = excluded.granted_by,
			updated_at = excluded.updated_at`,
		senderID, string(level), strings.TrimSpace(grantedBy),
	)
	if err != nil {
		return fmt.Errorf("grant %s to %s: %w", level, senderID, err)
	}

	s.log.Info("Permission granted", "sender_id", senderID, "level", level, "granted_by", grantedBy)
	return nil
}

// Revoke removes the sender from the roster. Static admins stay admins.
func (s *Store) Revoke(ctx context.Context, senderID string) (bool, error) {
	senderID = strings.TrimSpace(senderID)

	result, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE sender_id = ?`, senderID)
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", senderID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", senderID, err)
	}
	if affected > 0 {
		s.log.Info("Permission revoked", "sender_id", senderID)
	}

	return affected > 0, nil
}

// List returns static admins followed by stored members, each sorted by id.
func (s *Store) List(ctx context.Context) ([]Member, error) {
	members := make([]Member, 0, len(s.admins))
	for id := range s.admins {
		members = append(members, Member{SenderID: id, Permission: engine.PermissionAdmin, Source: SourceConfig})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].SenderID < members[j].SenderID })

	rows, err := s.db.QueryContext(ctx, `SELECT sender_id, level, granted_by, updated_at FROM members ORDER BY sender_id`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			member Member
			level  string
		)
		if err := rows.Scan(&member.SenderID, &level, &member.GrantedBy, &member.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.Permission, _ = engine.ParsePermission(level)
		member.Source = SourceRoster
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	return members, nil
}
