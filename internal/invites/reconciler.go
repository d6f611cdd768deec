// Package invites tracks per-guild invite snapshots and attributes member
// joins to the invite whose use count moved since the last poll.
package invites

import (
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// ErrUnknownGuild is returned when an operation targets a guild that was never
// seeded into the cache.
var ErrUnknownGuild = errors.New("invites: guild not tracked")

type Invite struct {
	Code    string
	Inviter string
	URL     string
	Uses    int
	MaxUses int
}

// snapshot holds one guild's known invites. codes preserves insertion order so
// the consumption scan visits entries deterministically.
type snapshot struct {
	mu     sync.Mutex
	byCode map[string]Invite
	codes  []string
}

func newSnapshot(invites []Invite) *snapshot {
	s := &snapshot{byCode: make(map[string]Invite, len(invites))}
	for _, invite := range invites {
		s.set(invite)
	}
	return s
}

// set upserts an invite, appending to the order on first sight. Caller holds mu
// except during construction.
func (s *snapshot) set(invite Invite) {
	if _, ok := s.byCode[invite.Code]; !ok {
		s.codes = append(s.codes, invite.Code)
	}
	s.byCode[invite.Code] = invite
}

func (s *snapshot) remove(code string) bool {
	if _, ok := s.byCode[code]; !ok {
		return false
	}
	delete(s.byCode, code)
	for i, c := range s.codes {
		if c == code {
			s.codes = append(s.codes[:i], s.codes[i+1:]...)
			break
		}
	}
	return true
}

type Reconciler struct {
	logger *zap.Logger
	guilds *xsync.MapOf[string, *snapshot]
}

func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{
		logger: logger,
		guilds: xsync.NewMapOf[string, *snapshot](),
	}
}

// CalculateInviteUsed diffs a freshly polled invite list against the guild's
// snapshot and returns the single invite that accounts for a new join, or nil
// when the join cannot be attributed (unknown or vanity invite).
//
// An invite that grew, or appeared, wins outright. Otherwise an invite that
// vanished or changed is attributed only when this use exhausted it
// (uses+1 == maxUses), covering the race where Discord deletes a maxed-out
// invite before the poll.
func (r *Reconciler) CalculateInviteUsed(guildID string, current []Invite) (*Invite, error) {
	snap, ok := r.guilds.Load(guildID)
	if !ok {
		return nil, ErrUnknownGuild
	}

	snap.mu.Lock()
	defer snap.mu.Unlock()

	for _, invite := range current {
		prev, exists := snap.byCode[invite.Code]
		if !exists || invite.Uses > prev.Uses {
			snap.set(invite)
			used := invite
			return &used, nil
		}
	}

	byCode := make(map[string]Invite, len(current))
	for _, invite := range current {
		byCode[invite.Code] = invite
	}
	for _, code := range snap.codes {
		prev := snap.byCode[code]
		cur, exists := byCode[code]
		if exists && cur.Uses == prev.Uses {
			continue
		}
		if prev.Uses+1 != prev.MaxUses {
			return nil, nil
		}
		if !snap.remove(code) {
			return nil, fmt.Errorf("invites: consumed invite %s missing from snapshot for guild %s", code, guildID)
		}
		used := prev
		used.Uses++
		return &used, nil
	}

	return nil, nil
}

// UpdateInvite upserts a single code in an already tracked guild.
func (r *Reconciler) UpdateInvite(guildID string, invite Invite) error {
	snap, ok := r.guilds.Load(guildID)
	if !ok {
		return ErrUnknownGuild
	}
	snap.mu.Lock()
	defer snap.mu.Unlock()
	snap.set(invite)
	return nil
}

// DeleteInvite removes a code from an already tracked guild. Removing a code
// the snapshot never saw is not an error; gateway deletes can arrive for
// invites created before the bot started tracking.
func (r *Reconciler) DeleteInvite(guildID, code string) error {
	snap, ok := r.guilds.Load(guildID)
	if !ok {
		return ErrUnknownGuild
	}
	snap.mu.Lock()
	defer snap.mu.Unlock()
	snap.remove(code)
	return nil
}

// UpdateGuildInvites seeds or replaces one guild's snapshot.
func (r *Reconciler) UpdateGuildInvites(guildID string, invites []Invite) {
	r.guilds.Store(guildID, newSnapshot(invites))
}

// UpdateAllInvites replaces the entire cache, dropping guilds absent from the
// argument. Used at startup sync.
func (r *Reconciler) UpdateAllInvites(all map[string][]Invite) {
	r.guilds.Clear()
	for guildID, invites := range all {
		r.guilds.Store(guildID, newSnapshot(invites))
	}
}

// GuildInvites returns a copy of the tracked snapshot for a guild in insertion
// order.
func (r *Reconciler) GuildInvites(guildID string) ([]Invite, error) {
	snap, ok := r.guilds.Load(guildID)
	if !ok {
		return nil, ErrUnknownGuild
	}
	snap.mu.Lock()
	defer snap.mu.Unlock()
	invites := make([]Invite, 0, len(snap.codes))
	for _, code := range snap.codes {
		invites = append(invites, snap.byCode[code])
	}
	return invites, nil
}
