package invites

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func newTestReconciler() *Reconciler {
	return NewReconciler(zap.NewNop())
}

func TestAttributeGrownInvite(t *testing.T) {
	r := newTestReconciler()
	r.UpdateGuildInvites("g1", []Invite{
		{Code: "aaa", Inviter: "u1", Uses: 2},
		{Code: "bbb", Inviter: "u2", Uses: 5},
	})

	used, err := r.CalculateInviteUsed("g1", []Invite{
		{Code: "aaa", Inviter: "u1", Uses: 3},
		{Code: "bbb", Inviter: "u2", Uses: 5},
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if used == nil || used.Code != "aaa" || used.Uses != 3 {
		t.Fatalf("expected aaa with 3 uses, got %+v", used)
	}

	// The snapshot advanced, so the same poll attributes nothing further.
	again, err := r.CalculateInviteUsed("g1", []Invite{
		{Code: "aaa", Inviter: "u1", Uses: 3},
		{Code: "bbb", Inviter: "u2", Uses: 5},
	})
	if err != nil || again != nil {
		t.Fatalf("expected no attribution on repeat poll, got %+v, %v", again, err)
	}
}

func TestAttributeNewInvite(t *testing.T) {
	r := newTestReconciler()
	r.UpdateGuildInvites("g1", []Invite{{Code: "aaa", Inviter: "u1", Uses: 2}})

	used, err := r.CalculateInviteUsed("g1", []Invite{
		{Code: "aaa", Inviter: "u1", Uses: 2},
		{Code: "new", Inviter: "u3", Uses: 1},
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if used == nil || used.Code != "new" {
		t.Fatalf("expected the unseen invite, got %+v", used)
	}
}

func TestAttributeExhaustedInvite(t *testing.T) {
	r := newTestReconciler()
	r.UpdateGuildInvites("g1", []Invite{
		{Code: "aaa", Inviter: "u1", Uses: 4, MaxUses: 5},
		{Code: "bbb", Inviter: "u2", Uses: 1, MaxUses: 0},
	})

	// Discord removed the invite on its final use before the poll saw it.
	used, err := r.CalculateInviteUsed("g1", []Invite{
		{Code: "bbb", Inviter: "u2", Uses: 1, MaxUses: 0},
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if used == nil || used.Code != "aaa" {
		t.Fatalf("expected the exhausted invite, got %+v", used)
	}
	if used.Uses != 5 {
		t.Fatalf("expected the final use counted, got %d", used.Uses)
	}

	remaining, err := r.GuildInvites("g1")
	if err != nil {
		t.Fatalf("guild invites: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Code != "bbb" {
		t.Fatalf("exhausted invite not removed from snapshot: %+v", remaining)
	}
}

func TestVanishedInviteNotExhausted(t *testing.T) {
	r := newTestReconciler()
	r.UpdateGuildInvites("g1", []Invite{{Code: "aaa", Inviter: "u1", Uses: 4, MaxUses: 10}})

	// An invite that disappeared without being maxed out was revoked, not used.
	used, err := r.CalculateInviteUsed("g1", nil)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if used != nil {
		t.Fatalf("expected no attribution, got %+v", used)
	}
}

func TestUnknownGuild(t *testing.T) {
	r := newTestReconciler()

	if _, err := r.CalculateInviteUsed("g1", nil); !errors.Is(err, ErrUnknownGuild) {
		t.Fatalf("expected ErrUnknownGuild, got %v", err)
	}
	if err := r.UpdateInvite("g1", Invite{Code: "aaa"}); !errors.Is(err, ErrUnknownGuild) {
		t.Fatalf("expected ErrUnknownGuild from UpdateInvite, got %v", err)
	}
	if err := r.DeleteInvite("g1", "aaa"); !errors.Is(err, ErrUnknownGuild) {
		t.Fatalf("expected ErrUnknownGuild from DeleteInvite, got %v", err)
	}
	if _, err := r.GuildInvites("g1"); !errors.Is(err, ErrUnknownGuild) {
		t.Fatalf("expected ErrUnknownGuild from GuildInvites, got %v", err)
	}
}

func TestUpdateAndDeleteInvite(t *testing.T) {
	r := newTestReconciler()
	r.UpdateGuildInvites("g1", []Invite{{Code: "aaa", Uses: 1}})

	if err := r.UpdateInvite("g1", Invite{Code: "bbb", Inviter: "u2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.UpdateInvite("g1", Invite{Code: "aaa", Uses: 2}); err != nil {
		t.Fatalf("update existing: %v", err)
	}
	if err := r.DeleteInvite("g1", "bbb"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting a code the snapshot never saw is tolerated.
	if err := r.DeleteInvite("g1", "ghost"); err != nil {
		t.Fatalf("delete unseen code: %v", err)
	}

	invites, err := r.GuildInvites("g1")
	if err != nil {
		t.Fatalf("guild invites: %v", err)
	}
	if len(invites) != 1 || invites[0].Code != "aaa" || invites[0].Uses != 2 {
		t.Fatalf("unexpected snapshot: %+v", invites)
	}
}

func TestUpdateAllInvitesReplacesCache(t *testing.T) {
	r := newTestReconciler()
	r.UpdateGuildInvites("g1", []Invite{{Code: "aaa"}})
	r.UpdateGuildInvites("g2", []Invite{{Code: "bbb"}})

	r.UpdateAllInvites(map[string][]Invite{
		"g2": {{Code: "ccc", Uses: 1}},
	})

	if _, err := r.GuildInvites("g1"); !errors.Is(err, ErrUnknownGuild) {
		t.Fatalf("expected g1 dropped, got %v", err)
	}
	invites, err := r.GuildInvites("g2")
	if err != nil || len(invites) != 1 || invites[0].Code != "ccc" {
		t.Fatalf("unexpected g2 snapshot: %+v, %v", invites, err)
	}
}

func TestGuildInvitesOrder(t *testing.T) {
	r := newTestReconciler()
	r.UpdateGuildInvites("g1", []Invite{{Code: "c"}, {Code: "a"}, {Code: "b"}})

	invites, err := r.GuildInvites("g1")
	if err != nil {
		t.Fatalf("guild invites: %v", err)
	}
	want := []string{"c", "a", "b"}
	for i, code := range want {
		if invites[i].Code != code {
			t.Fatalf("expected order %v, got %+v", want, invites)
		}
	}
}
