package pressure

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"warden/internal/overrides"

	"go.uber.org/zap"
)

type stubPolicies map[string]overrides.Option

func (s stubPolicies) Policy(ctx context.Context, channelID string) overrides.Option {
	return s[channelID]
}

func testConfig() Config {
	return Config{
		BasePoints:       10,
		AttachmentPoints: 4.15,
		EmbedPoints:      4.15,
		CharacterPoints:  0.00625,
		LinePoints:       0.714,
		MentionPoints:    2.5,
		DuplicatePoints:  10,
		Threshold:        60,
		DecayPerSecond:   2,
		MaxTrackedUsers:  100,
		StateTTLMinutes:  60,
	}
}

func newTestTracker(policies PolicyResolver) *Tracker {
	if policies == nil {
		policies = stubPolicies{}
	}
	return NewTracker(testConfig(), policies, zap.NewNop())
}

func baseMessage(id string, at time.Time) Message {
	return Message{
		GuildID:      "g1",
		AuthorID:     "u1",
		MessageID:    id,
		ChannelChain: []string{"c1", "g1"},
		Timestamp:    at,
	}
}

func TestBurstCrossesThreshold(t *testing.T) {
	tracker := newTestTracker(nil)
	at := time.Unix(1000, 0)

	// Empty messages are worth 10.714 points each; the sixth crosses 60.
	for i := 0; i < 5; i++ {
		verdict := tracker.CheckSpam(context.Background(), baseMessage(fmt.Sprintf("%d", i), at))
		if verdict.Spam {
			t.Fatalf("message %d unexpectedly spam: %s", i, verdict.Reason)
		}
	}

	verdict := tracker.CheckSpam(context.Background(), baseMessage("5", at))
	if !verdict.Spam {
		t.Fatalf("expected spam verdict on sixth message")
	}
	if verdict.Reason != "sent several messages in a row." {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}
}

func TestDecayClearsPressure(t *testing.T) {
	tracker := newTestTracker(nil)
	at := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		tracker.CheckSpam(context.Background(), baseMessage(fmt.Sprintf("%d", i), at))
	}

	// 30 seconds of silence decays 60 points, more than was accumulated.
	verdict := tracker.CheckSpam(context.Background(), baseMessage("5", at.Add(30*time.Second)))
	if verdict.Spam {
		t.Fatalf("expected decay to absorb the burst, got %q", verdict.Reason)
	}
}

func TestThresholdOrderDeterminism(t *testing.T) {
	tracker := newTestTracker(nil)

	// flat 10, attachments 20.75, embeds 20.75 leave 51.5; the character step
	// adds 12.5 and must be the one reported.
	msg := baseMessage("1", time.Unix(1000, 0))
	msg.AttachmentCount = 5
	msg.EmbedCount = 5
	msg.Content = strings.Repeat("a", 2000)

	verdict := tracker.CheckSpam(context.Background(), msg)
	if !verdict.Spam {
		t.Fatalf("expected spam verdict")
	}
	if verdict.Reason != "too many characters." {
		t.Fatalf("expected character reason, got %q", verdict.Reason)
	}
}

func TestMentionFlood(t *testing.T) {
	tracker := newTestTracker(nil)

	msg := baseMessage("1", time.Unix(1000, 0))
	msg.Content = "ping"
	msg.UserMentionCount = 15
	msg.RoleMentionCount = 6

	verdict := tracker.CheckSpam(context.Background(), msg)
	if !verdict.Spam || verdict.Reason != "too many pings." {
		t.Fatalf("expected ping reason, got spam=%v reason=%q", verdict.Spam, verdict.Reason)
	}
}

func TestNewlineFlood(t *testing.T) {
	tracker := newTestTracker(nil)

	msg := baseMessage("1", time.Unix(1000, 0))
	msg.Content = strings.Repeat("\n", 80)

	verdict := tracker.CheckSpam(context.Background(), msg)
	if !verdict.Spam || verdict.Reason != "too many new lines." {
		t.Fatalf("expected newline reason, got spam=%v reason=%q", verdict.Spam, verdict.Reason)
	}
}

func TestDuplicateContent(t *testing.T) {
	tracker := newTestTracker(nil)
	at := time.Unix(1000, 0)

	// 7500 characters score 57.589 with the flat and line costs, just under
	// the threshold. Repeating the message after full decay lands at the same
	// running total, so only the duplicate penalty can push it over.
	content := strings.Repeat("a", 7500)

	first := baseMessage("1", at)
	first.Content = content
	if verdict := tracker.CheckSpam(context.Background(), first); verdict.Spam {
		t.Fatalf("first message unexpectedly spam: %s", verdict.Reason)
	}

	second := baseMessage("2", at.Add(30*time.Second))
	second.Content = content
	verdict := tracker.CheckSpam(context.Background(), second)
	if !verdict.Spam {
		t.Fatalf("expected spam verdict")
	}
	if verdict.Reason != "too many duplicate messages." {
		t.Fatalf("expected duplicate reason, got %q", verdict.Reason)
	}
}

func TestDuplicateEventIgnored(t *testing.T) {
	tracker := newTestTracker(nil)
	at := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		tracker.CheckSpam(context.Background(), baseMessage(fmt.Sprintf("%d", i), at))
	}

	// Redelivery of the last event must not score again.
	if verdict := tracker.CheckSpam(context.Background(), baseMessage("4", at)); verdict.Spam {
		t.Fatalf("redelivered event scored: %s", verdict.Reason)
	}
	if verdict := tracker.CheckSpam(context.Background(), baseMessage("5", at)); !verdict.Spam {
		t.Fatalf("expected fresh sixth message to cross the threshold")
	}
}

func TestNeverFilterBypassesScoring(t *testing.T) {
	tracker := newTestTracker(stubPolicies{"c1": overrides.NeverFilter})

	msg := baseMessage("1", time.Unix(1000, 0))
	msg.UserMentionCount = 100

	if verdict := tracker.CheckSpam(context.Background(), msg); verdict.Spam {
		t.Fatalf("never-filter channel produced a verdict: %s", verdict.Reason)
	}
}

func TestParentOverrideApplies(t *testing.T) {
	tracker := newTestTracker(stubPolicies{"parent": overrides.NeverFilter})

	msg := baseMessage("1", time.Unix(1000, 0))
	msg.ChannelChain = []string{"c1", "parent", "g1"}
	msg.UserMentionCount = 100

	if verdict := tracker.CheckSpam(context.Background(), msg); verdict.Spam {
		t.Fatalf("parent never-filter ignored: %s", verdict.Reason)
	}
}

func TestChildOverrideWinsOverParent(t *testing.T) {
	tracker := newTestTracker(stubPolicies{"c1": overrides.AlwaysFilter, "parent": overrides.NeverFilter})

	msg := baseMessage("1", time.Unix(1000, 0))
	msg.ChannelChain = []string{"c1", "parent", "g1"}
	msg.UserMentionCount = 100

	if verdict := tracker.CheckSpam(context.Background(), msg); !verdict.Spam {
		t.Fatalf("child always-filter should win over parent never-filter")
	}
}

func TestOwnerExemptByDefault(t *testing.T) {
	tracker := newTestTracker(nil)

	msg := baseMessage("1", time.Unix(1000, 0))
	msg.IsOwner = true
	msg.UserMentionCount = 100

	if verdict := tracker.CheckSpam(context.Background(), msg); verdict.Spam {
		t.Fatalf("owner should be exempt in default channels")
	}
}

func TestAlwaysFilterSkipsExemption(t *testing.T) {
	tracker := newTestTracker(stubPolicies{"c1": overrides.AlwaysFilter})

	msg := baseMessage("1", time.Unix(1000, 0))
	msg.IsOwner = true
	msg.CanManageChannels = true
	msg.UserMentionCount = 100

	if verdict := tracker.CheckSpam(context.Background(), msg); !verdict.Spam {
		t.Fatalf("always-filter channel must score even exempt users")
	}
}

func TestAlwaysFilterDoesNotAutoConvict(t *testing.T) {
	tracker := newTestTracker(stubPolicies{"c1": overrides.AlwaysFilter})

	msg := baseMessage("1", time.Unix(1000, 0))
	msg.Content = "hello"

	if verdict := tracker.CheckSpam(context.Background(), msg); verdict.Spam {
		t.Fatalf("a single harmless message should not be spam under always-filter")
	}
}

func TestTrackedUsersBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTrackedUsers = 10
	tracker := NewTracker(cfg, stubPolicies{}, zap.NewNop())

	at := time.Unix(1000, 0)
	for i := 0; i < 50; i++ {
		msg := baseMessage("1", at)
		msg.AuthorID = fmt.Sprintf("u%d", i)
		tracker.CheckSpam(context.Background(), msg)
	}

	if got := tracker.TrackedUsers(); got > 10 {
		t.Fatalf("expected at most 10 tracked users, got %d", got)
	}
}
