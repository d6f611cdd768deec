// Package pressure scores inbound messages against a per-user leaky bucket
// and decides when a user has crossed the spam threshold.
package pressure

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"warden/internal/overrides"
)

type Config struct {
	BasePoints       float64 `yaml:"base_points"`
	AttachmentPoints float64 `yaml:"attachment_points"`
	EmbedPoints      float64 `yaml:"embed_points"`
	CharacterPoints  float64 `yaml:"character_points"`
	LinePoints       float64 `yaml:"line_points"`
	MentionPoints    float64 `yaml:"mention_points"`
	DuplicatePoints  float64 `yaml:"duplicate_points"`
	Threshold        float64 `yaml:"threshold"`
	DecayPerSecond   float64 `yaml:"decay_per_second"`
	MaxTrackedUsers  int     `yaml:"max_tracked_users"`
	StateTTLMinutes  int     `yaml:"state_ttl_minutes"`
}

// Message carries the attributes of one gateway message that scoring looks at.
// ChannelChain lists the message's channel first, then its ancestors up to and
// including the guild root.
type Message struct {
	GuildID           string
	AuthorID          string
	MessageID         string
	ChannelChain      []string
	AttachmentCount   int
	EmbedCount        int
	Content           string
	RoleMentionCount  int
	UserMentionCount  int
	IsOwner           bool
	CanManageChannels bool
	Timestamp         time.Time
}

type Verdict struct {
	Spam   bool
	Reason string
}

// PolicyResolver reports the spam filter override for a channel.
type PolicyResolver interface {
	Policy(ctx context.Context, channelID string) overrides.Option
}

type state struct {
	points        float64
	lastMessageID string
	lastContent   string
	lastAt        time.Time
}

type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	logger   *zap.Logger
	policies PolicyResolver
	states   *expirable.LRU[string, *state]
}

func NewTracker(cfg Config, policies PolicyResolver, logger *zap.Logger) *Tracker {
	capacity := cfg.MaxTrackedUsers
	if capacity <= 0 {
		capacity = 10000
	}
	ttl := time.Duration(cfg.StateTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tracker{
		cfg:      cfg,
		logger:   logger,
		policies: policies,
		states:   expirable.NewLRU[string, *state](capacity, nil, ttl),
	}
}

// CheckSpam applies the channel override walk, the exemption check and the
// additive scoring steps in their fixed order. The first step whose addition
// pushes the running total over the threshold produces the verdict.
func (t *Tracker) CheckSpam(ctx context.Context, msg Message) Verdict {
	forced := false
walk:
	for _, channelID := range msg.ChannelChain {
		switch t.policies.Policy(ctx, channelID) {
		case overrides.AlwaysFilter:
			forced = true
			break walk
		case overrides.NeverFilter:
			return Verdict{}
		}
	}

	if !forced && (msg.CanManageChannels || msg.IsOwner) {
		return Verdict{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := msg.GuildID + ":" + msg.AuthorID
	st, ok := t.states.Get(key)
	if !ok {
		st = &state{}
		t.states.Add(key, st)
	}

	if st.lastMessageID == msg.MessageID {
		return Verdict{}
	}
	st.lastMessageID = msg.MessageID

	if !st.lastAt.IsZero() {
		elapsed := msg.Timestamp.Sub(st.lastAt).Seconds()
		if elapsed > 0 {
			st.points -= t.cfg.DecayPerSecond * elapsed
			if st.points < 0 {
				st.points = 0
			}
		}
	}

	steps := []struct {
		delta  float64
		reason string
	}{
		{t.cfg.BasePoints, "sent several messages in a row."},
		{t.cfg.AttachmentPoints * float64(msg.AttachmentCount), "several attachments."},
		{t.cfg.EmbedPoints * float64(msg.EmbedCount), "several embeds."},
		{t.cfg.CharacterPoints * float64(utf8.RuneCountInString(msg.Content)), "too many characters."},
		{t.cfg.LinePoints * float64(len(strings.Split(msg.Content, "\n"))), "too many new lines."},
		{t.cfg.MentionPoints * float64(msg.RoleMentionCount+msg.UserMentionCount), "too many pings."},
	}
	for _, step := range steps {
		st.points += step.delta
		if st.points > t.cfg.Threshold {
			t.logSpam(msg, st.points, step.reason)
			return Verdict{Spam: true, Reason: step.reason}
		}
	}

	if msg.Content != "" && msg.Content == st.lastContent {
		st.points += t.cfg.DuplicatePoints
		if st.points > t.cfg.Threshold {
			t.logSpam(msg, st.points, "too many duplicate messages.")
			return Verdict{Spam: true, Reason: "too many duplicate messages."}
		}
	}

	st.lastContent = msg.Content
	st.lastAt = msg.Timestamp
	return Verdict{}
}

// TrackedUsers reports how many users currently hold pressure state.
func (t *Tracker) TrackedUsers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states.Len()
}

func (t *Tracker) logSpam(msg Message, points float64, reason string) {
	t.logger.Info("spam threshold crossed",
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", msg.AuthorID),
		zap.Float64("points", points),
		zap.String("reason", reason),
	)
}
