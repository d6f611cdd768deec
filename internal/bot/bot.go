package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warden/internal/analytics"
	"warden/internal/config"
	"warden/internal/invites"
	"warden/internal/metrics"
	"warden/internal/modules/audit"
	"warden/internal/mute"
	"warden/internal/overrides"
	"warden/internal/pressure"
	"warden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	tracker   *pressure.Tracker
	overrides *overrides.Cache
	escalator *mute.Escalator
	scheduler *mute.Scheduler
	invites   *invites.Reconciler
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, tracker *pressure.Tracker, overrideCache *overrides.Cache, escalator *mute.Escalator, scheduler *mute.Scheduler, reconciler *invites.Reconciler, auditLogger *audit.Logger, analyticsEngine *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildInvites |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		tracker:   tracker,
		overrides: overrideCache,
		escalator: escalator,
		scheduler: scheduler,
		invites:   reconciler,
		audit:     auditLogger,
		analytics: analyticsEngine,
		session:   session,
	}

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onInviteCreate)
	b.session.AddHandler(b.onInviteDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.resumeActiveMutes()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Guild.ID == "" {
		return
	}
	b.syncGuildInvites(event.Guild.ID)
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	ctx := context.Background()
	check := pressure.Message{
		GuildID:          msg.GuildID,
		AuthorID:         msg.Author.ID,
		MessageID:        msg.ID,
		ChannelChain:     b.channelChain(msg.ChannelID, msg.GuildID),
		AttachmentCount:  len(msg.Attachments),
		EmbedCount:       len(msg.Embeds),
		Content:          msg.Content,
		RoleMentionCount: len(msg.MentionRoles),
		UserMentionCount: len(msg.Mentions),
		Timestamp:        msg.Timestamp,
	}
	if check.Timestamp.IsZero() {
		check.Timestamp = time.Now()
	}

	// Permission and ownership lookups fail open: a user we cannot resolve is
	// treated as exempt from nothing and owner of nothing.
	if perms, err := session.State.UserChannelPermissions(msg.Author.ID, msg.ChannelID); err == nil {
		check.CanManageChannels = perms&discordgo.PermissionManageChannels != 0
	}
	if guild, err := session.State.Guild(msg.GuildID); err == nil {
		check.IsOwner = guild.OwnerID == msg.Author.ID
	}

	metrics.MessagesChecked.Inc()
	verdict := b.tracker.CheckSpam(ctx, check)
	if !verdict.Spam {
		return
	}

	metrics.SpamVerdicts.WithLabelValues(verdict.Reason).Inc()
	_ = session.ChannelMessageDelete(msg.ChannelID, msg.ID)
	b.muteUser(ctx, msg.GuildID, msg.Author.ID, session.State.User.ID, "spam: "+verdict.Reason)
}

// muteUser runs the escalation, applies the mute role and arms the un-mute
// timer. Used by both the spam path and the manual /mute command.
func (b *Bot) muteUser(ctx context.Context, guildID, userID, moderatorID, reason string) (mute.Result, error) {
	result, err := b.escalator.Escalate(ctx, guildID, userID, moderatorID, reason)
	if err != nil {
		if errors.Is(err, mute.ErrNoMuteRole) {
			b.audit.Log(ctx, audit.LevelWarn, guildID, userID, "auto_mute", "mute requested but no mute role configured")
		} else {
			b.logger.Warn("mute escalation failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		}
		return mute.Result{}, err
	}

	metrics.MuteEscalations.Inc()
	if err := b.session.GuildMemberRoleAdd(guildID, userID, result.MuteRoleID); err != nil {
		b.logger.Warn("mute role add failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	}

	endsAt := time.Now().Add(result.Duration)
	infractionID := result.InfractionID
	roleID := result.MuteRoleID
	b.scheduler.Schedule(infractionID, endsAt, func() {
		b.finishMute(guildID, userID, roleID, infractionID)
	})

	b.audit.Log(ctx, audit.LevelWarn, guildID, userID, "auto_mute", fmt.Sprintf("reason=%s duration=%s", reason, result.Duration))
	return result, nil
}

func (b *Bot) finishMute(guildID, userID, roleID string, infractionID int64) {
	ctx := context.Background()
	if err := b.session.GuildMemberRoleRemove(guildID, userID, roleID); err != nil {
		b.logger.Warn("mute role remove failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	}
	if err := b.store.DeactivateInfraction(ctx, infractionID); err != nil {
		b.logger.Warn("infraction deactivate failed", zap.Int64("infraction_id", infractionID), zap.Error(err))
	}
	b.audit.Log(ctx, audit.LevelInfo, guildID, userID, "auto_mute", "mute expired")
}

// resumeActiveMutes re-arms un-mute timers for mutes that were active when the
// process last stopped.
func (b *Bot) resumeActiveMutes() {
	ctx := context.Background()
	mutes, err := b.store.ListActiveMutes(ctx)
	if err != nil {
		b.logger.Warn("active mute resume failed", zap.Error(err))
		return
	}
	for _, inf := range mutes {
		role, err := b.store.MuteRole(ctx, inf.GuildID)
		if err != nil || role == "" {
			continue
		}
		infraction := inf
		b.scheduler.Schedule(infraction.ID, infraction.EndsAt, func() {
			b.finishMute(infraction.GuildID, infraction.UserID, role, infraction.ID)
		})
	}
	if len(mutes) > 0 {
		b.logger.Info("active mutes resumed", zap.Int("count", len(mutes)))
	}
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}

	ctx := context.Background()
	polled, err := session.GuildInvites(event.GuildID)
	if err != nil {
		b.logger.Warn("invite poll failed", zap.String("guild_id", event.GuildID), zap.Error(err))
		return
	}
	current := toInvites(polled)

	used, err := b.invites.CalculateInviteUsed(event.GuildID, current)
	if err != nil {
		if errors.Is(err, invites.ErrUnknownGuild) {
			b.invites.UpdateGuildInvites(event.GuildID, current)
			metrics.InviteAttributions.WithLabelValues("unseeded").Inc()
			return
		}
		b.logger.Error("invite reconciliation failed", zap.String("guild_id", event.GuildID), zap.Error(err))
		b.audit.Log(ctx, audit.LevelCrit, event.GuildID, event.User.ID, "invite_used", "invite cache inconsistent: "+err.Error())
		return
	}

	if used == nil {
		metrics.InviteAttributions.WithLabelValues("unknown").Inc()
		b.audit.Log(ctx, audit.LevelInfo, event.GuildID, event.User.ID, "invite_used", "joined via unknown or vanity invite")
		return
	}

	metrics.InviteAttributions.WithLabelValues("attributed").Inc()
	b.audit.Log(ctx, audit.LevelInfo, event.GuildID, event.User.ID, "invite_used", fmt.Sprintf("code=%s inviter=%s uses=%d", used.Code, used.Inviter, used.Uses))
}

func (b *Bot) onInviteCreate(session *discordgo.Session, event *discordgo.InviteCreate) {
	if event.GuildID == "" {
		return
	}
	invite := invites.Invite{
		Code:    event.Code,
		URL:     inviteURL(event.Code),
		Uses:    event.Uses,
		MaxUses: event.MaxUses,
	}
	if event.Inviter != nil {
		invite.Inviter = event.Inviter.Username
	}
	if err := b.invites.UpdateInvite(event.GuildID, invite); err != nil {
		b.syncGuildInvites(event.GuildID)
	}
}

func (b *Bot) onInviteDelete(session *discordgo.Session, event *discordgo.InviteDelete) {
	if event.GuildID == "" {
		return
	}
	if err := b.invites.DeleteInvite(event.GuildID, event.Code); err != nil {
		b.syncGuildInvites(event.GuildID)
	}
}

func (b *Bot) syncGuildInvites(guildID string) {
	polled, err := b.session.GuildInvites(guildID)
	if err != nil {
		b.logger.Warn("invite sync failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	b.invites.UpdateGuildInvites(guildID, toInvites(polled))
	b.logger.Debug("invite snapshot seeded", zap.String("guild_id", guildID), zap.Int("count", len(polled)))
}

// channelChain walks from the message's channel through its parents up to the
// guild root. Thread and category nesting is shallow; the depth cap only
// guards against a corrupt state cache.
func (b *Bot) channelChain(channelID, guildID string) []string {
	chain := make([]string, 0, 4)
	id := channelID
	for i := 0; i < 8 && id != ""; i++ {
		chain = append(chain, id)
		channel, err := b.session.State.Channel(id)
		if err != nil {
			break
		}
		id = channel.ParentID
	}
	return append(chain, guildID)
}

func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	settings, err := b.store.GetGuildSettings(ctx, entry.GuildID)
	if err != nil || settings.LogChannelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       entry.Event,
		Description: entry.Details,
		Color:       auditColor(entry.Level),
		Timestamp:   entry.CreatedAt.Format(time.RFC3339),
	}
	if entry.UserID != "" {
		embed.Fields = []*discordgo.MessageEmbedField{{Name: "User", Value: "<@" + entry.UserID + ">", Inline: true}}
	}
	if _, err := b.session.ChannelMessageSendEmbed(settings.LogChannelID, embed); err != nil {
		b.logger.Debug("audit notify failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
	}
}

func auditColor(level string) int {
	switch level {
	case audit.LevelCrit:
		return 0xEF4444
	case audit.LevelWarn:
		return 0xF59E0B
	default:
		return 0x3B82F6
	}
}

func toInvites(list []*discordgo.Invite) []invites.Invite {
	out := make([]invites.Invite, 0, len(list))
	for _, inv := range list {
		if inv == nil {
			continue
		}
		entry := invites.Invite{
			Code:    inv.Code,
			URL:     inviteURL(inv.Code),
			Uses:    inv.Uses,
			MaxUses: inv.MaxUses,
		}
		if inv.Inviter != nil {
			entry.Inviter = inv.Inviter.Username
		}
		out = append(out, entry)
	}
	return out
}

func inviteURL(code string) string {
	return "https://discord.gg/" + code
}
