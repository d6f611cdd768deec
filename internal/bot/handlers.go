package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/internal/invites"
	"warden/internal/modules/audit"
	"warden/internal/mute"
	"warden/internal/overrides"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorAction  = 0xF59E0B
	colorWarning = 0xEF4444
	colorInfo    = 0x3B82F6
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Warden", "This command only works in a server.", colorWarning, nil), true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "spamfilter":
		b.handleSpamFilter(ctx, session, interaction, data.Options)
	case "muterole":
		b.handleMuteRole(ctx, session, interaction, data.Options)
	case "mute":
		b.handleMute(ctx, session, interaction, data.Options)
	case "invites":
		b.handleInvites(ctx, session, interaction)
	case "logchannel":
		b.handleLogChannel(ctx, session, interaction, data.Options)
	case "report":
		b.handleReport(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) handleSpamFilter(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Missing action.", colorWarning, nil), true)
		return
	}

	action := options[0].StringValue()
	channelID := interaction.ChannelID
	mode := ""
	for _, opt := range options[1:] {
		switch opt.Name {
		case "channel":
			if channel := opt.ChannelValue(session); channel != nil {
				channelID = channel.ID
			}
		case "mode":
			mode = opt.StringValue()
		}
	}

	switch action {
	case "set":
		option, err := overrides.ParseOption(mode)
		if err != nil || option == overrides.Default {
			b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Pick a mode: always filter or never filter.", colorWarning, nil), true)
			return
		}
		if err := b.overrides.Set(ctx, channelID, interaction.GuildID, option); err != nil {
			b.logger.Warn("override set failed", zap.String("channel_id", channelID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Saving the override failed.", colorWarning, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, "", "spam_override", fmt.Sprintf("channel=%s option=%s", channelID, option))
		fields := []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: "<#" + channelID + ">", Inline: true},
			{Name: "Mode", Value: option.String(), Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Override saved.", colorAction, fields), true)
	case "clear":
		if err := b.overrides.Remove(ctx, channelID); err != nil {
			b.logger.Warn("override clear failed", zap.String("channel_id", channelID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Clearing the override failed.", colorWarning, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, "", "spam_override", fmt.Sprintf("channel=%s option=default", channelID))
		fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: "<#" + channelID + ">", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Override cleared.", colorAction, fields), true)
	case "show":
		stored, err := b.store.ListSpamOverrides(ctx, interaction.GuildID)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Listing overrides failed.", colorWarning, nil), true)
			return
		}
		if len(stored) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "No overrides set; every channel uses the default filter.", colorInfo, nil), true)
			return
		}
		lines := make([]string, 0, len(stored))
		for id, option := range stored {
			lines = append(lines, fmt.Sprintf("<#%s> — %s", id, option))
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Overrides", Value: strings.Join(lines, "\n"), Inline: false}}
		b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Current overrides.", colorInfo, fields), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Spam filter", "Unknown action.", colorWarning, nil), true)
	}
}

func (b *Bot) handleMuteRole(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Mute role", "Missing action.", colorWarning, nil), true)
		return
	}

	settings, err := b.store.GetGuildSettings(ctx, interaction.GuildID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Mute role", "Loading settings failed.", colorWarning, nil), true)
		return
	}

	action := options[0].StringValue()
	switch action {
	case "show":
		value := "not set"
		if settings.MuteRoleID != "" {
			value = "<@&" + settings.MuteRoleID + ">"
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Role", Value: value, Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Mute role", "Current mute role.", colorInfo, fields), true)
	case "set":
		var roleID string
		for _, opt := range options[1:] {
			if opt.Name == "role" && opt.Type == discordgo.ApplicationCommandOptionRole {
				if role := opt.RoleValue(session, interaction.GuildID); role != nil {
					roleID = role.ID
				}
			}
		}
		if roleID == "" {
			b.respondEmbed(session, interaction, b.commandEmbed("Mute role", "Pick a role to use for mutes.", colorWarning, nil), true)
			return
		}
		settings.MuteRoleID = roleID
		if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
			b.logger.Warn("mute role update failed", zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Mute role", "Saving the role failed.", colorWarning, nil), true)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Role", Value: "<@&" + roleID + ">", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Mute role", "Mute role updated.", colorAction, fields), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Mute role", "Unknown action.", colorWarning, nil), true)
	}
}

func (b *Bot) handleMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if interaction.Member == nil || interaction.Member.User == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Mute", "Could not resolve the moderator.", colorWarning, nil), true)
		return
	}

	var userID string
	reason := "manual mute"
	for _, opt := range options {
		switch opt.Name {
		case "user":
			if user := opt.UserValue(session); user != nil {
				userID = user.ID
			}
		case "reason":
			if opt.StringValue() != "" {
				reason = opt.StringValue()
			}
		}
	}
	if userID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Mute", "Pick a member to mute.", colorWarning, nil), true)
		return
	}

	result, err := b.muteUser(ctx, interaction.GuildID, userID, interaction.Member.User.ID, reason)
	if err != nil {
		if errors.Is(err, mute.ErrNoMuteRole) {
			b.respondEmbed(session, interaction, b.commandEmbed("Mute", "Set a mute role with /muterole first.", colorWarning, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Mute", "Muting failed.", colorWarning, nil), true)
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: "<@" + userID + ">", Inline: true},
		{Name: "Duration", Value: result.Duration.String(), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Mute", "Member muted.", colorAction, fields), true)
}

func (b *Bot) handleInvites(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	_ = ctx
	tracked, err := b.invites.GuildInvites(interaction.GuildID)
	if errors.Is(err, invites.ErrUnknownGuild) {
		b.syncGuildInvites(interaction.GuildID)
		tracked, err = b.invites.GuildInvites(interaction.GuildID)
	}
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Invites", "Invite tracking is not available for this server.", colorWarning, nil), true)
		return
	}
	if len(tracked) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Invites", "No invites tracked.", colorInfo, nil), true)
		return
	}

	lines := make([]string, 0, len(tracked))
	for _, invite := range tracked {
		limit := "∞"
		if invite.MaxUses > 0 {
			limit = fmt.Sprintf("%d", invite.MaxUses)
		}
		lines = append(lines, fmt.Sprintf("`%s` by %s — %d/%s uses", invite.Code, invite.Inviter, invite.Uses, limit))
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Tracked", Value: strings.Join(lines, "\n"), Inline: false}}
	b.respondEmbed(session, interaction, b.commandEmbed("Invites", "Known invites and use counts.", colorInfo, fields), true)
}

func (b *Bot) handleLogChannel(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Missing action.", colorWarning, nil), true)
		return
	}

	settings, err := b.store.GetGuildSettings(ctx, interaction.GuildID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Loading settings failed.", colorWarning, nil), true)
		return
	}

	switch options[0].StringValue() {
	case "show":
		value := "not set"
		if settings.LogChannelID != "" {
			value = "<#" + settings.LogChannelID + ">"
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: value, Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Current log channel.", colorInfo, fields), true)
	case "set":
		var channelID string
		for _, opt := range options[1:] {
			if opt.Name == "channel" {
				if channel := opt.ChannelValue(session); channel != nil {
					channelID = channel.ID
				}
			}
		}
		if channelID == "" {
			b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Pick a channel.", colorWarning, nil), true)
			return
		}
		settings.LogChannelID = channelID
		if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Saving the channel failed.", colorWarning, nil), true)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: "<#" + channelID + ">", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Log channel updated.", colorAction, fields), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Unknown action.", colorWarning, nil), true)
	}
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Report", "Missing period.", colorWarning, nil), true)
		return
	}
	start := time.Now().Add(-24 * time.Hour)
	if options[0].StringValue() == "week" {
		start = time.Now().Add(-7 * 24 * time.Hour)
	}

	report, err := b.analytics.Report(ctx, interaction.GuildID, start)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Report", "Building the report failed.", colorWarning, nil), true)
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Total events", Value: fmt.Sprintf("%d", report.Total), Inline: true},
		{Name: "Auto-mutes", Value: fmt.Sprintf("%d", report.ByEvent["auto_mute"]), Inline: true},
		{Name: "Invite joins", Value: fmt.Sprintf("%d", report.ByEvent["invite_used"]), Inline: true},
		{Name: "Warnings", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelWarn]), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Report", "Moderation activity.", colorInfo, fields), true)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
