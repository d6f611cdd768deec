package bot

import "github.com/bwmarrin/discordgo"

var moderatorPermission int64 = discordgo.PermissionManageServer

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "spamfilter",
			Description:              "View or change the spam filter override for a channel",
			DefaultMemberPermissions: &moderatorPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "set, clear, or show",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "set", Value: "set"},
						{Name: "clear", Value: "clear"},
						{Name: "show", Value: "show"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel to change (defaults to the current channel)",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "Override to apply when setting",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "always filter", Value: "always_filter"},
						{Name: "never filter", Value: "never_filter"},
					},
				},
			},
		},
		{
			Name:                     "muterole",
			Description:              "View or set the mute role",
			DefaultMemberPermissions: &moderatorPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "set or show",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "set", Value: "set"},
						{Name: "show", Value: "show"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role applied to muted members",
				},
			},
		},
		{
			Name:                     "mute",
			Description:              "Mute a member with escalating duration",
			DefaultMemberPermissions: &moderatorPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to mute",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason recorded with the infraction",
				},
			},
		},
		{
			Name:                     "invites",
			Description:              "Show the tracked invites for this server",
			DefaultMemberPermissions: &moderatorPermission,
		},
		{
			Name:                     "logchannel",
			Description:              "View or set the moderation log channel",
			DefaultMemberPermissions: &moderatorPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "set or show",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "set", Value: "set"},
						{Name: "show", Value: "show"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel that receives moderation logs",
				},
			},
		},
		{
			Name:                     "report",
			Description:              "Summarize recent moderation activity",
			DefaultMemberPermissions: &moderatorPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "day or week",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
					},
				},
			},
		},
	}

	for _, command := range commands {
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", command); err != nil {
			return err
		}
	}
	return nil
}
