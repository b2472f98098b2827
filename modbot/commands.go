package modbot

import "github.com/bwmarrin/discordgo"

const (
	commandModLogs          = "modlogs"
	commandViewNotes        = "viewnotes"
	commandMyModLogs        = "mymodlogs"
	commandGetCase          = "getcase"
	commandRemoveCase       = "removecase"
	commandWarn             = "warn"
	commandAddNote          = "addnote"
	commandMute             = "mute"
	commandUnmute           = "unmute"
	commandUnban            = "unban"
	commandPurge            = "purge"
	commandBan              = "ban"
	commandVerify           = "verify"
	commandApprove          = "approve"
	commandReply            = "reply"
	commandClose            = "close"
	commandQOTD             = "qotd"
	commandAttachMailButton = "Attach mod mail button"
	commandSelfMute         = "selfmute"
	commandDebate           = "debate"
	commandWhois            = "whois"
	commandBreathe          = "breathe"
	commandRule14           = "rule14"
	commandProfilePicture   = "Get Profile Picture"
	commandGetSticker       = "Get sticker"

	subcommandQOTDAdd  = "add"
	subcommandQOTDList = "list"

	customIDStartModMail = "start_modmail"
	customIDModMailModal = "start_modmail_modal"
	customIDModMailInput = "modmail_message"
)

var (
	permKickMembers    int64 = discordgo.PermissionKickMembers
	permBanMembers     int64 = discordgo.PermissionBanMembers
	permModerate       int64 = discordgo.PermissionModerateMembers
	permManageMessages int64 = discordgo.PermissionManageMessages
	permManageRoles    int64 = discordgo.PermissionManageRoles
	dmPermission             = false
	minOne                   = 1.0
)

func userOption(name string, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

func caseNumberOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "case_number",
		Description: "The case number",
		Required:    true,
		MinValue:    &minOne,
	}
}

func stringOption(name string, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

// guildCommands are registered to the moderated guild
func guildCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandModLogs,
			Description:              "View a user's modlogs",
			DefaultMemberPermissions: &permKickMembers,
			DMPermission:             &dmPermission,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("user", "The user to look up")},
		},
		{
			Name:                     commandViewNotes,
			Description:              "View the mod notes for a user",
			DefaultMemberPermissions: &permKickMembers,
			DMPermission:             &dmPermission,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("user", "The user to look up")},
		},
		{
			Name:         commandMyModLogs,
			Description:  "View your own modlogs",
			DMPermission: &dmPermission,
		},
		{
			Name:                     commandGetCase,
			Description:              "Get a modlogs case",
			DefaultMemberPermissions: &permKickMembers,
			DMPermission:             &dmPermission,
			Options:                  []*discordgo.ApplicationCommandOption{caseNumberOption()},
		},
		{
			Name:                     commandRemoveCase,
			Description:              "Remove a modlogs case",
			DefaultMemberPermissions: &permKickMembers,
			DMPermission:             &dmPermission,
			Options:                  []*discordgo.ApplicationCommandOption{caseNumberOption()},
		},
		{
			Name:                     commandWarn,
			Description:              "Warn a user",
			DefaultMemberPermissions: &permKickMembers,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "The user to warn"),
				stringOption("reason", "Why the user is being warned", true),
			},
		},
		{
			Name:                     commandAddNote,
			Description:              "Add a note to a user's modlogs",
			DefaultMemberPermissions: &permKickMembers,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "The user to add a note to"),
				stringOption("note", "The note", true),
			},
		},
		{
			Name:                     commandMute,
			Description:              "Time out a user",
			DefaultMemberPermissions: &permModerate,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "The user to mute"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "duration",
					Description: "How long to mute for",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "units",
					Description: "The unit of the duration",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Minutes", Value: 60},
						{Name: "Hours", Value: 3600},
						{Name: "Days", Value: 86400},
					},
				},
				stringOption("reason", "Why the user is being muted", false),
			},
		},
		{
			Name:                     commandUnmute,
			Description:              "Remove a user's timeout",
			DefaultMemberPermissions: &permModerate,
			DMPermission:             &dmPermission,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("user", "The user to unmute")},
		},
		{
			Name:                     commandUnban,
			Description:              "Unban a user",
			DefaultMemberPermissions: &permBanMembers,
			DMPermission:             &dmPermission,
			Options:                  []*discordgo.ApplicationCommandOption{stringOption("user_id", "The ID of the user to unban", true)},
		},
		{
			Name:                     commandPurge,
			Description:              "Delete recent messages in this channel",
			DefaultMemberPermissions: &permManageMessages,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "number",
					Description: "How many messages to delete",
					Required:    true,
				},
			},
		},
		{
			Name:                     commandBan,
			Description:              "Ban a user",
			DefaultMemberPermissions: &permBanMembers,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "The user to ban"),
				stringOption("reason", "Why the user is being banned", false),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "delete_messages",
					Description: "Delete the user's recent messages",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Previous hour", Value: 3600},
						{Name: "Previous 6 hours", Value: 21600},
						{Name: "Previous day", Value: 86400},
						{Name: "Previous week", Value: 604800},
					},
				},
			},
		},
		{
			Name:         commandVerify,
			Description:  "Verify yourself to access the server",
			DMPermission: &dmPermission,
		},
		{
			Name:                     commandApprove,
			Description:              "Approve a board joiner",
			DefaultMemberPermissions: &permManageRoles,
			DMPermission:             &dmPermission,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("user", "The user to approve")},
		},
		{
			Name:                     commandQOTD,
			Description:              "Manage the question of the day",
			DefaultMemberPermissions: &permManageMessages,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandQOTDAdd,
					Description: "Add a question to the queue",
					Options: []*discordgo.ApplicationCommandOption{
						stringOption("qotd", "The question", true),
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "credit",
							Description: "Who to credit for the question",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandQOTDList,
					Description: "List the queued questions",
				},
			},
		},
		{
			Name:                     commandAttachMailButton,
			Type:                     discordgo.MessageApplicationCommand,
			DefaultMemberPermissions: &permManageMessages,
			DMPermission:             &dmPermission,
		},
		{
			Name:         commandSelfMute,
			Description:  "Temporarily mute yourself",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "duration",
					Description: "How long to mute yourself for",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "units",
					Description: "The unit of the duration",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Minutes", Value: 60},
						{Name: "Hours", Value: 3600},
						{Name: "Days", Value: 86400},
						{Name: "Weeks", Value: 604800},
					},
				},
			},
		},
		{
			Name:         commandDebate,
			Description:  "Grant/remove your own access to the debate channel",
			DMPermission: &dmPermission,
		},
		{
			Name:         commandWhois,
			Description:  "Show information about a user",
			DMPermission: &dmPermission,
			Options:      []*discordgo.ApplicationCommandOption{userOption("user", "The user to look up")},
		},
		{
			Name:         commandBreathe,
			Description:  "Sends a gif to help you breathe slowly",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "gif",
					Description: "Which breathing gif to display",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "circle", Value: "circle"},
						{Name: "geometric", Value: "geometric"},
						{Name: "gauge", Value: "gauge"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "hide",
					Description: "Only show the gif to you",
				},
			},
		},
		{
			Name:         commandRule14,
			Description:  "Rule 14.",
			DMPermission: &dmPermission,
		},
		{
			Name:         commandProfilePicture,
			Type:         discordgo.UserApplicationCommand,
			DMPermission: &dmPermission,
		},
		{
			Name:         commandGetSticker,
			Type:         discordgo.MessageApplicationCommand,
			DMPermission: &dmPermission,
		},
	}
}

// modMailCommands are registered to the mod mail guild
func modMailCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandReply,
			Description:              "Reply to a mod mail",
			DefaultMemberPermissions: &permKickMembers,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("message", "The message to send", true),
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "file",
					Description: "An attachment to send",
				},
			},
		},
		{
			Name:                     commandClose,
			Description:              "Close this mod mail",
			DefaultMemberPermissions: &permKickMembers,
			DMPermission:             &dmPermission,
		},
	}
}

func modMailButton() discordgo.Button {
	return discordgo.Button{
		Label:    "Create Mod Mail",
		Style:    discordgo.PrimaryButton,
		CustomID: customIDStartModMail,
		Emoji:    &discordgo.ComponentEmoji{Name: "💬"},
	}
}
