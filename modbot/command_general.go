package modbot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	rule14ImageURL = "https://cdn.discordapp.com/attachments/714694881871921162/1058633726042578986/rule14.png"

	maxTimeoutText = "The max timeout is 28 days"
)

var breatheGIFs = map[string]string{
	"circle":    "https://media3.giphy.com/media/1xVc4s9oZrDhO9BOYt/source.gif",
	"geometric": "https://tenor.com/view/breathe-in-breathe-iout-calming-calm-down-gif-12208363",
	"gauge":     "https://www.duffthepsych.com/wp-content/uploads/2016/07/478Breathe500x500c129revised.gif",
}

// handleSelfMute times out the caller. No case is recorded.
func (b *ModBot) handleSelfMute(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	if i.Member == nil || i.Member.User == nil {
		return respondText(ctx, h, true, "This command can only be used in the server")
	}
	opts := discordInteractionOptions(i)
	duration := optionInt(opts, "duration", 0)
	if duration < 1 {
		return respondText(ctx, h, true, "Invalid duration")
	}
	d, ok := muteDuration(duration, optionInt(opts, "units", 60))
	if !ok {
		return respondText(ctx, h, true, maxTimeoutText)
	}

	until := b.now().Add(d)
	err := b.session().GuildMemberTimeout(
		b.config.Guild.GuildID,
		i.Member.User.ID,
		&until,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if errors.Is(wrapDiscordError(err), ErrPermissionDenied) {
			return respondText(ctx, h, true, "I do not have permission to apply a timeout to you")
		}
		return fmt.Errorf("error applying self mute: %w", err)
	}
	h.Logger().InfoContext(ctx, "self muted", "until", until)
	return respondText(ctx, h, false, fmt.Sprintf("Ok, I will mute you until %s", discordTimestamp(until)))
}

// handleDebate toggles the caller's debate role, unless a moderator has
// given them the debate ban role
func (b *ModBot) handleDebate(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	guild := b.config.Guild
	if i.Member == nil || i.Member.User == nil {
		return respondText(ctx, h, true, "This command can only be used in the server")
	}
	if guild.DebateRoleID == "" {
		return respondText(ctx, h, true, "The debate channel isn't set up")
	}
	if memberHasRole(i.Member, guild.DebateBanRoleID) {
		return respondText(
			ctx,
			h,
			false,
			"Your access to the debate channel has been restricted by the moderators.",
		)
	}

	userID := i.Member.User.ID
	session := b.session()
	if memberHasRole(i.Member, guild.DebateRoleID) {
		if err := session.GuildMemberRoleRemove(
			guild.GuildID,
			userID,
			guild.DebateRoleID,
			discordgo.WithContext(ctx),
		); err != nil {
			return fmt.Errorf("error removing debate role: %w", wrapDiscordError(err))
		}
		h.Logger().InfoContext(ctx, "left debate channel")
		return respondText(ctx, h, false, "You now no longer have access to the debate channel.")
	}

	if err := session.GuildMemberRoleAdd(
		guild.GuildID,
		userID,
		guild.DebateRoleID,
		discordgo.WithContext(ctx),
	); err != nil {
		return fmt.Errorf("error adding debate role: %w", wrapDiscordError(err))
	}
	h.Logger().InfoContext(ctx, "joined debate channel")
	return respondText(
		ctx,
		h,
		false,
		"You have been added to the debate channel\n\n"+
			"Please remember to abide by the rules and to remain civil when debating. "+
			"If someone is being rude or discourteous, please let a mod know!",
	)
}

// sortedMemberRoles returns the member's roles, highest first
func sortedMemberRoles(m *discordgo.Member, roles []*discordgo.Role) []*discordgo.Role {
	byID := make(map[string]*discordgo.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	held := make([]*discordgo.Role, 0, len(m.Roles))
	for _, roleID := range m.Roles {
		if r, ok := byID[roleID]; ok {
			held = append(held, r)
		}
	}
	sort.SliceStable(held, func(a, b int) bool { return held[a].Position > held[b].Position })
	return held
}

// memberColor is the color of the member's highest colored role
func memberColor(m *discordgo.Member, roles []*discordgo.Role) int {
	for _, r := range sortedMemberRoles(m, roles) {
		if r.Color != 0 {
			return r.Color
		}
	}
	return colorPrimary
}

func whoisEmbed(m *discordgo.Member, roles []*discordgo.Role) *discordgo.MessageEmbed {
	held := sortedMemberRoles(m, roles)
	mentions := make([]string, 0, len(held))
	for _, r := range held {
		mentions = append(mentions, r.Mention())
	}
	roleList := strings.Join(mentions, " ")
	if roleList == "" {
		roleList = "None"
	}

	embed := &discordgo.MessageEmbed{
		Description: m.User.Mention(),
		Color:       memberColor(m, roles),
		Author:      &discordgo.MessageEmbedAuthor{Name: m.User.String(), IconURL: m.User.AvatarURL("")},
		Thumbnail:   &discordgo.MessageEmbedThumbnail{URL: m.AvatarURL("")},
		Footer:      &discordgo.MessageEmbedFooter{Text: "User ID: " + m.User.ID},
	}
	if !m.JoinedAt.IsZero() {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Joined", Value: discordTimestamp(m.JoinedAt), Inline: true},
		)
	}
	if registered, err := discordgo.SnowflakeTimestamp(m.User.ID); err == nil {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Registered", Value: discordTimestamp(registered), Inline: true},
		)
	}
	embed.Fields = append(
		embed.Fields,
		&discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Roles [%d]", len(held)),
			Value: truncate(roleList, embedFieldValueMaxLength),
		},
	)
	return embed
}

func (b *ModBot) handleWhois(ctx context.Context, h InteractionHandler) error {
	userID := optionUserID(discordInteractionOptions(h.GetInteraction())["user"])
	member, err := b.guildMember(ctx, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return respondText(ctx, h, true, userNotFoundText)
	}
	roles, err := b.session().GuildRoles(b.config.Guild.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error getting guild roles: %w", wrapDiscordError(err))
	}
	return respondEmbeds(ctx, h, false, whoisEmbed(member, roles))
}

func (b *ModBot) handleBreathe(ctx context.Context, h InteractionHandler) error {
	opts := discordInteractionOptions(h.GetInteraction())
	url, ok := breatheGIFs[optionString(opts, "gif")]
	if !ok {
		return respondText(ctx, h, true, "Unknown gif")
	}
	hide := false
	if opt, found := opts["hide"]; found {
		hide = opt.BoolValue()
	}
	return respondText(ctx, h, hide, url)
}

func (b *ModBot) handleRule14(ctx context.Context, h InteractionHandler) error {
	return respondEmbeds(
		ctx,
		h,
		false,
		&discordgo.MessageEmbed{
			Color: colorPrimary,
			Image: &discordgo.MessageEmbedImage{URL: rule14ImageURL},
		},
	)
}

// handleProfilePicture shows the target member's avatar
func (b *ModBot) handleProfilePicture(ctx context.Context, h InteractionHandler) error {
	data := h.GetInteraction().ApplicationCommandData()
	var member *discordgo.Member
	var user *discordgo.User
	if data.Resolved != nil {
		member = data.Resolved.Members[data.TargetID]
		user = data.Resolved.Users[data.TargetID]
	}
	if user == nil {
		return respondText(ctx, h, true, userNotFoundText)
	}

	title := userDisplayName(user)
	avatar := user.AvatarURL("1024")
	if member != nil {
		m := *member
		m.User = user
		if m.GuildID == "" {
			m.GuildID = b.config.Guild.GuildID
		}
		title = memberDisplayName(&m)
		avatar = m.AvatarURL("1024")
	}
	return respondEmbeds(
		ctx,
		h,
		true,
		&discordgo.MessageEmbed{
			Title: title,
			URL:   avatar,
			Color: colorPrimary,
			Image: &discordgo.MessageEmbedImage{URL: avatar},
		},
	)
}

func stickerURL(s *discordgo.StickerItem) string {
	ext := ".png"
	switch s.FormatType {
	case discordgo.StickerFormatTypeGIF:
		ext = ".gif"
	case discordgo.StickerFormatTypeLottie:
		ext = ".json"
	}
	return discordgo.EndpointCDN + "stickers/" + s.ID + ext
}

// handleGetSticker shows the first sticker on the target message
func (b *ModBot) handleGetSticker(ctx context.Context, h InteractionHandler) error {
	data := h.GetInteraction().ApplicationCommandData()
	var target *discordgo.Message
	if data.Resolved != nil {
		target = data.Resolved.Messages[data.TargetID]
	}
	if target == nil || len(target.StickerItems) == 0 {
		return respondText(ctx, h, true, "This message doesn't contain any stickers")
	}

	sticker := target.StickerItems[0]
	url := stickerURL(sticker)
	return respondEmbeds(
		ctx,
		h,
		true,
		&discordgo.MessageEmbed{
			Title: sticker.Name,
			URL:   url,
			Image: &discordgo.MessageEmbedImage{URL: url},
		},
	)
}
