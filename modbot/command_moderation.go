package modbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	cannotModerateText  = "You cannot moderate that user"
	userNotFoundText    = "User not found"
	cannotDMFooter      = "Cannot DM User"
	purgeChunkSize      = 100
	maxTimeoutDuration  = 28 * 24 * time.Hour
	bulkDeleteMaxMsgAge = 14 * 24 * time.Hour
)

// canModerate reports whether actor may take action against target.
// Bots and the actor themselves can't be moderated, and the actor's
// top role must be above the target's, unless the actor owns the guild.
func canModerate(actor *discordgo.Member, target *discordgo.Member, ownerID string, roles []*discordgo.Role) bool {
	if actor == nil || actor.User == nil || target == nil || target.User == nil {
		return false
	}
	if target.User.Bot || actor.User.ID == target.User.ID {
		return false
	}
	if actor.User.ID == ownerID {
		return true
	}
	return topRolePosition(actor, roles) > topRolePosition(target, roles)
}

func (b *ModBot) guildWithRoles(ctx context.Context) (*discordgo.Guild, []*discordgo.Role, error) {
	session := b.session()
	guild, err := session.Guild(b.config.Guild.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("error getting guild: %w", wrapDiscordError(err))
	}
	roles, err := session.GuildRoles(b.config.Guild.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("error getting guild roles: %w", wrapDiscordError(err))
	}
	return guild, roles, nil
}

func (b *ModBot) canModerate(ctx context.Context, actor *discordgo.Member, target *discordgo.Member) (bool, error) {
	guild, roles, err := b.guildWithRoles(ctx)
	if err != nil {
		return false, err
	}
	return canModerate(actor, target, guild.OwnerID, roles), nil
}

// moderationTarget looks up the member named by the "user" option, and
// checks the caller can moderate them. If not, the caller has already
// been told why, and the returned member is nil.
func (b *ModBot) moderationTarget(ctx context.Context, h InteractionHandler) (*discordgo.Member, error) {
	i := h.GetInteraction()
	userID := optionUserID(discordInteractionOptions(i)["user"])
	member, err := b.guildMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, respondText(ctx, h, true, userNotFoundText)
	}
	allowed, err := b.canModerate(ctx, i.Member, member)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, respondText(ctx, h, true, cannotModerateText)
	}
	return member, nil
}

func (b *ModBot) guildName(ctx context.Context) string {
	guild, err := b.session().Guild(b.config.Guild.GuildID, discordgo.WithContext(ctx))
	if err != nil || guild.Name == "" {
		return "the server"
	}
	return guild.Name
}

// notifyCaseSubject DMs the case to its subject, returning false if
// they couldn't be reached
func (b *ModBot) notifyCaseSubject(ctx context.Context, logger *slog.Logger, c ModerationCase) bool {
	embed := userCaseEmbed(c, b.guildName(ctx))
	if _, err := sendDM(
		ctx,
		b.session(),
		c.SubjectUserID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
	); err != nil {
		logger.WarnContext(ctx, "unable to DM case subject", "case_number", c.CaseNumber, tint.Err(err))
		return false
	}
	return true
}

func moderatorID(i *discordgo.InteractionCreate) *string {
	u := getDiscordUser(i)
	if u == nil {
		return nil
	}
	id := u.ID
	return &id
}

func (b *ModBot) handleWarn(ctx context.Context, h InteractionHandler) error {
	member, err := b.moderationTarget(ctx, h)
	if member == nil {
		return err
	}
	i := h.GetInteraction()
	if err = deferResponse(ctx, h, false); err != nil {
		return err
	}

	c, err := b.ledger.Record(
		ctx,
		member.User.ID,
		moderatorID(i),
		CaseKindWarn,
		optionString(discordInteractionOptions(i), "reason"),
		nil,
	)
	if err != nil {
		return err
	}
	h.Logger().InfoContext(ctx, "warned user", caseLogAttrs(*c)...)

	embed := modCaseEmbed(*c, member)
	if !b.notifyCaseSubject(ctx, h.Logger(), *c) {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: cannotDMFooter}
	}
	return editEmbeds(ctx, h, embed)
}

func (b *ModBot) handleAddNote(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	opts := discordInteractionOptions(i)
	userID := optionUserID(opts["user"])
	if err := deferResponse(ctx, h, false); err != nil {
		return err
	}

	c, err := b.ledger.Record(ctx, userID, moderatorID(i), CaseKindNote, optionString(opts, "note"), nil)
	if err != nil {
		return err
	}
	h.Logger().InfoContext(ctx, "added note", caseLogAttrs(*c)...)

	member, err := b.guildMember(ctx, userID)
	if err != nil {
		h.Logger().WarnContext(ctx, "unable to look up note subject", tint.Err(err))
	}
	return editEmbeds(ctx, h, modCaseEmbed(*c, member))
}

// muteDuration converts the mute command's duration and units (seconds
// per unit) to a duration, or false if it's out of range
func muteDuration(duration int64, units int64) (time.Duration, bool) {
	if duration < 1 || units < 1 {
		return 0, false
	}
	if duration > int64(maxTimeoutDuration/time.Second)/units {
		return 0, false
	}
	return time.Duration(duration*units) * time.Second, true
}

func (b *ModBot) handleMute(ctx context.Context, h InteractionHandler) error {
	member, err := b.moderationTarget(ctx, h)
	if member == nil {
		return err
	}
	i := h.GetInteraction()
	opts := discordInteractionOptions(i)

	d, ok := muteDuration(optionInt(opts, "duration", 0), optionInt(opts, "units", 60))
	if !ok {
		return respondText(ctx, h, true, "Invalid duration")
	}
	if err = deferResponse(ctx, h, false); err != nil {
		return err
	}

	until := b.now().Add(d)
	err = b.session().GuildMemberTimeout(
		b.config.Guild.GuildID,
		member.User.ID,
		&until,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if errors.Is(wrapDiscordError(err), ErrPermissionDenied) {
			return editText(ctx, h, "Unable to timeout user")
		}
		return fmt.Errorf("error timing out user: %w", err)
	}

	c, err := b.ledger.Record(
		ctx,
		member.User.ID,
		moderatorID(i),
		CaseKindTimeout,
		optionString(opts, "reason"),
		&d,
	)
	if err != nil {
		return err
	}
	h.Logger().InfoContext(ctx, "muted user", caseLogAttrs(*c)...)

	embed := modCaseEmbed(*c, member)
	if !b.notifyCaseSubject(ctx, h.Logger(), *c) {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: cannotDMFooter}
	}
	return editEmbeds(ctx, h, embed)
}

func moderatorField(i *discordgo.InteractionCreate) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{
		Name:   "Moderator",
		Value:  getDiscordUser(i).Mention(),
		Inline: true,
	}
}

func (b *ModBot) handleUnmute(ctx context.Context, h InteractionHandler) error {
	member, err := b.moderationTarget(ctx, h)
	if member == nil {
		return err
	}
	i := h.GetInteraction()

	err = b.session().GuildMemberTimeout(b.config.Guild.GuildID, member.User.ID, nil, discordgo.WithContext(ctx))
	if err != nil {
		if errors.Is(wrapDiscordError(err), ErrPermissionDenied) {
			return respondText(ctx, h, false, "Unable to unmute that user")
		}
		return fmt.Errorf("error removing timeout: %w", err)
	}
	h.Logger().InfoContext(ctx, "unmuted user", "user_id", member.User.ID)

	return respondEmbeds(
		ctx,
		h,
		false,
		&discordgo.MessageEmbed{
			Title: "User Unmuted",
			Color: colorModCase,
			Author: &discordgo.MessageEmbedAuthor{
				Name:    memberDisplayName(member),
				IconURL: member.AvatarURL(""),
			},
			Fields: []*discordgo.MessageEmbedField{moderatorField(i)},
		},
	)
}

func (b *ModBot) handleUnban(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	userID := optionString(discordInteractionOptions(i), "user_id")
	if _, err := strconv.ParseUint(userID, 10, 64); err != nil {
		return respondText(ctx, h, true, "Invalid user ID")
	}

	session := b.session()
	user, err := session.User(userID, discordgo.WithContext(ctx))
	switch {
	case isDiscordNotFound(err):
		return respondText(ctx, h, true, userNotFoundText)
	case err != nil:
		return fmt.Errorf("error getting user %s: %w", userID, wrapDiscordError(err))
	}
	author := &discordgo.MessageEmbedAuthor{Name: user.Username, IconURL: user.AvatarURL("")}

	_, err = session.GuildBan(b.config.Guild.GuildID, userID, discordgo.WithContext(ctx))
	if err == nil {
		err = session.GuildBanDelete(b.config.Guild.GuildID, userID, discordgo.WithContext(ctx))
	}
	switch {
	case isDiscordNotFound(err):
		return respondEmbeds(
			ctx,
			h,
			false,
			&discordgo.MessageEmbed{Title: "User is not banned", Color: colorModCase, Author: author},
		)
	case err != nil:
		return fmt.Errorf("error unbanning user %s: %w", userID, wrapDiscordError(err))
	}
	h.Logger().InfoContext(ctx, "unbanned user", "user_id", userID)

	return respondEmbeds(
		ctx,
		h,
		false,
		&discordgo.MessageEmbed{
			Title:  "User Unbanned",
			Color:  colorModCase,
			Author: author,
			Fields: []*discordgo.MessageEmbedField{moderatorField(i)},
		},
	)
}

// purgeMessages deletes up to limit of the channel's most recent
// messages, returning how many were deleted. Messages too old to bulk
// delete end the purge.
func purgeMessages(
	ctx context.Context,
	session DiscordSessionHandler,
	channelID string,
	limit int,
	now time.Time,
) (int, error) {
	deleted := 0
	before := ""
	for deleted < limit {
		n := min(purgeChunkSize, limit-deleted)
		messages, err := session.ChannelMessages(channelID, n, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return deleted, fmt.Errorf("error getting messages: %w", wrapDiscordError(err))
		}
		if len(messages) == 0 {
			return deleted, nil
		}

		ids := make([]string, 0, len(messages))
		tooOld := false
		for _, m := range messages {
			if now.Sub(m.Timestamp) >= bulkDeleteMaxMsgAge {
				tooOld = true
				break
			}
			ids = append(ids, m.ID)
		}
		if len(ids) > 0 {
			if err = session.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx)); err != nil {
				return deleted, fmt.Errorf("error deleting messages: %w", wrapDiscordError(err))
			}
			deleted += len(ids)
		}
		if tooOld || len(messages) < n {
			return deleted, nil
		}
		before = messages[len(messages)-1].ID
	}
	return deleted, nil
}

func (b *ModBot) handlePurge(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	number := optionInt(discordInteractionOptions(i), "number", 0)
	if number < 1 {
		return respondText(ctx, h, true, "Invalid number of messages")
	}
	if err := deferResponse(ctx, h, true); err != nil {
		return err
	}

	deleted, err := purgeMessages(ctx, b.session(), i.ChannelID, int(number), b.now())
	if err != nil {
		return err
	}
	h.Logger().InfoContext(ctx, "purged messages", "requested", number, "deleted", deleted)
	return editEmbeds(
		ctx,
		h,
		&discordgo.MessageEmbed{
			Title:     fmt.Sprintf("Purged %d messages", deleted),
			Color:     colorModCase,
			Timestamp: b.now().UTC().Format(time.RFC3339),
		},
	)
}

func (b *ModBot) handleBan(ctx context.Context, h InteractionHandler) error {
	member, err := b.moderationTarget(ctx, h)
	if member == nil {
		return err
	}
	i := h.GetInteraction()
	opts := discordInteractionOptions(i)

	// the DM is sent before the ban, so make sure the ban can succeed
	botMember, err := b.guildMember(ctx, b.discord.BotUserID())
	if err != nil {
		return err
	}
	_, roles, err := b.guildWithRoles(ctx)
	if err != nil {
		return err
	}
	if botMember == nil || topRolePosition(botMember, roles) <= topRolePosition(member, roles) {
		return respondText(ctx, h, true, "Unable to ban user")
	}

	if err = deferResponse(ctx, h, false); err != nil {
		return err
	}
	reason := optionString(opts, "reason")
	c, err := b.ledger.Record(ctx, member.User.ID, moderatorID(i), CaseKindBan, reason, nil)
	if err != nil {
		return err
	}

	embed := modCaseEmbed(*c, member)
	canDM := b.notifyCaseSubject(ctx, h.Logger(), *c)

	err = b.session().GuildBanCreate(
		b.config.Guild.GuildID,
		member.User.ID,
		reason,
		int(optionInt(opts, "delete_messages", 0)),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if errors.Is(wrapDiscordError(err), ErrPermissionDenied) {
			return editText(ctx, h, "Unable to ban user")
		}
		return fmt.Errorf("error banning user: %w", err)
	}
	h.Logger().InfoContext(ctx, "banned user", caseLogAttrs(*c)...)

	if !canDM {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: cannotDMFooter}
	}
	return editEmbeds(ctx, h, embed)
}
