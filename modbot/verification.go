package modbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleMemberJoin gives a new member the unverified role matching how
// they joined
func (b *ModBot) handleMemberJoin(ctx context.Context, m *discordgo.GuildMemberAdd) error {
	if m.Member == nil || m.User == nil || m.GuildID != b.config.Guild.GuildID || m.User.Bot {
		return nil
	}
	logger := b.logger.With("user_id", m.User.ID)

	source, err := b.invites.ClassifyNextJoiner(ctx)
	if err != nil {
		logger.WarnContext(ctx, "unable to classify joiner, treating as organic", tint.Err(err))
	}

	roleID := b.config.Guild.UnverifiedRoleID
	if source == JoinBoard && b.config.Guild.BoardUnverifiedRoleID != "" {
		roleID = b.config.Guild.BoardUnverifiedRoleID
	}
	logger.InfoContext(ctx, "member joined", "source", source)
	if roleID == "" {
		return nil
	}

	if err = b.session().GuildMemberRoleAdd(
		m.GuildID,
		m.User.ID,
		roleID,
		discordgo.WithContext(ctx),
	); err != nil {
		return fmt.Errorf("error adding unverified role: %w", wrapDiscordError(err))
	}
	return nil
}

// promoteToNewMember swaps fromRoleID for the new member role, and arms
// the delayed move to the member role
func (b *ModBot) promoteToNewMember(ctx context.Context, userID string, fromRoleID string) error {
	session := b.session()
	guildID := b.config.Guild.GuildID
	if fromRoleID != "" {
		if err := session.GuildMemberRoleRemove(guildID, userID, fromRoleID, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("error removing role %s: %w", fromRoleID, wrapDiscordError(err))
		}
	}
	if newMemberRole := b.config.Guild.NewMemberRoleID; newMemberRole != "" {
		if err := session.GuildMemberRoleAdd(guildID, userID, newMemberRole, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("error adding new member role: %w", wrapDiscordError(err))
		}
	}
	if _, err := b.memberRoles.Arm(ctx, userID); err != nil {
		return err
	}
	return nil
}

func (b *ModBot) handleVerify(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	if i.Member == nil || i.Member.User == nil {
		return respondText(ctx, h, true, "This command can only be used in the server")
	}

	if memberHasRole(i.Member, b.config.Guild.BoardUnverifiedRoleID) {
		return respondEmbeds(
			ctx,
			h,
			true,
			simpleEmbed("", "A moderator needs to approve you before you can access the server", colorYellow),
		)
	}

	if err := b.promoteToNewMember(ctx, i.Member.User.ID, b.config.Guild.UnverifiedRoleID); err != nil {
		return err
	}
	h.Logger().InfoContext(ctx, "member verified")

	description := "Successfully verified"
	if !i.Member.JoinedAt.IsZero() {
		description += " - " + humanizeDuration(b.now().Sub(i.Member.JoinedAt))
	}
	return respondEmbeds(ctx, h, false, &discordgo.MessageEmbed{Description: description})
}

// handleApprove verifies a board joiner on a moderator's behalf
func (b *ModBot) handleApprove(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	userID := optionUserID(discordInteractionOptions(i)["user"])

	member, err := b.guildMember(ctx, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return respondText(ctx, h, true, userNotFoundText)
	}
	if !memberHasRole(member, b.config.Guild.BoardUnverifiedRoleID) {
		return respondText(ctx, h, true, "That user isn't waiting for approval")
	}

	if err = b.promoteToNewMember(ctx, userID, b.config.Guild.BoardUnverifiedRoleID); err != nil {
		return err
	}
	h.Logger().InfoContext(ctx, "approved board joiner", "user_id", userID)
	return respondEmbeds(
		ctx,
		h,
		false,
		&discordgo.MessageEmbed{
			Description: fmt.Sprintf("Approved <@%s>", userID),
			Color:       colorGreen,
			Fields:      []*discordgo.MessageEmbedField{moderatorField(i)},
		},
	)
}
