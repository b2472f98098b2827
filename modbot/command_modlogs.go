package modbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const caseNotFoundText = "Case not found"

// guildMember returns the member, or nil if the user isn't in the guild
func (b *ModBot) guildMember(ctx context.Context, userID string) (*discordgo.Member, error) {
	member, err := b.session().GuildMember(b.config.Guild.GuildID, userID, discordgo.WithContext(ctx))
	switch {
	case isDiscordNotFound(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("error getting member %s: %w", userID, wrapDiscordError(err))
	}
	return member, nil
}

// userLabel returns the name and avatar to show for a user, preferring
// their guild member profile
func (b *ModBot) userLabel(ctx context.Context, i *discordgo.InteractionCreate, userID string) (string, string) {
	if member, err := b.guildMember(ctx, userID); err == nil && member != nil && member.User != nil {
		return memberDisplayName(member), member.AvatarURL("")
	}
	if data := i.ApplicationCommandData(); data.Resolved != nil {
		if u := data.Resolved.Users[userID]; u != nil {
			return userDisplayName(u), u.AvatarURL("")
		}
	}
	if u, err := b.session().User(userID, discordgo.WithContext(ctx)); err == nil && u != nil {
		return userDisplayName(u), u.AvatarURL("")
	}
	return userID, ""
}

func (b *ModBot) handleModLogs(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	userID := optionUserID(discordInteractionOptions(i)["user"])
	if err := deferResponse(ctx, h, false); err != nil {
		return err
	}

	page, err := b.ledger.FindByUser(
		ctx,
		userID,
		CaseFilterAll,
		b.config.Moderation.CaseDisplayLimit,
		SortAscending,
	)
	if err != nil {
		return err
	}
	name, avatar := b.userLabel(ctx, i, userID)
	return editEmbeds(ctx, h, caseListEmbed(page, name, avatar, b.expiration, true))
}

func (b *ModBot) handleViewNotes(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	userID := optionUserID(discordInteractionOptions(i)["user"])
	if err := deferResponse(ctx, h, false); err != nil {
		return err
	}

	page, err := b.ledger.FindByUser(
		ctx,
		userID,
		CaseFilterOnlyNotes,
		b.config.Moderation.CaseDisplayLimit,
		SortAscending,
	)
	if err != nil {
		return err
	}
	name, avatar := b.userLabel(ctx, i, userID)
	return editEmbeds(ctx, h, noteListEmbed(page, name, avatar))
}

// handleMyModLogs shows the caller their own cases, without notes or
// moderators
func (b *ModBot) handleMyModLogs(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	user := getDiscordUser(i)
	if err := deferResponse(ctx, h, true); err != nil {
		return err
	}

	page, err := b.ledger.FindByUser(
		ctx,
		user.ID,
		CaseFilterExcludeNotes,
		b.config.Moderation.CaseDisplayLimit,
		SortAscending,
	)
	if err != nil {
		return err
	}
	name := userDisplayName(user)
	if i.Member != nil {
		name = memberDisplayName(i.Member)
	}
	return editEmbeds(ctx, h, caseListEmbed(page, name, user.AvatarURL(""), b.expiration, false))
}

func (b *ModBot) handleGetCase(ctx context.Context, h InteractionHandler) error {
	caseNumber := optionInt(discordInteractionOptions(h.GetInteraction()), "case_number", 0)
	c, found, err := b.ledger.FindByCaseNumber(ctx, caseNumber)
	if err != nil {
		return err
	}
	if !found {
		return respondText(ctx, h, true, caseNotFoundText)
	}

	member, err := b.guildMember(ctx, c.SubjectUserID)
	if err != nil {
		h.Logger().WarnContext(ctx, "unable to look up case subject", tint.Err(err))
	}
	return respondEmbeds(ctx, h, false, modCaseEmbed(*c, member))
}

// handleRemoveCase deletes a case, if the caller could moderate its
// subject
func (b *ModBot) handleRemoveCase(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	caseNumber := optionInt(discordInteractionOptions(i), "case_number", 0)
	c, found, err := b.ledger.FindByCaseNumber(ctx, caseNumber)
	if err != nil {
		return err
	}
	if !found {
		return respondText(ctx, h, true, caseNotFoundText)
	}

	member, err := b.guildMember(ctx, c.SubjectUserID)
	if err != nil {
		return err
	}
	if member != nil {
		allowed, modErr := b.canModerate(ctx, i.Member, member)
		if modErr != nil {
			return modErr
		}
		if !allowed {
			return respondText(ctx, h, true, cannotModerateText)
		}
	}

	removed, found, err := b.ledger.Delete(ctx, caseNumber)
	if err != nil {
		return err
	}
	if !found {
		return respondText(ctx, h, true, caseNotFoundText)
	}
	h.Logger().InfoContext(ctx, "removed case", caseLogAttrs(*removed)...)
	return respondEmbeds(ctx, h, false, modCaseEmbed(*removed, member))
}
