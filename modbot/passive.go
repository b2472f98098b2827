package modbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// handleSuggestionThread reacts to new suggestion posts. A forum post's
// starter message shares the thread's ID. The like emoji goes last so
// it's shown first.
func (b *ModBot) handleSuggestionThread(ctx context.Context, t *discordgo.ThreadCreate) error {
	if t.Channel == nil || !t.NewlyCreated {
		return nil
	}
	if suggestions := b.config.Guild.SuggestionsChannelID; suggestions == "" || t.ParentID != suggestions {
		return nil
	}

	session := b.session()
	for _, emoji := range []string{b.config.Guild.DislikeEmoji, b.config.Guild.LikeEmoji} {
		if emoji == "" {
			continue
		}
		if err := session.MessageReactionAdd(t.ID, t.ID, emoji, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("error reacting to suggestion %s: %w", t.ID, wrapDiscordError(err))
		}
	}
	return nil
}
