package modbot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThreadCreate(id string, parentID string, newlyCreated bool) *discordgo.ThreadCreate {
	return &discordgo.ThreadCreate{
		Channel: &discordgo.Channel{
			ID:       id,
			GuildID:  testGuildID,
			ParentID: parentID,
			Type:     discordgo.ChannelTypeGuildPublicThread,
		},
		NewlyCreated: newlyCreated,
	}
}

func TestHandleSuggestionThread(t *testing.T) {
	bot, session := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, bot.handleSuggestionThread(ctx, newThreadCreate("5000", testSuggestionsChannelID, true)))

	session.mu.Lock()
	assert.Equal(
		t,
		[]reactionCall{
			{ChannelID: "5000", MessageID: "5000", Emoji: DefaultDislikeEmoji},
			{ChannelID: "5000", MessageID: "5000", Emoji: DefaultLikeEmoji},
		},
		session.reactions,
	)
	session.mu.Unlock()

	// other forums, and threads that already existed, are left alone
	require.NoError(t, bot.handleSuggestionThread(ctx, newThreadCreate("5001", testChannelID, true)))
	require.NoError(t, bot.handleSuggestionThread(ctx, newThreadCreate("5002", testSuggestionsChannelID, false)))
	require.NoError(t, bot.handleSuggestionThread(ctx, &discordgo.ThreadCreate{}))

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Len(t, session.reactions, 2)
}

func TestHandleSuggestionThread_Disabled(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Guild.SuggestionsChannelID = ""
	cfg.Guild.LikeEmoji = ""
	bot, session := newTestBotWithConfig(t, cfg)

	require.NoError(t, bot.handleSuggestionThread(context.Background(), newThreadCreate("5000", "", true)))

	bot.config.Guild.SuggestionsChannelID = testSuggestionsChannelID
	require.NoError(t, bot.handleSuggestionThread(context.Background(), newThreadCreate("5000", testSuggestionsChannelID, true)))

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, []reactionCall{{ChannelID: "5000", MessageID: "5000", Emoji: DefaultDislikeEmoji}}, session.reactions)
}
