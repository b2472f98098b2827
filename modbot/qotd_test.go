package modbot

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextMidnightUTC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		t        time.Time
		expected time.Time
	}{
		{
			name:     "afternoon",
			t:        time.Date(2024, 1, 31, 15, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "exactly midnight",
			t:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "end of year",
			t:        time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
			expected: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "other zone",
			t:        time.Date(2024, 6, 1, 22, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)),
			expected: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, nextMidnightUTC(tc.t))
			},
		)
	}
}

func newTestQuestionSender(t testing.TB) (*QuestionSender, *gormStore, *mockDiscordSession) {
	t.Helper()
	store := newTestStore(t)
	session := newMockDiscordSession()
	q := NewQuestionSender(
		store,
		session,
		&GuildConfig{GuildID: testGuildID, QOTDChannelID: testQOTDChannelID},
		slog.Default(),
	)
	return q, store, session
}

func TestQuestionSender_SendNext(t *testing.T) {
	q, store, session := newTestQuestionSender(t)
	session.addMember(newTestMember("400"))
	ctx := context.Background()

	require.NoError(t, store.AddQuestion(ctx, &Question{Question: "first?", Credit: "400", CreatedAt: time.Now()}))
	require.NoError(t, store.AddQuestion(ctx, &Question{Question: "second?", Credit: "999", CreatedAt: time.Now()}))

	require.NoError(t, q.SendNext(ctx))
	require.NoError(t, q.SendNext(ctx))
	require.NoError(t, q.SendNext(ctx))

	sent := session.sentTo(testQOTDChannelID)
	require.Len(t, sent, 3)

	first := sent[0].Embeds[0]
	assert.Equal(t, "Question of the Day", first.Title)
	assert.Equal(t, "**first?**", first.Description)
	require.NotNil(t, first.Footer)
	assert.Equal(t, "By user400", first.Footer.Text)

	// credited user has left
	second := sent[1].Embeds[0]
	assert.Equal(t, "**second?**", second.Description)
	assert.Nil(t, second.Footer)

	assert.Equal(t, "There are no new questions in the queue", sent[2].Embeds[0].Title)

	questions, err := store.ListQuestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestQuestionSender_SendNextPostFails(t *testing.T) {
	q, store, session := newTestQuestionSender(t)
	ctx := context.Background()
	require.NoError(t, store.AddQuestion(ctx, &Question{Question: "first?", CreatedAt: time.Now()}))
	require.NoError(t, store.AddQuestion(ctx, &Question{Question: "second?", CreatedAt: time.Now()}))

	session.failWith("ChannelMessageSendComplex", restError(http.StatusInternalServerError, 0))
	assert.Error(t, q.SendNext(ctx))

	questions, err := store.ListQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "first?", questions[0].Question)

	session.failWith("ChannelMessageSendComplex", nil)
	require.NoError(t, q.SendNext(ctx))
	sent := session.sentTo(testQOTDChannelID)
	require.Len(t, sent, 1)
	assert.Equal(t, "**first?**", sent[0].Embeds[0].Description)
}

func TestQuestionSender_Run(t *testing.T) {
	q, store, session := newTestQuestionSender(t)
	now := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	waits := make(chan time.Duration, 10)
	fire := make(chan time.Time)
	q.after = func(d time.Duration) <-chan time.Time {
		waits <- d
		return fire
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.AddQuestion(ctx, &Question{Question: "why?", CreatedAt: now}))

	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx)
	}()

	assert.Equal(t, time.Hour, receive(t, waits))
	fire <- now.Add(time.Hour)

	// waiting again means the question was sent
	receive(t, waits)
	sent := session.sentTo(testQOTDChannelID)
	require.Len(t, sent, 1)
	assert.Equal(t, "**why?**", sent[0].Embeds[0].Description)

	cancel()
	assert.NoError(t, receive(t, done))
}

func TestHandleQOTD_Add(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	h := runInteraction(
		t,
		bot,
		newCommandInteraction(moderator(), commandQOTD, subcommandOpt(subcommandQOTDAdd, stringOpt("qotd", "Tabs or spaces?"))),
	)
	requireDeferred(t, h, false)
	embed := editedEmbed(t, h)
	assert.Equal(t, "QOTD Added", embed.Title)
	assert.Equal(t, "Tabs or spaces?", embed.Description)
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "user10", embed.Footer.Text)

	questions, err := bot.store.ListQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, testModeratorID, questions[0].Credit)
	assert.Equal(t, testModeratorID, questions[0].AddedBy)
}

func TestHandleQOTD_AddWithCredit(t *testing.T) {
	bot, _ := newTestBot(t)

	i := newCommandInteraction(
		moderator(),
		commandQOTD,
		subcommandOpt(subcommandQOTDAdd, stringOpt("qotd", "Vim or emacs?"), userOpt("credit", "400")),
	)
	data := i.ApplicationCommandData()
	data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
		Members: map[string]*discordgo.Member{"400": {Nick: "asker"}},
		Users:   map[string]*discordgo.User{"400": {ID: "400", Username: "user400"}},
	}
	i.Data = data

	h := runInteraction(t, bot, i)
	requireDeferred(t, h, false)
	embed := editedEmbed(t, h)
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "asker", embed.Footer.Text)

	questions, err := bot.store.ListQuestions(context.Background())
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "400", questions[0].Credit)
	assert.Equal(t, testModeratorID, questions[0].AddedBy)
}

func TestHandleQOTD_List(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()
	for _, question := range []string{"one?", "two?"} {
		require.NoError(t, bot.store.AddQuestion(ctx, &Question{Question: question, CreatedAt: time.Now()}))
	}

	h := runInteraction(t, bot, newCommandInteraction(moderator(), commandQOTD, subcommandOpt(subcommandQOTDList)))
	requireDeferred(t, h, false)
	embed := editedEmbed(t, h)
	assert.Equal(t, "QOTD Queue:", embed.Title)
	assert.Equal(t, "**1.** one?\n\n**2.** two?\n\n", embed.Description)
}
