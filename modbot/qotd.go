package modbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Question is a queued question of the day. Credit is the ID of the
// user credited for it.
type Question struct {
	ModelUintID
	Question  string    `gorm:"not null" json:"question"`
	Credit    string    `json:"credit"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// nextMidnightUTC returns the first midnight UTC strictly after t
func nextMidnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// QuestionSender posts the oldest queued question to the QOTD channel
// every day at midnight UTC
type QuestionSender struct {
	store     Store
	session   DiscordSessionHandler
	guildID   string
	channelID string
	logger    *slog.Logger
	now       func() time.Time
	after     func(d time.Duration) <-chan time.Time
}

func NewQuestionSender(
	store Store,
	session DiscordSessionHandler,
	guild *GuildConfig,
	logger *slog.Logger,
) *QuestionSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionSender{
		store:     store,
		session:   session,
		guildID:   guild.GuildID,
		channelID: guild.QOTDChannelID,
		logger:    logger.With(loggerNameKey, "qotd"),
		now:       time.Now,
		after:     time.After,
	}
}

// Run sends a question at each midnight UTC until ctx is done
func (q *QuestionSender) Run(ctx context.Context) error {
	for {
		next := nextMidnightUTC(q.now())
		wait := next.Sub(q.now())
		q.logger.DebugContext(ctx, "waiting for next question", "next", next, "wait", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-q.after(wait):
			if err := q.SendNext(ctx); err != nil {
				q.logger.ErrorContext(ctx, "error sending question of the day", tint.Err(err))
			}
		}
	}
}

// SendNext pops and posts the oldest question, or posts a notice that
// the queue is empty. A question that fails to post goes back to the
// front of the queue.
func (q *QuestionSender) SendNext(ctx context.Context) error {
	question, err := q.store.PopQuestion(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		_, err = q.session.ChannelMessageSendEmbed(
			q.channelID,
			simpleEmbed("There are no new questions in the queue", "Go annoy someone to add more.", colorQOTD),
			discordgo.WithContext(ctx),
		)
		return err
	case err != nil:
		return fmt.Errorf("error getting next question: %w", err)
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Question of the Day",
		Description: fmt.Sprintf("**%s**", question.Question),
		Color:       colorQOTD,
		Timestamp:   q.now().UTC().Format(time.RFC3339),
	}
	if question.Credit != "" {
		member, memberErr := q.session.GuildMember(q.guildID, question.Credit, discordgo.WithContext(ctx))
		if memberErr == nil && member.User != nil {
			embed.Footer = &discordgo.MessageEmbedFooter{
				Text:    "By " + memberDisplayName(member),
				IconURL: member.AvatarURL(""),
			}
		}
	}

	if _, err = q.session.ChannelMessageSendEmbed(q.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		err = fmt.Errorf("error posting question: %w", wrapDiscordError(err))
		if requeueErr := q.store.AddQuestion(ctx, question); requeueErr != nil {
			return errors.Join(err, fmt.Errorf("error requeueing question: %w", requeueErr))
		}
		return err
	}
	q.logger.InfoContext(ctx, "sent question of the day", "credit", question.Credit)
	return nil
}

// handleQOTD dispatches the qotd subcommands
func (b *ModBot) handleQOTD(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	switch subcommandName(i) {
	case subcommandQOTDAdd:
		return b.handleQOTDAdd(ctx, h)
	case subcommandQOTDList:
		return b.handleQOTDList(ctx, h)
	default:
		return fmt.Errorf("unknown qotd subcommand: %q", subcommandName(i))
	}
}

func (b *ModBot) handleQOTDAdd(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	opts := discordInteractionOptions(i)
	caller := getDiscordUser(i)

	if err := deferResponse(ctx, h, false); err != nil {
		return err
	}

	creditID := caller.ID
	creditMember := i.Member
	if opt, ok := opts["credit"]; ok && opt != nil {
		creditID = optionUserID(opt)
		creditMember = nil
		if data := i.ApplicationCommandData(); data.Resolved != nil {
			if m, resolved := data.Resolved.Members[creditID]; resolved && m != nil {
				creditMember = m
				if m.User == nil {
					creditMember.User = data.Resolved.Users[creditID]
				}
			}
		}
	}

	question := &Question{
		Question:  optionString(opts, "qotd"),
		Credit:    creditID,
		AddedBy:   caller.ID,
		CreatedAt: storeTime(b.now()),
	}
	if err := b.store.AddQuestion(ctx, question); err != nil {
		return fmt.Errorf("error adding question: %w", err)
	}

	embed := &discordgo.MessageEmbed{
		Title:       "QOTD Added",
		Description: question.Question,
		Color:       colorQOTD,
		Timestamp:   question.CreatedAt.Format(time.RFC3339),
	}
	if creditMember != nil && creditMember.User != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    memberDisplayName(creditMember),
			IconURL: creditMember.AvatarURL(""),
		}
	}
	return editEmbeds(ctx, h, embed)
}

func (b *ModBot) handleQOTDList(ctx context.Context, h InteractionHandler) error {
	if err := deferResponse(ctx, h, false); err != nil {
		return err
	}
	questions, err := b.store.ListQuestions(ctx)
	if err != nil {
		return fmt.Errorf("error listing questions: %w", err)
	}
	return editEmbeds(ctx, h, simpleEmbed("QOTD Queue:", questionListDescription(questions), colorQOTD))
}
