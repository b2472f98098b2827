package modbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	modMailSentEmoji       = "📨"
	modMailChannelPrefix   = "mail-"
	modMailClosedPrefix    = "closed-"
	modMailNotActiveText   = "This channel is not an active mod mail channel"
	modMailDMDisabledText  = "The mod mail has been setup, but I am unable to DM you to pass on messages. Please ensure DMs are enabled for this server - https://support.discord.com/hc/en-us/articles/217916488"
	modMailMessageMaxInput = 4000
	channelTopicMaxLength  = 1024
)

// ModMailThread links a user to the private channel where moderators
// talk to them
type ModMailThread struct {
	ModelUintID
	MailNumber int64     `gorm:"uniqueIndex;not null" json:"mail_number"`
	ChannelID  string    `gorm:"uniqueIndex;not null" json:"channel_id"`
	UserID     string    `gorm:"uniqueIndex;not null" json:"user_id"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

// MailDirectory maps open mod mail channels to users and back. The
// store is the source of truth, the maps mirror it.
type MailDirectory struct {
	store  Store
	logger *slog.Logger

	mu        sync.RWMutex
	byChannel map[string]string
	byUser    map[string]string
}

func NewMailDirectory(store Store, logger *slog.Logger) *MailDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailDirectory{
		store:     store,
		logger:    logger.With(loggerNameKey, "modmail"),
		byChannel: map[string]string{},
		byUser:    map[string]string{},
	}
}

// Load replaces the directory with the threads in the store
func (d *MailDirectory) Load(ctx context.Context) error {
	threads, err := d.store.ListModMail(ctx)
	if err != nil {
		return fmt.Errorf("error loading mod mail: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byChannel = make(map[string]string, len(threads))
	d.byUser = make(map[string]string, len(threads))
	for _, t := range threads {
		d.byChannel[t.ChannelID] = t.UserID
		d.byUser[t.UserID] = t.ChannelID
	}
	d.logger.InfoContext(ctx, "loaded mod mail", "open", len(threads))
	return nil
}

// Open persists the thread, then adds it to the directory
func (d *MailDirectory) Open(ctx context.Context, t *ModMailThread) error {
	if err := d.store.CreateModMail(ctx, t); err != nil {
		return fmt.Errorf("error creating mod mail %d: %w", t.MailNumber, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byChannel[t.ChannelID] = t.UserID
	d.byUser[t.UserID] = t.ChannelID
	return nil
}

// Close removes the channel's thread, returning the user it belonged
// to, or false if the channel isn't a mod mail channel
func (d *MailDirectory) Close(ctx context.Context, channelID string) (string, bool, error) {
	userID, ok := d.UserForChannel(channelID)
	if !ok {
		return "", false, nil
	}
	if err := d.store.DeleteModMail(ctx, channelID); err != nil {
		return userID, true, fmt.Errorf("error deleting mod mail for channel %s: %w", channelID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byChannel, channelID)
	if d.byUser[userID] == channelID {
		delete(d.byUser, userID)
	}
	return userID, true, nil
}

func (d *MailDirectory) UserForChannel(channelID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byChannel[channelID]
	return u, ok
}

func (d *MailDirectory) ChannelForUser(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byUser[userID]
	return c, ok
}

func (d *MailDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byChannel)
}

// sendDM sends embeds to the user's DM channel
func sendDM(
	ctx context.Context,
	session DiscordSessionHandler,
	userID string,
	data *discordgo.MessageSend,
) (*discordgo.Message, error) {
	ch, err := session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return session.ChannelMessageSendComplex(ch.ID, data, discordgo.WithContext(ctx))
}

func modMailAlreadyOpenEmbed() *discordgo.MessageEmbed {
	return simpleEmbed(
		"You already have a mod mail open",
		"If you wish to create a new one, ask the mods to close the old mod mail",
		colorYellow,
	)
}

// handleStartModMail responds to the "Create Mod Mail" button with the
// mod mail modal
func (b *ModBot) handleStartModMail(ctx context.Context, h InteractionHandler) error {
	user := getDiscordUser(h.GetInteraction())
	if _, open := b.mail.ChannelForUser(user.ID); open {
		embed := modMailAlreadyOpenEmbed()
		if _, err := sendDM(ctx, b.session(), user.ID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}); err == nil {
			return h.Respond(ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
		}
		return respondEmbeds(ctx, h, true, embed)
	}

	return h.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: &discordgo.InteractionResponseData{
				CustomID: customIDModMailModal,
				Title:    "Create Mod Mail",
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							discordgo.TextInput{
								CustomID:    customIDModMailInput,
								Label:       "Message",
								Style:       discordgo.TextInputParagraph,
								Placeholder: "The message to send to the mod team",
								Required:    false,
								MaxLength:   modMailMessageMaxInput,
							},
						},
					},
				},
			},
		},
	)
}

// modalInputValue returns the value of the text input with the given
// custom ID
func modalInputValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rc := range row.Components {
			if input, isInput := rc.(*discordgo.TextInput); isInput && input.CustomID == customID {
				return input.Value
			}
		}
	}
	return ""
}

// handleModMailModal creates the mod mail channel and thread record
func (b *ModBot) handleModMailModal(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	user := getDiscordUser(i)
	logger := h.Logger()
	message := strings.TrimSpace(modalInputValue(i.ModalSubmitData(), customIDModMailInput))

	if err := deferResponse(ctx, h, true); err != nil {
		return err
	}
	if _, open := b.mail.ChannelForUser(user.ID); open {
		return editEmbeds(ctx, h, modMailAlreadyOpenEmbed())
	}

	mailNumber, err := b.counters.Increment(ctx, counterModMail)
	if err != nil {
		return err
	}

	session := b.session()
	channel, err := session.GuildChannelCreateComplex(
		b.config.Guild.modMailGuildID(),
		discordgo.GuildChannelCreateData{
			Name:     fmt.Sprintf("%s%d", modMailChannelPrefix, mailNumber),
			Type:     discordgo.ChannelTypeGuildText,
			ParentID: b.config.Guild.ModMailCategoryID,
			Topic:    truncate(fmt.Sprintf("Mod mail from %s (%s)", user.String(), user.ID), channelTopicMaxLength),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error creating mod mail channel: %w", wrapDiscordError(err))
	}

	notice := &discordgo.MessageSend{
		Content:         "@here New mod mail created",
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone}},
	}
	if message != "" {
		notice.Embeds = []*discordgo.MessageEmbed{simpleEmbed("", message, colorPrimary)}
	}
	if _, err = session.ChannelMessageSendComplex(channel.ID, notice, discordgo.WithContext(ctx)); err != nil {
		logger.ErrorContext(ctx, "error notifying mods of mod mail", tint.Err(err))
	}

	thread := &ModMailThread{
		MailNumber: mailNumber,
		ChannelID:  channel.ID,
		UserID:     user.ID,
		CreatedAt:  storeTime(b.now()),
	}
	if err = b.mail.Open(ctx, thread); err != nil {
		return err
	}
	logger.InfoContext(ctx, "opened mod mail", "mail_number", mailNumber, "channel_id", channel.ID)

	embeds := []*discordgo.MessageEmbed{
		simpleEmbed("Mod Mail Created", "Send messages here to talk to the mod team", colorGreen),
	}
	if message != "" {
		embeds = append(embeds, simpleEmbed("", message, colorGreen))
	}
	if _, err = sendDM(ctx, session, user.ID, &discordgo.MessageSend{Embeds: embeds}); err != nil {
		logger.WarnContext(ctx, "unable to DM mod mail user", tint.Err(err))
		return editText(ctx, h, modMailDMDisabledText)
	}
	h.Delete(ctx)
	return nil
}

// handleDirectMessage relays a DM from a user with an open mod mail to
// its channel
func (b *ModBot) handleDirectMessage(ctx context.Context, m *discordgo.MessageCreate) error {
	if m.GuildID != "" || m.Author == nil || m.Author.Bot {
		return nil
	}
	channelID, open := b.mail.ChannelForUser(m.Author.ID)
	if !open {
		return nil
	}

	relay := &discordgo.MessageSend{}
	if m.Content != "" {
		relay.Embeds = []*discordgo.MessageEmbed{simpleEmbed("", m.Content, colorPrimary)}
	}
	var attachments []string
	for _, a := range m.Attachments {
		attachments = append(attachments, a.URL)
	}
	relay.Content = strings.Join(attachments, "\n")
	if relay.Content == "" && len(relay.Embeds) == 0 {
		return nil
	}

	session := b.session()
	if _, err := session.ChannelMessageSendComplex(channelID, relay, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("error relaying mod mail message: %w", wrapDiscordError(err))
	}
	if err := session.MessageReactionAdd(m.ChannelID, m.ID, modMailSentEmoji, discordgo.WithContext(ctx)); err != nil {
		b.logger.WarnContext(ctx, "error reacting to relayed message", tint.Err(err))
	}
	return nil
}

func resolvedAttachment(
	i *discordgo.InteractionCreate,
	opt *discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.MessageAttachment {
	if opt == nil {
		return nil
	}
	id, _ := opt.Value.(string)
	resolved := i.ApplicationCommandData().Resolved
	if id == "" || resolved == nil {
		return nil
	}
	return resolved.Attachments[id]
}

// handleReply sends a moderator's reply to the mod mail user
func (b *ModBot) handleReply(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	userID, ok := b.mail.UserForChannel(i.ChannelID)
	if !ok {
		return respondText(ctx, h, true, modMailNotActiveText)
	}
	if err := deferResponse(ctx, h, false); err != nil {
		return err
	}

	session := b.session()
	user, err := session.User(userID, discordgo.WithContext(ctx))
	switch {
	case isDiscordNotFound(err):
		return editEmbeds(
			ctx,
			h,
			errorEmbed("User not found", fmt.Sprintf("You may want to close this mod mail - `/%s`", commandClose)),
		)
	case err != nil:
		return fmt.Errorf("error getting user %s: %w", userID, wrapDiscordError(err))
	}

	opts := discordInteractionOptions(i)
	embed := simpleEmbed("", optionString(opts, "message"), colorPrimary)
	if guild, guildErr := session.Guild(b.config.Guild.GuildID, discordgo.WithContext(ctx)); guildErr == nil {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    guild.Name + " Mod Team",
			IconURL: guild.IconURL(""),
		}
	}

	dm := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	if a := resolvedAttachment(i, opts["file"]); a != nil {
		dm.Content = a.URL
	}

	if _, err = sendDM(ctx, session, user.ID, dm); err != nil {
		h.Logger().WarnContext(ctx, "unable to DM mod mail user", tint.Err(err))
		return editEmbeds(
			ctx,
			h,
			simpleEmbed("Unable to DM user", "They may have direct messages disabled for the server.", colorYellow),
		)
	}
	_, err = h.Edit(ctx, &discordgo.WebhookEdit{Content: &dm.Content, Embeds: &dm.Embeds})
	return err
}

// handleCloseModMail closes the channel's mod mail
func (b *ModBot) handleCloseModMail(ctx context.Context, h InteractionHandler) error {
	i := h.GetInteraction()
	userID, ok := b.mail.UserForChannel(i.ChannelID)
	if !ok {
		return respondText(ctx, h, true, modMailNotActiveText)
	}
	if err := deferResponse(ctx, h, false); err != nil {
		return err
	}

	session := b.session()
	logger := h.Logger()
	if _, err := sendDM(
		ctx,
		session,
		userID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{errorEmbed("Your mod mail has been closed", "")}},
	); err != nil {
		logger.WarnContext(ctx, "unable to DM mod mail user", tint.Err(err))
	}

	if _, _, err := b.mail.Close(ctx, i.ChannelID); err != nil {
		return err
	}
	if err := editEmbeds(ctx, h, errorEmbed("Mod Mail Closed", "")); err != nil {
		return err
	}

	channel, err := session.Channel(i.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		logger.ErrorContext(ctx, "error getting mod mail channel", tint.Err(err))
		return nil
	}
	if _, err = session.ChannelEdit(
		i.ChannelID,
		&discordgo.ChannelEdit{Name: modMailClosedPrefix + channel.Name},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error renaming mod mail channel", tint.Err(err))
	}
	logger.InfoContext(ctx, "closed mod mail", "channel_id", i.ChannelID, "user_id", userID)
	return nil
}

// handleAttachMailButton adds the "Create Mod Mail" button to one of
// the bot's messages
func (b *ModBot) handleAttachMailButton(ctx context.Context, h InteractionHandler) error {
	data := h.GetInteraction().ApplicationCommandData()
	var target *discordgo.Message
	if data.Resolved != nil {
		target = data.Resolved.Messages[data.TargetID]
	}
	if target == nil || target.Author == nil || target.Author.ID != b.discord.BotUserID() {
		return respondText(ctx, h, true, "Not a bot message")
	}

	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{modMailButton()}},
	}
	if _, err := b.session().ChannelMessageEditComplex(
		&discordgo.MessageEdit{
			ID:         target.ID,
			Channel:    target.ChannelID,
			Components: &components,
		},
		discordgo.WithContext(ctx),
	); err != nil {
		return fmt.Errorf("error attaching mod mail button: %w", wrapDiscordError(err))
	}
	return respondText(ctx, h, true, "Done")
}
