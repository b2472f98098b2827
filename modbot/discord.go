package modbot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the Discord session, gateway event handlers and
// command registration.
//
// Fields:
//   - session: The Discord session handler.
//   - config: Configuration for Discord integration.
//   - logger: Logger for Discord-related events.
//   - connected: Atomic boolean indicating if the gateway connection is active.
//   - botUserID: The bot's user ID, set by the Ready handler.
//   - discordgoRemoveHandlerFuncs: Functions to remove discordgo event handlers.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	guild                       *GuildConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	botUserID                   atomic.Value
	discordgoRemoveHandlerFuncs []func()
	handlerMu                   sync.Mutex
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig, guild *GuildConfig) *Discord {
	return &Discord{
		config:                      config,
		guild:                       guild,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession initializes a new Discord session for the Discord struct.
// State caching is disabled, so guild, member and role lookups always
// go to the REST API.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = false
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc

	if d.config.DiscordGoLogLevel != nil {
		if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
			return session, err
		}
	}

	return session, nil
}

// addHandler registers a gateway event handler and keeps its removal func
func (d *Discord) addHandler(handler any) {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(handler),
	)
}

func (d *Discord) removeHandlers() {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	for _, remove := range d.discordgoRemoveHandlerFuncs {
		remove()
	}
	d.discordgoRemoveHandlerFuncs = []func(){}
}

// BotUserID returns the bot's user ID once the gateway is ready. Bot
// users share their application's ID, so that's used until then.
func (d *Discord) BotUserID() string {
	if v, ok := d.botUserID.Load().(string); ok && v != "" {
		return v
	}
	return d.config.ApplicationID
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.botUserID.Store(r.User.ID)
		}
		var userID, username string
		if r.User != nil {
			userID = r.User.ID
			username = r.User.Username
		}
		d.logger.Info(
			"Ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", userID, "username", username),
			"guilds", len(r.Guilds),
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("Connected", "connects", d.metricConnects.Load())

		if d.guild.LogChannelID == "" || d.config.StartupMessage == "" {
			return
		}
		if _, sendErr := d.session.ChannelMessageSend(
			d.guild.LogChannelID,
			d.config.StartupMessage,
			discordgo.WithRetryOnRatelimit(false),
			discordgo.WithRestRetries(1),
		); sendErr != nil {
			d.logger.Error("unable to send startup message", tint.Err(sendErr))
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected", "disconnects", d.metricDisconnects.Load())
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint. Mod mail commands are registered to the mod mail guild,
// everything else to the moderated guild.
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	byGuild := map[string][]*discordgo.ApplicationCommand{}
	byGuild[d.guild.GuildID] = guildCommands()
	modMailGuild := d.guild.modMailGuildID()
	byGuild[modMailGuild] = append(byGuild[modMailGuild], modMailCommands()...)

	var registered []*discordgo.ApplicationCommand
	for guildID, commands := range byGuild {
		created, err := d.session.ApplicationCommandBulkOverwrite(
			d.config.ApplicationID,
			guildID,
			commands,
			options...,
		)
		if err != nil {
			return registered, fmt.Errorf(
				"error overwriting commands for guild %s: %w",
				guildID,
				err,
			)
		}
		registered = append(registered, created...)
	}
	return registered, nil
}

// DiscordSessionHandler defines the methods from `discordgo.Session` which
// are used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the response to the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseDelete deletes the response to the given interaction
	InteractionResponseDelete(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) error

	ChannelMessageSend(
		channelID string,
		message string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageEditComplex(
		m *discordgo.MessageEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessages returns up to limit messages from the channel,
	// newest first
	ChannelMessages(
		channelID string,
		limit int,
		beforeID string,
		afterID string,
		aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)

	ChannelMessagesBulkDelete(
		channelID string,
		messages []string,
		options ...discordgo.RequestOption,
	) error

	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	ChannelEdit(
		channelID string,
		data *discordgo.ChannelEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	GuildChannelCreateComplex(
		guildID string,
		data discordgo.GuildChannelCreateData,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	MessageReactionAdd(
		channelID string,
		messageID string,
		emojiID string,
		options ...discordgo.RequestOption,
	) error

	// UserChannelCreate returns the DM channel with the given user
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)

	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)

	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)

	GuildInvites(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Invite, error)

	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)

	GuildMemberRoleAdd(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	GuildMemberRoleRemove(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	// GuildMemberTimeout times out the member until the given time. A nil
	// time removes an existing timeout.
	GuildMemberTimeout(
		guildID string,
		userID string,
		until *time.Time,
		options ...discordgo.RequestOption,
	) error

	// GuildBanCreate bans the user, deleting their messages from the
	// last deleteMessageSeconds
	GuildBanCreate(
		guildID string,
		userID string,
		reason string,
		deleteMessageSeconds int,
		options ...discordgo.RequestOption,
	) error

	// GuildBan returns the guild's ban for the given user
	GuildBan(guildID string, userID string, options ...discordgo.RequestOption) (*discordgo.GuildBan, error)

	GuildBanDelete(guildID string, userID string, options ...discordgo.RequestOption) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name, "guild_id", guildID)
	}
	return created, nil
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionResponseDelete(interaction, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, options...)
	if err != nil {
		d.logger.Error("error sending message", "channel_id", channelID, tint.Err(err))
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendEmbed(channelID, embed, options...)
}

func (d DiscordSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEditComplex(m, options...)
}

func (d DiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	afterID string,
	aroundID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return d.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}

func (d DiscordSession) ChannelMessagesBulkDelete(
	channelID string,
	messages []string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.ChannelMessagesBulkDelete(channelID, messages, options...)
	if err != nil {
		d.logger.Error(
			"error deleting messages",
			"channel_id", channelID,
			"count", len(messages),
			tint.Err(err),
		)
	}
	return err
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.ChannelEdit(channelID, data, options...)
}

func (d DiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.GuildChannelCreateComplex(guildID, data, options...)
	if err != nil {
		d.logger.Error("error creating channel", "name", data.Name, tint.Err(err))
	}
	return ch, err
}

func (d DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionAdd(channelID, messageID, emojiID, options...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, options...)
}

func (d DiscordSession) User(
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.User, error) {
	return d.session.User(userID, options...)
}

func (d DiscordSession) Guild(
	guildID string,
	options ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return d.session.Guild(guildID, options...)
}

func (d DiscordSession) GuildRoles(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	return d.session.GuildRoles(guildID, options...)
}

func (d DiscordSession) GuildInvites(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Invite, error) {
	return d.session.GuildInvites(guildID, options...)
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return d.session.GuildMember(guildID, userID, options...)
}

func (d DiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberRoleAdd(guildID, userID, roleID, options...)
	if err != nil {
		d.logger.Error(
			"error adding role",
			"user_id", userID,
			"role_id", roleID,
			tint.Err(err),
		)
	}
	return err
}

func (d DiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberRoleRemove(guildID, userID, roleID, options...)
	if err != nil {
		d.logger.Error(
			"error removing role",
			"user_id", userID,
			"role_id", roleID,
			tint.Err(err),
		)
	}
	return err
}

func (d DiscordSession) GuildMemberTimeout(
	guildID string,
	userID string,
	until *time.Time,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberTimeout(guildID, userID, until, options...)
}

// GuildBanCreate calls the ban endpoint directly, as discordgo's
// GuildBanCreate only accepts whole days of messages to delete
func (d DiscordSession) GuildBanCreate(
	guildID string,
	userID string,
	reason string,
	deleteMessageSeconds int,
	options ...discordgo.RequestOption,
) error {
	data := map[string]any{}
	if deleteMessageSeconds > 0 {
		data["delete_message_seconds"] = deleteMessageSeconds
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if reason != "" {
		options = append(options, discordgo.WithAuditLogReason(truncate(reason, 512)))
	}
	_, err = d.session.RequestWithBucketID(
		"PUT",
		discordgo.EndpointGuildBan(guildID, userID),
		json.RawMessage(body),
		discordgo.EndpointGuildBan(guildID, ""),
		options...,
	)
	return err
}

func (d DiscordSession) GuildBan(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.GuildBan, error) {
	return d.session.GuildBan(guildID, userID, options...)
}

func (d DiscordSession) GuildBanDelete(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildBanDelete(guildID, userID, options...)
}
