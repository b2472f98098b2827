package modbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"

	defaultLogWriter io.Writer = os.Stdout

	structValidator = validator.New()
)

func init() {
	structValidator.SetTagName("binding")
}

// ModBot moderates a single guild, and relays mod mail between members
// and the mod team.
//
// Services are wired once the store and discord session are available,
// at the start of [ModBot.Run].
type ModBot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler
	store      Store
	discord    *Discord
	api        *API

	counters    *CounterService
	ledger      *CaseLedger
	expiration  ExpirationPolicy
	memberRoles *MemberRoleScheduler
	invites     *InviteClassifier
	mail        *MailDirectory
	qotd        *QuestionSender

	now func() time.Time

	runMu       sync.Mutex
	startedAt   time.Time
	signalReady chan struct{}
	signalStop  chan struct{}

	// getInteractionHandlerFunc builds the handler for received
	// interactions. Tests replace it to capture responses.
	getInteractionHandlerFunc func(ctx context.Context, i *discordgo.InteractionCreate) InteractionHandler
}

// New validates the database type and sets up logging, but doesn't
// connect to anything. Call Run to start the bot.
func New(config *Config) (*ModBot, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Discord == nil || config.Guild == nil || config.Moderation == nil ||
		config.QOTD == nil || config.API == nil {
		return nil, errors.New("incomplete config")
	}

	var errs []error
	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres, dbTypeMongoDB:
	default:
		errs = append(
			errs,
			fmt.Errorf(
				"invalid database type %q (must be %q, %q or %q)",
				config.DatabaseType,
				dbTypeSQLite,
				dbTypePostgres,
				dbTypeMongoDB,
			),
		)
	}

	b := &ModBot{
		config:      config,
		signalReady: make(chan struct{}, 1),
		now:         time.Now,
		expiration:  NewExpirationPolicy(config.Moderation.CaseRetention),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter,
		&tint.Options{Level: config.LogLevel, AddSource: true},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter,
			&tint.Options{Level: config.Discord.DiscordGoLogLevel, AddSource: true},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	b.discord = newDiscord(config.Discord, config.Guild)
	b.discord.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter,
			&tint.Options{Level: config.Discord.LogLevel, AddSource: true},
		),
	).With(loggerNameKey, "discord")

	b.getInteractionHandlerFunc = func(_ context.Context, i *discordgo.InteractionCreate) InteractionHandler {
		return newGatewayHandler(
			b.session(),
			i,
			b.logger.With(slog.Group("interaction", interactionLogAttrs(*i)...)),
		)
	}

	if config.API.Enabled {
		api, err := newAPI(b, config.API)
		if err != nil {
			errs = append(errs, err)
		}
		b.api = api
	}

	return b, errors.Join(errs...)
}

// ValidateConfig checks the config's `binding` tags
func (b *ModBot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

func (b *ModBot) session() DiscordSessionHandler {
	return b.discord.session
}

func (b *ModBot) dbLogHandler() slog.Handler {
	return tint.NewHandler(
		defaultLogWriter,
		&tint.Options{Level: b.config.DatabaseLogLevel, AddSource: true},
	)
}

// wireServices builds the bot's services on the store and session.
// ctx is the runtime context, used by member role timers.
func (b *ModBot) wireServices(ctx context.Context) {
	session := b.session()
	guild := b.config.Guild

	b.counters = NewCounterService(b.store)
	b.ledger = NewCaseLedger(b.store, b.counters)
	b.mail = NewMailDirectory(b.store, b.logger)
	b.invites = NewInviteClassifier(session, guild.GuildID, guild.BoardInviterIDs, b.logger)
	b.memberRoles = NewMemberRoleScheduler(
		ctx,
		b.store,
		session,
		guild,
		b.config.Moderation.MemberRoleDelay,
		b.logger,
	)
	b.qotd = NewQuestionSender(b.store, session, guild, b.logger)
}

// initRun opens the store and discord session (unless already set),
// wires services, loads open mod mail and finishes pending role
// assignments left over from a previous run.
func (b *ModBot) initRun(startCtx context.Context, runtimeCtx context.Context) error {
	logger := b.logger

	if b.store == nil {
		store, err := OpenStore(startCtx, b.config, b.dbLogHandler())
		if err != nil {
			return fmt.Errorf("error opening store: %w", err)
		}
		b.store = store
	}

	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return err
		}
		b.discord.session = session
	}

	b.wireServices(runtimeCtx)

	if err := b.mail.Load(startCtx); err != nil {
		return err
	}
	logger.InfoContext(startCtx, "loaded mod mail", "open", b.mail.Len())

	result, err := b.memberRoles.Reconcile(startCtx)
	if err != nil {
		return fmt.Errorf("error reconciling pending roles: %w", err)
	}
	if result.Failed > 0 {
		logger.WarnContext(startCtx, "some pending roles could not be reconciled", "failed", result.Failed)
	}
	logger.InfoContext(startCtx, "reconciled pending roles", "result", result)
	return nil
}

// Run starts the bot and blocks until ctx is cancelled, then shuts down.
func (b *ModBot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	b.signalStop = make(chan struct{}, 1)
	b.startedAt = b.now()

	if err := b.ValidateConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := b.logger
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"starting",
		slog.String("version", Version),
		slog.String("commit", CommitSHA),
		slog.Any("config", b.config),
	)
	if b.signalReady == nil {
		b.signalReady = make(chan struct{}, 1)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.signalStop:
			logger.InfoContext(ctx, "stop signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()
	initErr := make(chan error, 1)
	go func() {
		initErr <- b.initRun(startCtx, ctx)
	}()
	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err := <-initErr:
		if err != nil {
			return err
		}
	}
	startCancel()

	runtimeWG := &sync.WaitGroup{}
	b.initDiscordSession(ctx, runtimeWG)

	if err := b.session().Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if _, err := b.discord.registerCommands(discordgo.WithContext(ctx)); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
	}
	if err := b.invites.Refresh(ctx); err != nil {
		logger.WarnContext(ctx, "unable to snapshot invites", tint.Err(err))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if b.api != nil {
		group.Go(
			func() error {
				logger.InfoContext(ctx, "starting api", "listen", b.config.API.Listen)
				if err := b.api.Serve(groupCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("api error: %w", err)
				}
				return nil
			},
		)
	}
	if b.config.QOTD.Enabled && b.config.Guild.QOTDChannelID != "" {
		group.Go(func() error { return b.qotd.Run(groupCtx) })
	}
	groupDone := make(chan error, 1)
	go func() {
		err := group.Wait()
		if err != nil {
			logger.ErrorContext(ctx, "background task failed, stopping", tint.Err(err))
			cancel()
		}
		groupDone <- err
	}()

	b.signalReady <- struct{}{}
	logger.InfoContext(ctx, "ready", "startup", b.now().Sub(b.startedAt))

	<-ctx.Done()
	return b.shutdown(runtimeWG, groupDone)
}

// Stop signals a running bot to shut down
func (b *ModBot) Stop() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

// shutdown waits for in-flight handlers, then stops the API, the
// discord session and the store. After the shutdown timeout, the
// session and store are closed regardless.
func (b *ModBot) shutdown(runtimeWG *sync.WaitGroup, groupDone <-chan error) error {
	logger := b.logger
	logger.Info("shutting down")

	closeCtx, closeCancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer closeCancel()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	b.memberRoles.Stop()

	graceful := make(chan error, 1)
	go func() {
		runtimeWG.Wait()
		logger.Info("in-flight handlers finished")

		var errs []error
		if b.api != nil {
			if err := b.api.httpServer.Shutdown(closeCtx); err != nil {
				errs = append(errs, fmt.Errorf("error stopping api: %w", err))
			}
		}
		<-groupDone

		b.discord.removeHandlers()
		if err := b.session().Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
		if err := b.store.Close(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error closing store: %w", err))
		}
		graceful <- errors.Join(errs...)
	}()

	for {
		select {
		case err := <-graceful:
			if err != nil {
				logger.Error("error during shutdown", tint.Err(err))
				return err
			}
			logger.Info("shutdown complete")
			return nil
		case <-ticker.C:
			logger.Info("waiting for shutdown", "remaining", time.Until(deadlineOf(closeCtx)))
		case <-closeCtx.Done():
			logger.Warn("shutdown timed out, forcing close")
			_ = b.session().Close()
			_ = b.store.Close(context.Background())
			return errors.New("did not stop in time")
		}
	}
}

func deadlineOf(ctx context.Context) time.Time {
	deadline, _ := ctx.Deadline()
	return deadline
}

// initDiscordSession adds the gateway event handlers. Each event runs
// in its own goroutine, tracked by runtimeWG so shutdown can wait
// for it.
func (b *ModBot) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) {
	d := b.discord
	d.addHandler(d.handlerConnect())
	d.addHandler(d.handlerDisconnect())
	d.addHandler(d.handlerReady())

	d.addHandler(
		func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			if ctx.Err() != nil {
				return
			}
			handler := b.getInteractionHandlerFunc(ctx, i)
			runtimeWG.Add(1)
			go func() {
				defer runtimeWG.Done()
				b.handleInteraction(ctx, handler)
			}()
		},
	)
	d.addHandler(
		func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			b.runEvent(ctx, runtimeWG, "message_create", func(ctx context.Context) error {
				return b.handleDirectMessage(ctx, m)
			})
		},
	)
	d.addHandler(
		func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
			b.runEvent(ctx, runtimeWG, "guild_member_add", func(ctx context.Context) error {
				return b.handleMemberJoin(ctx, m)
			})
		},
	)
	d.addHandler(
		func(_ *discordgo.Session, t *discordgo.ThreadCreate) {
			b.runEvent(ctx, runtimeWG, "thread_create", func(ctx context.Context) error {
				return b.handleSuggestionThread(ctx, t)
			})
		},
	)
}

// runEvent runs a gateway event handler in a tracked goroutine,
// logging its error or panic
func (b *ModBot) runEvent(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	event string,
	f func(ctx context.Context) error,
) {
	if ctx.Err() != nil {
		return
	}
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		defer func() {
			if rc := recover(); rc != nil {
				b.handleRecover(ctx, rc)
			}
		}()
		if err := f(ctx); err != nil {
			b.logger.ErrorContext(ctx, "error handling event", "event", event, tint.Err(err))
		}
	}()
}

type interactionHandlerFunc func(b *ModBot, ctx context.Context, h InteractionHandler) error

var commandHandlers = map[string]interactionHandlerFunc{
	commandModLogs:          (*ModBot).handleModLogs,
	commandViewNotes:        (*ModBot).handleViewNotes,
	commandMyModLogs:        (*ModBot).handleMyModLogs,
	commandGetCase:          (*ModBot).handleGetCase,
	commandRemoveCase:       (*ModBot).handleRemoveCase,
	commandWarn:             (*ModBot).handleWarn,
	commandAddNote:          (*ModBot).handleAddNote,
	commandMute:             (*ModBot).handleMute,
	commandUnmute:           (*ModBot).handleUnmute,
	commandUnban:            (*ModBot).handleUnban,
	commandPurge:            (*ModBot).handlePurge,
	commandBan:              (*ModBot).handleBan,
	commandVerify:           (*ModBot).handleVerify,
	commandApprove:          (*ModBot).handleApprove,
	commandReply:            (*ModBot).handleReply,
	commandClose:            (*ModBot).handleCloseModMail,
	commandQOTD:             (*ModBot).handleQOTD,
	commandAttachMailButton: (*ModBot).handleAttachMailButton,
	commandSelfMute:         (*ModBot).handleSelfMute,
	commandDebate:           (*ModBot).handleDebate,
	commandWhois:            (*ModBot).handleWhois,
	commandBreathe:          (*ModBot).handleBreathe,
	commandRule14:           (*ModBot).handleRule14,
	commandProfilePicture:   (*ModBot).handleProfilePicture,
	commandGetSticker:       (*ModBot).handleGetSticker,
}

var modalHandlers = map[string]interactionHandlerFunc{
	customIDModMailModal: (*ModBot).handleModMailModal,
}

var componentHandlers = map[string]interactionHandlerFunc{
	customIDStartModMail: (*ModBot).handleStartModMail,
}

// handleInteraction logs the interaction, then routes it by type and
// name. Interactions from bots are logged but ignored.
func (b *ModBot) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	user := getDiscordUser(i)
	if user == nil {
		logger.WarnContext(ctx, "interaction has no user, ignoring")
		return
	}
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received interaction", "user_id", user.ID)

	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
			b.respondError(ctx, handler)
		}
	}()

	if interactionLog, err := newInteractionLog(i, user); err != nil {
		logger.ErrorContext(ctx, "error building interaction log", tint.Err(err))
	} else if err = b.store.LogInteraction(ctx, interactionLog); err != nil {
		logger.ErrorContext(ctx, "error saving interaction log", tint.Err(err))
	}

	if user.Bot {
		logger.InfoContext(ctx, "ignoring interaction from bot")
		return
	}

	var f interactionHandlerFunc
	name := interactionName(i)
	switch i.Type {
	case discordgo.InteractionPing:
		if err := handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		); err != nil {
			logger.ErrorContext(ctx, "error responding to ping", tint.Err(err))
		}
		return
	case discordgo.InteractionApplicationCommand:
		f = commandHandlers[name]
	case discordgo.InteractionModalSubmit:
		f = modalHandlers[name]
	case discordgo.InteractionMessageComponent:
		f = componentHandlers[name]
	}
	if f == nil {
		logger.WarnContext(ctx, "unknown interaction", "name", name, "type", i.Type.String())
		return
	}

	if err := f(b, ctx, handler); err != nil {
		logger.ErrorContext(ctx, "error handling interaction", "name", name, tint.Err(err))
		b.respondError(ctx, handler)
	}
}

// respondError tells the user something went wrong, editing the
// response instead if the interaction was already acknowledged
func (b *ModBot) respondError(ctx context.Context, handler InteractionHandler) {
	msg := b.config.Discord.ErrorMessage
	if msg == "" {
		msg = DefaultDiscordErrorMessage
	}
	if err := respondText(ctx, handler, true, msg); err != nil {
		_ = editText(ctx, handler, msg)
	}
}

// handleRecover logs a recovered panic along with its stack trace
func (b *ModBot) handleRecover(ctx context.Context, rc any) {
	logger := loggerFromContext(ctx, b.logger)
	stack := string(debug.Stack())
	switch rv := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(rv), "stack", stack)
	case string:
		logger.ErrorContext(ctx, "recovered from panic", "panic", rv, "stack", stack)
	default:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			"panic", fmt.Sprintf("%#v", rv),
			"stack", stack,
		)
	}
}
