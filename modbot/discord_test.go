package modbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppID                 = "50"
	testOwnerID               = "1"
	testModeratorID           = "10"
	testGuildID               = "1000"
	testChannelID             = "1010"
	testModMailGuildID        = "2000"
	testModMailCategoryID     = "2001"
	testUnverifiedRoleID      = "1101"
	testBoardUnverifiedRoleID = "1102"
	testNewMemberRoleID       = "1103"
	testMemberRoleID          = "1104"
	testModRoleID             = "1105"
	testBotRoleID             = "1106"
	testDebateRoleID          = "1107"
	testDebateBanRoleID       = "1108"
	testQOTDChannelID         = "1201"
	testSuggestionsChannelID  = "1202"
	testBoardInviterID        = "60"
)

var interactionSeq atomic.Int64

type sentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

type roleChange struct {
	GuildID string
	UserID  string
	RoleID  string
}

type timeoutCall struct {
	UserID string
	Until  *time.Time
}

type banCall struct {
	UserID        string
	Reason        string
	DeleteSeconds int
}

type reactionCall struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// mockDiscordSession is an in-memory stand-in for the discord REST API.
// Members, roles, bans and channels can be seeded directly, and calls
// are recorded for assertions. Errors for a method can be injected
// with failWith.
type mockDiscordSession struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar

	mu              sync.Mutex
	guild           *discordgo.Guild
	roles           []*discordgo.Role
	members         map[string]*discordgo.Member
	users           map[string]*discordgo.User
	bans            map[string]bool
	invites         []*discordgo.Invite
	channels        map[string]*discordgo.Channel
	channelMessages map[string][]*discordgo.Message
	dmDisabled      map[string]bool
	errs            map[string]error

	sent            []sentMessage
	roleAdds        []roleChange
	roleRemoves     []roleChange
	timeouts        []timeoutCall
	bansCreated     []banCall
	reactions       []reactionCall
	bulkDeleted     []string
	messageEdits    []*discordgo.MessageEdit
	channelEdits    map[string]*discordgo.ChannelEdit
	createdChannels []discordgo.GuildChannelCreateData
	registered      map[string][]*discordgo.ApplicationCommand
	responses       []*discordgo.InteractionResponse
	handlers        []any
	opened          bool
	closed          bool
}

func newMockDiscordSession() *mockDiscordSession {
	m := &mockDiscordSession{
		logLevel: &slog.LevelVar{},
		guild: &discordgo.Guild{
			ID:      testGuildID,
			Name:    "Test Guild",
			OwnerID: testOwnerID,
		},
		roles: []*discordgo.Role{
			{ID: testUnverifiedRoleID, Position: 1},
			{ID: testBoardUnverifiedRoleID, Position: 1},
			{ID: testNewMemberRoleID, Position: 2},
			{ID: testMemberRoleID, Position: 3},
			{ID: testModRoleID, Position: 5},
			{ID: testBotRoleID, Position: 10},
			{ID: testDebateRoleID, Position: 1},
			{ID: testDebateBanRoleID, Position: 1},
		},
		members:         map[string]*discordgo.Member{},
		users:           map[string]*discordgo.User{},
		bans:            map[string]bool{},
		channels:        map[string]*discordgo.Channel{},
		channelMessages: map[string][]*discordgo.Message{},
		dmDisabled:      map[string]bool{},
		errs:            map[string]error{},
		channelEdits:    map[string]*discordgo.ChannelEdit{},
		registered:      map[string][]*discordgo.ApplicationCommand{},
	}
	m.logLevel.Set(slog.LevelDebug)
	m.logger = slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     m.logLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord_session_handler")
	m.addMember(newTestMember(testAppID, testBotRoleID))
	m.users[testAppID].Bot = true
	m.addMember(newTestMember(testModeratorID, testModRoleID))
	m.addMember(newTestMember(testOwnerID))
	return m
}

func restError(status int, code int) *discordgo.RESTError {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: http.StatusText(status)},
	}
}

func newTestMember(userID string, roles ...string) *discordgo.Member {
	return &discordgo.Member{
		GuildID:  testGuildID,
		User:     &discordgo.User{ID: userID, Username: "user" + userID},
		Roles:    roles,
		JoinedAt: time.Now().Add(-time.Hour),
	}
}

func (d *mockDiscordSession) addMember(m *discordgo.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.User.ID] = m
	d.users[m.User.ID] = m.User
}

func (d *mockDiscordSession) removeMember(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members, userID)
}

func (d *mockDiscordSession) failWith(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[method] = err
}

// errFor returns the injected error for method. Callers hold mu.
func (d *mockDiscordSession) errFor(method string) error {
	return d.errs[method]
}

func dmChannelID(userID string) string {
	return "dm-" + userID
}

// sentTo returns messages sent to the channel
func (d *mockDiscordSession) sentTo(channelID string) []*discordgo.MessageSend {
	d.mu.Lock()
	defer d.mu.Unlock()
	var msgs []*discordgo.MessageSend
	for _, s := range d.sent {
		if s.ChannelID == channelID {
			msgs = append(msgs, s.Message)
		}
	}
	return msgs
}

func (d *mockDiscordSession) dmsTo(userID string) []*discordgo.MessageSend {
	return d.sentTo(dmChannelID(userID))
}

func (d *mockDiscordSession) memberRoles(userID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[userID]
	if !ok {
		return nil
	}
	return append([]string{}, m.Roles...)
}

func (d *mockDiscordSession) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	d.logger.Info("opened session")
	return d.errFor("Open")
}

func (d *mockDiscordSession) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.logger.Info("closed session")
	return nil
}

func (d *mockDiscordSession) AddHandler(handler any) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
	return func() {
		d.logger.Info("mock-removed handler function")
	}
}

func (d *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	d.logLevel.Set(lvl)
	return nil
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("overwrite application commands", "app_id", appID, "guild_id", guildID)
	d.registered[guildID] = commands
	cmds := make([]*discordgo.ApplicationCommand, len(commands))
	for i, c := range commands {
		cmds[i] = &discordgo.ApplicationCommand{Name: c.Name, Description: c.Description}
	}
	return cmds, nil
}

func (d *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, resp)
	return nil
}

func (d *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	_ *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) InteractionResponseDelete(
	_ *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) error {
	return nil
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: content}, options...)
}

func (d *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("ChannelMessageSendComplex"); err != nil {
		return nil, err
	}
	for userID, disabled := range d.dmDisabled {
		if disabled && channelID == dmChannelID(userID) {
			return nil, restError(http.StatusForbidden, discordgo.ErrCodeCannotSendMessagesToThisUser)
		}
	}
	d.sent = append(d.sent, sentMessage{ChannelID: channelID, Message: data})
	return &discordgo.Message{
		ID:        fmt.Sprintf("msg-%d", len(d.sent)),
		ChannelID: channelID,
		Content:   data.Content,
		Embeds:    data.Embeds,
	}, nil
}

func (d *mockDiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
		options...,
	)
}

func (d *mockDiscordSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageEdits = append(d.messageEdits, m)
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

// ChannelMessages returns up to limit messages before beforeID, newest
// first, as discord does
func (d *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := d.channelMessages[channelID]
	start := 0
	if beforeID != "" {
		for i, m := range all {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(all))
	if start >= end {
		return nil, nil
	}
	return append([]*discordgo.Message{}, all[start:end]...), nil
}

func (d *mockDiscordSession) ChannelMessagesBulkDelete(
	channelID string,
	messages []string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("ChannelMessagesBulkDelete"); err != nil {
		return err
	}
	d.bulkDeleted = append(d.bulkDeleted, messages...)
	return nil
}

func (d *mockDiscordSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[channelID]
	if !ok {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownChannel)
	}
	return ch, nil
}

func (d *mockDiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channelEdits[channelID] = data
	ch, ok := d.channels[channelID]
	if !ok {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownChannel)
	}
	if data.Name != "" {
		ch.Name = data.Name
	}
	return ch, nil
}

func (d *mockDiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("GuildChannelCreateComplex"); err != nil {
		return nil, err
	}
	d.createdChannels = append(d.createdChannels, data)
	ch := &discordgo.Channel{
		ID:       fmt.Sprintf("%d", 3000+len(d.createdChannels)),
		GuildID:  guildID,
		Name:     data.Name,
		Topic:    data.Topic,
		ParentID: data.ParentID,
		Type:     data.Type,
	}
	d.channels[ch.ID] = ch
	return ch, nil
}

func (d *mockDiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reactions = append(d.reactions, reactionCall{ChannelID: channelID, MessageID: messageID, Emoji: emojiID})
	return nil
}

func (d *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[recipientID]
	if !ok {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownUser)
	}
	return &discordgo.Channel{
		ID:         dmChannelID(recipientID),
		Type:       discordgo.ChannelTypeDM,
		Recipients: []*discordgo.User{u},
	}, nil
}

func (d *mockDiscordSession) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownUser)
	}
	return u, nil
}

func (d *mockDiscordSession) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("Guild"); err != nil {
		return nil, err
	}
	g := *d.guild
	g.ID = guildID
	return &g, nil
}

func (d *mockDiscordSession) GuildRoles(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roles, nil
}

func (d *mockDiscordSession) GuildInvites(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Invite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("GuildInvites"); err != nil {
		return nil, err
	}
	invites := make([]*discordgo.Invite, len(d.invites))
	for i, inv := range d.invites {
		c := *inv
		invites[i] = &c
	}
	return invites, nil
}

// setInviteUses sets the use count of the invite with the given code
func (d *mockDiscordSession) setInviteUses(code string, uses int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, inv := range d.invites {
		if inv.Code == code {
			inv.Uses = uses
		}
	}
}

func (d *mockDiscordSession) GuildMember(
	_ string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("GuildMember"); err != nil {
		return nil, err
	}
	m, ok := d.members[userID]
	if !ok {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownMember)
	}
	c := *m
	c.Roles = append([]string{}, m.Roles...)
	return &c, nil
}

func (d *mockDiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("GuildMemberRoleAdd"); err != nil {
		return err
	}
	m, ok := d.members[userID]
	if !ok {
		return restError(http.StatusNotFound, discordgo.ErrCodeUnknownMember)
	}
	d.roleAdds = append(d.roleAdds, roleChange{GuildID: guildID, UserID: userID, RoleID: roleID})
	if !memberHasRole(m, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (d *mockDiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[userID]
	if !ok {
		return restError(http.StatusNotFound, discordgo.ErrCodeUnknownMember)
	}
	d.roleRemoves = append(d.roleRemoves, roleChange{GuildID: guildID, UserID: userID, RoleID: roleID})
	roles := m.Roles[:0]
	for _, r := range m.Roles {
		if r != roleID {
			roles = append(roles, r)
		}
	}
	m.Roles = roles
	return nil
}

func (d *mockDiscordSession) GuildMemberTimeout(
	_ string,
	userID string,
	until *time.Time,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("GuildMemberTimeout"); err != nil {
		return err
	}
	d.timeouts = append(d.timeouts, timeoutCall{UserID: userID, Until: until})
	return nil
}

func (d *mockDiscordSession) GuildBanCreate(
	_ string,
	userID string,
	reason string,
	deleteMessageSeconds int,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errFor("GuildBanCreate"); err != nil {
		return err
	}
	d.bansCreated = append(d.bansCreated, banCall{UserID: userID, Reason: reason, DeleteSeconds: deleteMessageSeconds})
	d.bans[userID] = true
	delete(d.members, userID)
	return nil
}

func (d *mockDiscordSession) GuildBan(
	_ string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.GuildBan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.bans[userID] {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownBan)
	}
	return &discordgo.GuildBan{User: d.users[userID]}, nil
}

func (d *mockDiscordSession) GuildBanDelete(_ string, userID string, _ ...discordgo.RequestOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.bans[userID] {
		return restError(http.StatusNotFound, discordgo.ErrCodeUnknownBan)
	}
	delete(d.bans, userID)
	return nil
}

func newStubInteractionHandler(t testing.TB, i *discordgo.InteractionCreate) stubInteractionHandler {
	t.Helper()
	return stubInteractionHandler{
		interaction: i,
		logger:      slog.Default().With("test_name", t.Name()),
		callRespond: make(chan *discordgo.InteractionResponse, 100),
		callEdit:    make(chan *discordgo.WebhookEdit, 100),
		callDelete:  make(chan struct{}, 100),
	}
}

// stubInteractionHandler records responses on channels instead of
// sending them to discord
type stubInteractionHandler struct {
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger

	callRespond chan *discordgo.InteractionResponse
	callEdit    chan *discordgo.WebhookEdit
	callDelete  chan struct{}
}

func (s stubInteractionHandler) Respond(
	_ context.Context,
	i *discordgo.InteractionResponse,
) error {
	s.callRespond <- i
	return nil
}

func (s stubInteractionHandler) Edit(
	ctx context.Context,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.Logger().InfoContext(ctx, "edit called")
	s.callEdit <- e
	return &discordgo.Message{}, nil
}

func (s stubInteractionHandler) Delete(ctx context.Context, _ ...discordgo.RequestOption) {
	s.Logger().InfoContext(ctx, "delete called")
	s.callDelete <- struct{}{}
}

func (s stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

// receive waits for the next value on ch
func receive[T any](t testing.TB, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

// requireNoMore fails if anything else was sent on ch
func requireNoMore[T any](t testing.TB, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value: %#v", v)
	default:
	}
}

// responseContent returns the content of an interaction response, and
// whether it was ephemeral
func responseContent(t testing.TB, r *discordgo.InteractionResponse) (string, bool) {
	t.Helper()
	require.NotNil(t, r.Data)
	return r.Data.Content, r.Data.Flags&discordgo.MessageFlagsEphemeral != 0
}

// requireEphemeralText asserts the next response is an ephemeral text
// reply with the given content
func requireEphemeralText(t testing.TB, h stubInteractionHandler, expected string) {
	t.Helper()
	content, ephemeral := responseContent(t, receive(t, h.callRespond))
	assert.Equal(t, expected, content)
	assert.True(t, ephemeral)
}

// requireDeferred asserts the next response defers the reply
func requireDeferred(t testing.TB, h stubInteractionHandler, ephemeral bool) {
	t.Helper()
	r := receive(t, h.callRespond)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, r.Type)
	if ephemeral {
		require.NotNil(t, r.Data)
		assert.NotZero(t, r.Data.Flags&discordgo.MessageFlagsEphemeral)
	}
}

// respondedEmbed returns the single embed of the next response, and
// whether it was ephemeral
func respondedEmbed(t testing.TB, h stubInteractionHandler) (*discordgo.MessageEmbed, bool) {
	t.Helper()
	r := receive(t, h.callRespond)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, r.Type)
	require.NotNil(t, r.Data)
	require.Len(t, r.Data.Embeds, 1)
	return r.Data.Embeds[0], r.Data.Flags&discordgo.MessageFlagsEphemeral != 0
}

// editedEmbed returns the single embed of the next response edit
func editedEmbed(t testing.TB, h stubInteractionHandler) *discordgo.MessageEmbed {
	t.Helper()
	e := receive(t, h.callEdit)
	require.NotNil(t, e.Embeds)
	require.Len(t, *e.Embeds, 1)
	return (*e.Embeds)[0]
}

func editedContent(t testing.TB, h stubInteractionHandler) string {
	t.Helper()
	e := receive(t, h.callEdit)
	require.NotNil(t, e.Content)
	return *e.Content
}

func nextInteractionID() string {
	return fmt.Sprintf("%d", 900000+interactionSeq.Add(1))
}

func userOpt(name string, userID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionUser,
		Value: userID,
	}
}

func intOpt(name string, v int64) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(v),
	}
}

func stringOpt(name string, v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: v,
	}
}

func subcommandOpt(
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    name,
		Type:    discordgo.ApplicationCommandOptionSubCommand,
		Options: options,
	}
}

// newCommandInteraction builds a slash command interaction invoked by
// member in the test channel
func newCommandInteraction(
	member *discordgo.Member,
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        nextInteractionID(),
			AppID:     testAppID,
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuildID,
			ChannelID: testChannelID,
			Member:    member,
			Data: discordgo.ApplicationCommandInteractionData{
				ID:          "cmd-" + name,
				Name:        name,
				CommandType: discordgo.ChatApplicationCommand,
				Options:     options,
			},
		},
	}
}

func TestDiscord_HandlersConnectDisconnect(t *testing.T) {
	session := newMockDiscordSession()
	d := newDiscord(
		&DiscordConfig{StartupMessage: "hello"},
		&GuildConfig{GuildID: testGuildID, LogChannelID: testChannelID},
	)
	d.logger = slog.Default()
	d.session = session

	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())

	sent := session.sentTo(testChannelID)
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].Content)

	d.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}

func TestDiscord_BotUserID(t *testing.T) {
	d := newDiscord(&DiscordConfig{ApplicationID: testAppID}, &GuildConfig{})
	d.logger = slog.Default()
	assert.Equal(t, testAppID, d.BotUserID())

	d.handlerReady()(nil, &discordgo.Ready{User: &discordgo.User{ID: "77"}})
	assert.Equal(t, "77", d.BotUserID())
}

func TestDiscord_RegisterCommands(t *testing.T) {
	session := newMockDiscordSession()
	d := newDiscord(
		&DiscordConfig{ApplicationID: testAppID},
		&GuildConfig{GuildID: testGuildID, ModMailGuildID: testModMailGuildID},
	)
	d.logger = slog.Default()
	d.session = session

	registered, err := d.registerCommands()
	require.NoError(t, err)
	assert.Len(t, registered, len(guildCommands())+len(modMailCommands()))

	names := func(cmds []*discordgo.ApplicationCommand) []string {
		var n []string
		for _, c := range cmds {
			n = append(n, c.Name)
		}
		return n
	}
	assert.Contains(t, names(session.registered[testGuildID]), commandModLogs)
	assert.NotContains(t, names(session.registered[testGuildID]), commandReply)
	assert.Contains(t, names(session.registered[testModMailGuildID]), commandReply)
	assert.Contains(t, names(session.registered[testModMailGuildID]), commandClose)
}

func TestDiscord_RegisterCommandsSingleGuild(t *testing.T) {
	session := newMockDiscordSession()
	d := newDiscord(&DiscordConfig{ApplicationID: testAppID}, &GuildConfig{GuildID: testGuildID})
	d.logger = slog.Default()
	d.session = session

	_, err := d.registerCommands()
	require.NoError(t, err)
	require.Len(t, session.registered, 1)
	assert.Len(t, session.registered[testGuildID], len(guildCommands())+len(modMailCommands()))
}
