//nolint:lll // struct tags can't be split
package modbot

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix    = "MODBOT_ENV_PREFIX"
	DefaultEnvPrefix      = "MODBOT"
	DefaultDatabaseType   = dbTypeSQLite
	DefaultDatabase       = "modbot.sqlite3"
	DefaultMongoDatabase  = "modbot"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	DefaultShutdownTimeout   = 30 * time.Second
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent
	DefaultDiscordLogLevel       = slog.LevelInfo
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordErrorMessage   = "sorry, something went wrong!"
	DefaultDiscordStartupMessage = "I'm here!"

	DefaultCaseRetention    = 90 * 24 * time.Hour
	DefaultMemberRoleDelay  = 24 * time.Hour
	DefaultCaseDisplayLimit = 25
	DefaultLikeEmoji        = "👍"
	DefaultDislikeEmoji     = "👎"

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultAPICORSAllowCredentials = false
	defaultListenNetwork           = "tcp"

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string. For sqlite, this is a file path. For
	// postgres, a DSN. For mongodb, a connection URI.
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database: 'sqlite', 'postgres' or 'mongodb'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres mongodb"`

	// MongoDatabase is the database name used when DatabaseType is 'mongodb'
	MongoDatabase string `yaml:"mongo_database" mapstructure:"mongo_database" json:"mongo_database" binding:"required_if=DatabaseType mongodb"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	Guild *GuildConfig `yaml:"guild" mapstructure:"guild" json:"guild" binding:"required"`

	Moderation *ModerationConfig `yaml:"moderation" mapstructure:"moderation" json:"moderation" binding:"required"`

	QOTD *QOTDConfig `yaml:"qotd" mapstructure:"qotd" json:"qotd" binding:"required"`

	// API configures the read-only admin API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// open its store and reconcile pending role assignments. If this is
	// passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=1s"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If set, along with [GuildConfig.LogChannelID], this message is sent
	// to the log channel whenever the bot connects to the gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// ErrorMessage is shown to users when handling an interaction fails
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`

	// Discord gateway intents. Guild members and message content are
	// privileged, and must be enabled in the dev portal.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// GuildConfig holds the IDs of the guild, roles and channels the bot
// operates on.
type GuildConfig struct {
	// GuildID is the guild being moderated. Slash commands are registered here.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required,numeric"`

	// ModMailGuildID hosts mod mail channels. Defaults to GuildID.
	ModMailGuildID string `yaml:"modmail_guild_id" mapstructure:"modmail_guild_id" json:"modmail_guild_id" binding:"omitempty,numeric"`

	// ModMailCategoryID is the parent category for new mod mail channels
	ModMailCategoryID string `yaml:"modmail_category_id" mapstructure:"modmail_category_id" json:"modmail_category_id" binding:"omitempty,numeric"`

	UnverifiedRoleID      string `yaml:"unverified_role_id" mapstructure:"unverified_role_id" json:"unverified_role_id" binding:"omitempty,numeric"`
	BoardUnverifiedRoleID string `yaml:"board_unverified_role_id" mapstructure:"board_unverified_role_id" json:"board_unverified_role_id" binding:"omitempty,numeric"`
	NewMemberRoleID       string `yaml:"new_member_role_id" mapstructure:"new_member_role_id" json:"new_member_role_id" binding:"omitempty,numeric"`
	MemberRoleID          string `yaml:"member_role_id" mapstructure:"member_role_id" json:"member_role_id" binding:"omitempty,numeric"`

	QOTDChannelID        string `yaml:"qotd_channel_id" mapstructure:"qotd_channel_id" json:"qotd_channel_id" binding:"omitempty,numeric"`
	SuggestionsChannelID string `yaml:"suggestions_channel_id" mapstructure:"suggestions_channel_id" json:"suggestions_channel_id" binding:"omitempty,numeric"`
	LogChannelID         string `yaml:"log_channel_id" mapstructure:"log_channel_id" json:"log_channel_id" binding:"omitempty,numeric"`

	// DebateRoleID grants access to the debate channel. /debate toggles
	// it unless the member holds DebateBanRoleID.
	DebateRoleID    string `yaml:"debate_role_id" mapstructure:"debate_role_id" json:"debate_role_id" binding:"omitempty,numeric"`
	DebateBanRoleID string `yaml:"debate_ban_role_id" mapstructure:"debate_ban_role_id" json:"debate_ban_role_id" binding:"omitempty,numeric"`

	// BoardInviterIDs are the users whose invites mark a joiner as a
	// board joiner
	BoardInviterIDs []string `yaml:"board_inviter_ids" mapstructure:"board_inviter_ids" json:"board_inviter_ids" binding:"dive,numeric"`

	LikeEmoji    string `yaml:"like_emoji" mapstructure:"like_emoji" json:"like_emoji"`
	DislikeEmoji string `yaml:"dislike_emoji" mapstructure:"dislike_emoji" json:"dislike_emoji"`
}

// modMailGuildID returns ModMailGuildID, falling back to GuildID
func (g GuildConfig) modMailGuildID() string {
	if g.ModMailGuildID != "" {
		return g.ModMailGuildID
	}
	return g.GuildID
}

type ModerationConfig struct {
	// CaseRetention is the age after which non-note cases are shown as expired
	CaseRetention time.Duration `yaml:"case_retention" mapstructure:"case_retention" json:"case_retention" binding:"min=1h"`

	// MemberRoleDelay is how long a verified user keeps the new member
	// role before being moved to the member role
	MemberRoleDelay time.Duration `yaml:"member_role_delay" mapstructure:"member_role_delay" json:"member_role_delay" binding:"min=1s"`

	// CaseDisplayLimit caps the number of cases shown by /modlogs and /viewnotes
	CaseDisplayLimit int `yaml:"case_display_limit" mapstructure:"case_display_limit" json:"case_display_limit" binding:"min=1,max=25"`
}

type QOTDConfig struct {
	// Enabled starts the midnight (UTC) question of the day sender
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
}

// APIConfig configures the backend API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret is the bearer token required on /api routes
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]" binding:"required_if=Enabled true,omitempty,min=16"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`

	// Development disables gin's panic recovery middleware
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert" binding:"required_with=Key"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key" binding:"required_with=Cert"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		MongoDatabase:         DefaultMongoDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			ErrorMessage:      DefaultDiscordErrorMessage,
		},
		Guild: &GuildConfig{
			LikeEmoji:    DefaultLikeEmoji,
			DislikeEmoji: DefaultDislikeEmoji,
		},
		Moderation: &ModerationConfig{
			CaseRetention:    DefaultCaseRetention,
			MemberRoleDelay:  DefaultMemberRoleDelay,
			CaseDisplayLimit: DefaultCaseDisplayLimit,
		},
		QOTD: &QOTDConfig{},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
