package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/arcward/modbot/modbot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = modbot.DefaultConfig()
	configFile string
)

// levelKeys are config keys holding a *slog.LevelVar
var levelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
}

// sliceKeys are config keys holding a []string, which are space
// separated when set from the environment
var sliceKeys = []string{
	"guild.board_inviter_ids",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use: "modbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := unmarshalConfig(cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

func unmarshalConfig(c *modbot.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names ("DEBUG", "INFO", ...) into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
	)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else if err := godotenv.Load(configFile); err != nil {
		log.Printf("unable to load %s: %v", configFile, err)
	}

	viper.SetDefault("database", modbot.DefaultDatabase)
	viper.SetDefault("database_type", modbot.DefaultDatabaseType)
	viper.SetDefault("mongo_database", modbot.DefaultMongoDatabase)
	viper.SetDefault("database_slow_threshold", modbot.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", modbot.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", modbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", modbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", modbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.log_level", modbot.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", modbot.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", int(modbot.DefaultDiscordGatewayIntent))
	viper.SetDefault("discord.startup_message", modbot.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.error_message", modbot.DefaultDiscordErrorMessage)

	// Guild config
	viper.SetDefault("guild.guild_id", "")
	viper.SetDefault("guild.modmail_guild_id", "")
	viper.SetDefault("guild.modmail_category_id", "")
	viper.SetDefault("guild.unverified_role_id", "")
	viper.SetDefault("guild.board_unverified_role_id", "")
	viper.SetDefault("guild.new_member_role_id", "")
	viper.SetDefault("guild.member_role_id", "")
	viper.SetDefault("guild.qotd_channel_id", "")
	viper.SetDefault("guild.suggestions_channel_id", "")
	viper.SetDefault("guild.debate_role_id", "")
	viper.SetDefault("guild.debate_ban_role_id", "")
	viper.SetDefault("guild.log_channel_id", "")
	viper.SetDefault("guild.board_inviter_ids", []string{})
	viper.SetDefault("guild.like_emoji", modbot.DefaultLikeEmoji)
	viper.SetDefault("guild.dislike_emoji", modbot.DefaultDislikeEmoji)

	// Moderation config
	viper.SetDefault("moderation.case_retention", modbot.DefaultCaseRetention)
	viper.SetDefault("moderation.member_role_delay", modbot.DefaultMemberRoleDelay)
	viper.SetDefault("moderation.case_display_limit", modbot.DefaultCaseDisplayLimit)

	viper.SetDefault("qotd.enabled", false)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", modbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", modbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.read_timeout", modbot.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", modbot.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", modbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", modbot.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", modbot.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", modbot.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", modbot.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", modbot.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", modbot.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", modbot.DefaultAPICORSAllowCredentials)

	envPrefix := os.Getenv(modbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = modbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range sliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}
	for _, key := range levelKeys {
		if _, ok := viper.Get(key).(*slog.LevelVar); ok {
			continue
		}
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load config from",
	)
}
