package modbot

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// durationUnits are used by humanizeDuration, largest first. Months
// and years are fixed lengths, not calendar aware.
var durationUnits = []struct {
	name   string
	length time.Duration
}{
	{"year", 365 * 24 * time.Hour},
	{"month", 30 * 24 * time.Hour},
	{"day", 24 * time.Hour},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

// humanizeDuration renders a duration as e.g. "1 day, 2 hours, 5 minutes".
// Sub-second durations render as "0 seconds".
func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	var parts []string
	remaining := d
	for _, unit := range durationUnits {
		n := remaining / unit.length
		if n == 0 {
			continue
		}
		remaining -= n * unit.length
		label := unit.name
		if n != 1 {
			label += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, label))
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, ", ")
}

// discordInteractionOptions extracts the interaction options from a
// Discord interaction, keyed by option name. If the interaction is a
// subcommand, the subcommand's options are returned instead.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	if len(options) == 1 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		options = options[0].Options
	}
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// subcommandName returns the name of the invoked subcommand, or an
// empty string if the interaction isn't a subcommand.
func subcommandName(i *discordgo.InteractionCreate) string {
	options := i.ApplicationCommandData().Options
	if len(options) == 1 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return options[0].Name
	}
	return ""
}

// optionUserID returns the user ID of a user option. Resolved users
// aren't available without a session, so the raw value is used.
func optionUserID(opt *discordgo.ApplicationCommandInteractionDataOption) string {
	if opt == nil {
		return ""
	}
	v, _ := opt.Value.(string)
	return v
}

func optionString(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	opt, ok := opts[name]
	if !ok || opt == nil {
		return ""
	}
	return opt.StringValue()
}

func optionInt(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
	defaultValue int64,
) int64 {
	opt, ok := opts[name]
	if !ok || opt == nil {
		return defaultValue
	}
	return opt.IntValue()
}

// getDiscordUser returns the user that triggered the interaction, which
// is found on Member for guild interactions, and User for DMs.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// memberDisplayName returns the member's nickname, global name or
// username, in that order of preference.
func memberDisplayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	return userDisplayName(m.User)
}

func userDisplayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func memberHasRole(m *discordgo.Member, roleID string) bool {
	if m == nil || roleID == "" {
		return false
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// topRolePosition returns the highest position among the member's
// roles. Members without roles sit at position 0 (@everyone).
func topRolePosition(m *discordgo.Member, roles []*discordgo.Role) int {
	if m == nil {
		return 0
	}
	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}
	top := 0
	for _, roleID := range m.Roles {
		if p := positions[roleID]; p > top {
			top = p
		}
	}
	return top
}

// tlsConfig loads the cert and key, or returns nil if neither is set
func tlsConfig(certfile string, keyfile string, minVersion uint16) (
	*tls.Config,
	error,
) {
	if certfile == "" && keyfile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certfile, keyfile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	if lv, ok := v.(*slog.LevelVar); ok {
		if lv == nil {
			return slog.AnyValue(nil)
		}
		return slog.StringValue(lv.Level().String())
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		if logTag := field.Tag.Get("log"); logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip values that are nil or empty
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				continue
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				continue
			}
		case reflect.String:
			if fv.Len() == 0 {
				continue
			}
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}

	return slog.GroupValue(groupAttrs...)
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// generateRandomHexString returns a random hex string of the given length
func generateRandomHexString(length int) (string, error) {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:length], nil
}
