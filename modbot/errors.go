package modbot

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrNotFound is returned by a Store when the requested record
	// doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied wraps Discord errors caused by the bot lacking
	// the permissions (or role hierarchy) to perform an action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidCase is returned when a ModerationCase fails validation
	ErrInvalidCase = errors.New("invalid moderation case")
)

// wrapDiscordError wraps permission failures with ErrPermissionDenied,
// so callers can check them with errors.Is. Other errors are returned
// as-is.
func wrapDiscordError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingPermissions {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return err
}

// isDiscordNotFound reports whether err is a Discord 404, or one of the
// 'unknown member/user/ban' error codes
func isDiscordNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMember,
			discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownBan:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// isCannotDM reports whether err indicates a user can't be sent a
// direct message (DMs disabled, or no shared guild)
func isCannotDM(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}
