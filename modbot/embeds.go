package modbot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	colorRed     = 0xed4245
	colorYellow  = 0xfee75c
	colorGreen   = 0x57f287
	colorPrimary = 0x5865f2
	colorModCase = 0xff0000
	colorQOTD    = 0x00ff00

	embedDescriptionMaxLength = 4096
	embedFieldValueMaxLength  = 1024
	embedMaxLength            = 6000

	// listReasonMaxLength leaves room in a list field for the case's
	// other lines
	listReasonMaxLength = 512

	noReasonGiven = "No reason given"
)

func simpleEmbed(title string, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
	}
}

func errorEmbed(title string, description string) *discordgo.MessageEmbed {
	return simpleEmbed(title, description, colorRed)
}

func discordTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

func caseReason(c ModerationCase) string {
	if c.Reason == "" {
		return noReasonGiven
	}
	return c.Reason
}

// modCaseEmbed shows a single case to moderators. member is nil if the
// subject has left the guild.
func modCaseEmbed(c ModerationCase, member *discordgo.Member) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Case #%d | %s:", c.CaseNumber, c.Kind.Title()),
		Description: truncate(caseReason(c), embedDescriptionMaxLength),
		Color:       colorModCase,
		Timestamp:   c.CreatedAt.Format(time.RFC3339),
	}
	if member != nil && member.User != nil {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    memberDisplayName(member),
			IconURL: member.User.AvatarURL(""),
		}
	} else {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: "User left guild"}
	}

	moderator := "System"
	if c.ModeratorUserID != nil {
		moderator = fmt.Sprintf("<@%s>", *c.ModeratorUserID)
	}
	embed.Fields = append(
		embed.Fields,
		&discordgo.MessageEmbedField{Name: "User", Value: fmt.Sprintf("<@%s>", c.SubjectUserID), Inline: true},
		&discordgo.MessageEmbedField{Name: "Moderator", Value: moderator, Inline: true},
	)
	if c.Duration != nil {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Duration", Value: humanizeDuration(c.Duration.Duration), Inline: true},
		)
	}
	return embed
}

var userCaseVerbs = map[CaseKind]string{
	CaseKindTimeout: "muted in",
	CaseKindBan:     "banned from",
	CaseKindWarn:    "warned in",
}

// userCaseEmbed is sent to the subject of a case by DM
func userCaseEmbed(c ModerationCase, guildName string) *discordgo.MessageEmbed {
	verb, ok := userCaseVerbs[c.Kind]
	if !ok {
		verb = "noted in"
	}
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("You have been %s %s", verb, guildName),
		Color:     colorModCase,
		Timestamp: c.CreatedAt.Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Case #%d", c.CaseNumber)},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Reason", Value: truncate(caseReason(c), embedFieldValueMaxLength)},
		},
	}
	if c.Duration != nil {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Duration", Value: humanizeDuration(c.Duration.Duration)},
		)
	}
	return embed
}

// caseListField renders a case as an embed field for /modlogs and
// /mymodlogs
func caseListField(c ModerationCase, expired bool, showModerator bool) *discordgo.MessageEmbedField {
	var b strings.Builder
	if expired {
		b.WriteString("**--EXPIRED--**\n")
	}
	if c.Kind == CaseKindNote {
		fmt.Fprintf(&b, "**Note:** %s\n", truncate(caseReason(c), listReasonMaxLength))
	} else {
		fmt.Fprintf(&b, "**Reason:** %s\n", truncate(caseReason(c), listReasonMaxLength))
	}
	if c.Duration != nil {
		fmt.Fprintf(&b, "**Length:** %s\n", humanizeDuration(c.Duration.Duration))
	}
	fmt.Fprintf(&b, "**Date:** %s", discordTimestamp(c.CreatedAt))
	if showModerator && c.ModeratorUserID != nil {
		fmt.Fprintf(&b, "\n**Moderator:** <@%s>", *c.ModeratorUserID)
	}
	return &discordgo.MessageEmbedField{
		Name:  fmt.Sprintf("Case #%d | %s", c.CaseNumber, c.Kind.Pretty()),
		Value: b.String(),
	}
}

// caseListEmbed renders a page of cases for the given user
func caseListEmbed(
	page CasePage,
	userName string,
	avatarURL string,
	expiration ExpirationPolicy,
	showModerator bool,
) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    fmt.Sprintf("Modlogs for %s:", userName),
			IconURL: avatarURL,
		},
		Color: colorPrimary,
	}
	if len(page.Cases) == 0 {
		embed.Description = "This user has no associated logs"
		return embed
	}
	for _, c := range page.Cases {
		embed.Fields = append(embed.Fields, caseListField(c, expiration.IsExpired(c), showModerator))
	}
	fitListEmbed(embed, page.Omitted, "%d older cases were omitted")
	return embed
}

// noteListEmbed renders a page of notes for /viewnotes
func noteListEmbed(page CasePage, userName string, avatarURL string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    fmt.Sprintf("Mod Notes for %s:", userName),
			IconURL: avatarURL,
		},
		Color: colorPrimary,
	}
	if len(page.Cases) == 0 {
		embed.Description = "This user has no associated notes"
		return embed
	}
	for _, c := range page.Cases {
		value := fmt.Sprintf(
			"**Note:** %s\n**Date:** %s",
			truncate(caseReason(c), listReasonMaxLength),
			discordTimestamp(c.CreatedAt),
		)
		if c.ModeratorUserID != nil {
			value += fmt.Sprintf("\n**Moderator:** <@%s>", *c.ModeratorUserID)
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: fmt.Sprintf("Case #%d", c.CaseNumber), Value: value},
		)
	}
	fitListEmbed(embed, page.Omitted, "%d older notes were omitted")
	return embed
}

// fitListEmbed drops the oldest fields until the embed fits Discord's
// total length limit, and sets the omitted footer from footerFormat
// with the final omitted count
func fitListEmbed(embed *discordgo.MessageEmbed, omitted int64, footerFormat string) {
	for {
		embed.Footer = nil
		if omitted > 0 {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf(footerFormat, omitted)}
		}
		if embedLength(embed) <= embedMaxLength || len(embed.Fields) <= 1 {
			return
		}
		embed.Fields = embed.Fields[1:]
		omitted++
	}
}

// embedLength counts the characters Discord includes in its embed limit
func embedLength(embed *discordgo.MessageEmbed) int {
	n := utf8.RuneCountInString(embed.Title) + utf8.RuneCountInString(embed.Description)
	if embed.Author != nil {
		n += utf8.RuneCountInString(embed.Author.Name)
	}
	if embed.Footer != nil {
		n += utf8.RuneCountInString(embed.Footer.Text)
	}
	for _, f := range embed.Fields {
		n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	return n
}

// questionListDescription numbers the queued questions, stopping before
// the embed description limit is reached
func questionListDescription(questions []Question) string {
	var b strings.Builder
	for i, q := range questions {
		line := fmt.Sprintf("**%d.** %s\n\n", i+1, q.Question)
		if b.Len()+len(line) > embedDescriptionMaxLength {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
