package modbot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// JoinSource is how a new member found the guild
type JoinSource string

const (
	JoinOrganic JoinSource = "organic"
	JoinBoard   JoinSource = "board"
)

type inviteLister interface {
	GuildInvites(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Invite, error)
}

// InviteClassifier attributes joins to invites created by tracked
// inviters, by diffing invite use counts against the last snapshot.
//
// Two joins landing between snapshots can't be told apart, so the
// second may be attributed to the wrong source.
type InviteClassifier struct {
	invites  inviteLister
	guildID  string
	inviters map[string]struct{}
	logger   *slog.Logger

	mu       sync.Mutex
	snapshot map[string]int
}

func NewInviteClassifier(
	invites inviteLister,
	guildID string,
	inviterIDs []string,
	logger *slog.Logger,
) *InviteClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	inviters := make(map[string]struct{}, len(inviterIDs))
	for _, id := range inviterIDs {
		inviters[id] = struct{}{}
	}
	return &InviteClassifier{
		invites:  invites,
		guildID:  guildID,
		inviters: inviters,
		logger:   logger.With(loggerNameKey, "invites"),
		snapshot: map[string]int{},
	}
}

// Refresh replaces the snapshot with the current use counts
func (c *InviteClassifier) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.trackedUses(ctx)
	if err != nil {
		return err
	}
	c.snapshot = current
	return nil
}

// ClassifyNextJoiner classifies the member who just joined. The joiner
// is a board joiner if a tracked invite's uses went up by exactly one,
// or a tracked invite appeared with exactly one use. The snapshot is
// replaced either way. If invites can't be fetched, the joiner is
// treated as organic and the snapshot is kept.
func (c *InviteClassifier) ClassifyNextJoiner(ctx context.Context) (JoinSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.trackedUses(ctx)
	if err != nil {
		return JoinOrganic, err
	}
	source := classifyInviteUses(c.snapshot, current)
	c.snapshot = current
	c.logger.DebugContext(ctx, "classified joiner", "source", source, "tracked_invites", len(current))
	return source, nil
}

// Snapshot returns a copy of the current snapshot
func (c *InviteClassifier) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := make(map[string]int, len(c.snapshot))
	for k, v := range c.snapshot {
		s[k] = v
	}
	return s
}

func (c *InviteClassifier) trackedUses(ctx context.Context) (map[string]int, error) {
	invites, err := c.invites.GuildInvites(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error getting guild invites: %w", wrapDiscordError(err))
	}
	uses := map[string]int{}
	for _, inv := range invites {
		if inv == nil || inv.Inviter == nil {
			continue
		}
		if _, tracked := c.inviters[inv.Inviter.ID]; !tracked {
			continue
		}
		uses[inv.Code] = inv.Uses
	}
	return uses, nil
}

func classifyInviteUses(previous map[string]int, current map[string]int) JoinSource {
	for code, uses := range current {
		prev, seen := previous[code]
		if seen && uses == prev+1 {
			return JoinBoard
		}
		if !seen && uses == 1 {
			return JoinBoard
		}
	}
	return JoinOrganic
}
