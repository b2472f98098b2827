package modbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	pendingRoleKindMember  = "member_role"
	memberRoleApplyTimeout = 30 * time.Second
)

// PendingRoleAssignment is a persisted, not yet applied move from the
// new member role to the member role
type PendingRoleAssignment struct {
	ModelStringID
	Kind          string    `gorm:"not null;uniqueIndex:idx_pending_role_user" json:"kind"`
	SubjectUserID string    `gorm:"not null;uniqueIndex:idx_pending_role_user" json:"subject_user_id"`
	DueAt         time.Time `gorm:"not null;index" json:"due_at"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

// RoleOutcome is the result of applying a pending assignment
type RoleOutcome string

const (
	RoleOutcomeTransitioned RoleOutcome = "transitioned"
	RoleOutcomeAbandoned    RoleOutcome = "abandoned"
	RoleOutcomeSkipped      RoleOutcome = "skipped"
)

// ReconcileResult counts what a reconciliation pass did with each of
// the pending assignments it found
type ReconcileResult struct {
	Applied   int `json:"applied"`
	Abandoned int `json:"abandoned"`
	Rearmed   int `json:"rearmed"`
	Failed    int `json:"failed"`
}

// guildMemberManager is the subset of DiscordSessionHandler needed to
// move a member between roles
type guildMemberManager interface {
	GuildMember(guildID string, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID string, userID string, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID string, userID string, roleID string, options ...discordgo.RequestOption) error
}

// MemberRoleScheduler moves verified users from the new member role to
// the member role after a delay. Assignments are persisted before a
// timer is armed, so Reconcile can finish them after a restart.
type MemberRoleScheduler struct {
	store           Store
	members         guildMemberManager
	guildID         string
	newMemberRoleID string
	memberRoleID    string
	delay           time.Duration
	logger          *slog.Logger
	now             func() time.Time

	// ctx is the parent of contexts used when timers fire
	ctx context.Context

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inflight map[string]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

func NewMemberRoleScheduler(
	ctx context.Context,
	store Store,
	members guildMemberManager,
	guild *GuildConfig,
	delay time.Duration,
	logger *slog.Logger,
) *MemberRoleScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if delay <= 0 {
		delay = DefaultMemberRoleDelay
	}
	return &MemberRoleScheduler{
		store:           store,
		members:         members,
		guildID:         guild.GuildID,
		newMemberRoleID: guild.NewMemberRoleID,
		memberRoleID:    guild.MemberRoleID,
		delay:           delay,
		logger:          logger.With(loggerNameKey, "member_roles"),
		now:             time.Now,
		ctx:             ctx,
		timers:          map[string]*time.Timer{},
		inflight:        map[string]struct{}{},
	}
}

// Arm persists a pending assignment due after the configured delay, and
// starts a timer for it. If the user already has a pending assignment,
// that one is returned (and armed, if it wasn't already).
func (s *MemberRoleScheduler) Arm(ctx context.Context, userID string) (*PendingRoleAssignment, error) {
	existing, err := s.store.GetPendingRole(ctx, pendingRoleKindMember, userID)
	switch {
	case err == nil:
		s.schedule(*existing)
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("error checking pending role for %s: %w", userID, err)
	}

	now := storeTime(s.now())
	p := &PendingRoleAssignment{
		ModelStringID: ModelStringID{ID: uuid.NewString()},
		Kind:          pendingRoleKindMember,
		SubjectUserID: userID,
		DueAt:         now.Add(s.delay),
		CreatedAt:     now,
	}
	if err = s.store.CreatePendingRole(ctx, p); err != nil {
		// another Arm may have won the unique index
		if existing, getErr := s.store.GetPendingRole(ctx, pendingRoleKindMember, userID); getErr == nil {
			s.schedule(*existing)
			return existing, nil
		}
		return nil, fmt.Errorf("error persisting pending role for %s: %w", userID, err)
	}

	s.logger.InfoContext(
		ctx,
		"armed member role assignment",
		"id", p.ID,
		"user_id", userID,
		"due_at", p.DueAt,
	)
	s.schedule(*p)
	return p, nil
}

// Reconcile applies overdue assignments, drops assignments for users
// who left the guild, and re-arms the rest for their remaining time.
// Only a failure to list assignments is returned. Records that fail
// are logged, counted in ReconcileResult.Failed and kept for the next
// pass.
func (s *MemberRoleScheduler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	pending, err := s.store.ListPendingRoles(ctx, pendingRoleKindMember)
	if err != nil {
		return result, fmt.Errorf("error listing pending roles: %w", err)
	}
	s.logger.InfoContext(ctx, "reconciling pending member roles", "count", len(pending))

	for _, p := range pending {
		if err = s.reconcileOne(ctx, p, &result); err != nil {
			result.Failed++
			s.logger.ErrorContext(
				ctx,
				"error reconciling pending role",
				"id", p.ID,
				"user_id", p.SubjectUserID,
				tint.Err(err),
			)
		}
	}

	s.logger.InfoContext(
		ctx,
		"reconciled pending member roles",
		"applied", result.Applied,
		"abandoned", result.Abandoned,
		"rearmed", result.Rearmed,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *MemberRoleScheduler) reconcileOne(
	ctx context.Context,
	p PendingRoleAssignment,
	result *ReconcileResult,
) error {
	if !p.DueAt.After(s.now()) {
		outcome, err := s.apply(ctx, p)
		if err != nil {
			return err
		}
		switch outcome {
		case RoleOutcomeTransitioned:
			result.Applied++
		case RoleOutcomeAbandoned:
			result.Abandoned++
		}
		return nil
	}

	present, err := s.memberPresent(ctx, p.SubjectUserID)
	if err != nil {
		return err
	}
	if !present {
		if err = s.store.DeletePendingRole(ctx, p.ID); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "member left, dropped pending role", "id", p.ID, "user_id", p.SubjectUserID)
		result.Abandoned++
		return nil
	}
	if s.schedule(p) {
		result.Rearmed++
	}
	return nil
}

// Pending returns the number of armed timers
func (s *MemberRoleScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop stops all armed timers and waits for in-progress applications.
// Persisted assignments are left for the next Reconcile.
func (s *MemberRoleScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// schedule arms a timer for p, unless one is already armed for it.
// Returns true if a new timer was armed.
func (s *MemberRoleScheduler) schedule(p PendingRoleAssignment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.timers[p.ID]; ok {
		return false
	}
	wait := p.DueAt.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	s.timers[p.ID] = time.AfterFunc(wait, func() { s.fire(p) })
	return true
}

func (s *MemberRoleScheduler) fire(p PendingRoleAssignment) {
	s.mu.Lock()
	delete(s.timers, p.ID)
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, memberRoleApplyTimeout)
	defer cancel()
	if _, err := s.apply(ctx, p); err != nil {
		s.logger.ErrorContext(
			ctx,
			"error applying member role",
			"id", p.ID,
			"user_id", p.SubjectUserID,
			tint.Err(err),
		)
	}
}

// apply moves the member to the member role, and deletes the pending
// record. Roles are only changed if needed, so applying twice is safe.
// If the member left the guild, only the record is deleted.
func (s *MemberRoleScheduler) apply(ctx context.Context, p PendingRoleAssignment) (RoleOutcome, error) {
	s.mu.Lock()
	if _, busy := s.inflight[p.ID]; busy {
		s.mu.Unlock()
		return RoleOutcomeSkipped, nil
	}
	s.inflight[p.ID] = struct{}{}
	if t, ok := s.timers[p.ID]; ok {
		t.Stop()
		delete(s.timers, p.ID)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, p.ID)
		s.mu.Unlock()
	}()

	logger := s.logger.With("id", p.ID, "user_id", p.SubjectUserID)
	opt := discordgo.WithContext(ctx)

	member, err := s.members.GuildMember(s.guildID, p.SubjectUserID, opt)
	switch {
	case isDiscordNotFound(err):
		if delErr := s.store.DeletePendingRole(ctx, p.ID); delErr != nil {
			return "", fmt.Errorf("error deleting pending role %s: %w", p.ID, delErr)
		}
		logger.InfoContext(ctx, "member left, dropped pending role")
		return RoleOutcomeAbandoned, nil
	case err != nil:
		return "", fmt.Errorf("error getting member %s: %w", p.SubjectUserID, wrapDiscordError(err))
	}

	if memberHasRole(member, s.newMemberRoleID) {
		if err = s.members.GuildMemberRoleRemove(s.guildID, p.SubjectUserID, s.newMemberRoleID, opt); err != nil {
			return "", fmt.Errorf("error removing new member role: %w", wrapDiscordError(err))
		}
	}
	if s.memberRoleID != "" && !memberHasRole(member, s.memberRoleID) {
		if err = s.members.GuildMemberRoleAdd(s.guildID, p.SubjectUserID, s.memberRoleID, opt); err != nil {
			return "", fmt.Errorf("error adding member role: %w", wrapDiscordError(err))
		}
	}

	if err = s.store.DeletePendingRole(ctx, p.ID); err != nil {
		return "", fmt.Errorf("error deleting pending role %s: %w", p.ID, err)
	}
	logger.InfoContext(ctx, "applied member role", "due_at", p.DueAt)
	return RoleOutcomeTransitioned, nil
}

func (s *MemberRoleScheduler) memberPresent(ctx context.Context, userID string) (bool, error) {
	_, err := s.members.GuildMember(s.guildID, userID, discordgo.WithContext(ctx))
	switch {
	case err == nil:
		return true, nil
	case isDiscordNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("error getting member %s: %w", userID, wrapDiscordError(err))
	}
}
