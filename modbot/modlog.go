package modbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CaseKind is the type of moderation action a case records
type CaseKind string

const (
	CaseKindWarn    CaseKind = "warn"
	CaseKindNote    CaseKind = "note"
	CaseKindTimeout CaseKind = "timeout"
	CaseKindBan     CaseKind = "ban"
)

var caseKindPretty = map[CaseKind]string{
	CaseKindTimeout: "Mute",
	CaseKindWarn:    "Warning",
	CaseKindBan:     "Ban",
	CaseKindNote:    "Note",
}

func (k CaseKind) Valid() bool {
	_, ok := caseKindPretty[k]
	return ok
}

// Pretty returns the name shown in case listings (a timeout is a "Mute")
func (k CaseKind) Pretty() string {
	if p, ok := caseKindPretty[k]; ok {
		return p
	}
	return string(k)
}

// Title returns the capitalized kind, e.g. "Timeout"
func (k CaseKind) Title() string {
	if k == "" {
		return ""
	}
	s := string(k)
	return strings.ToUpper(s[:1]) + s[1:]
}

// hasDuration reports whether cases of this kind carry a duration
func (k CaseKind) hasDuration() bool {
	return k == CaseKindTimeout || k == CaseKindBan
}

// CaseFilter narrows the cases returned for a user
type CaseFilter int

const (
	CaseFilterAll CaseFilter = iota
	CaseFilterExcludeNotes
	CaseFilterOnlyNotes
)

// ModerationCase is an immutable record of a moderation action.
// Cases are never updated, only created or deleted.
type ModerationCase struct {
	ModelUintID
	CaseNumber      int64     `gorm:"uniqueIndex;not null" json:"case_number"`
	SubjectUserID   string    `gorm:"index;not null" json:"subject_user_id"`
	ModeratorUserID *string   `json:"moderator_user_id,omitempty"`
	Kind            CaseKind  `gorm:"type:string;index;not null" json:"kind"`
	Reason          string    `json:"reason"`
	Duration        *Duration `json:"duration,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
}

// Validate checks the case's kind, and that only timeouts and bans
// carry a duration
func (c ModerationCase) Validate() error {
	if c.CaseNumber < 1 {
		return fmt.Errorf("%w: case number must be >= 1", ErrInvalidCase)
	}
	if c.SubjectUserID == "" {
		return fmt.Errorf("%w: subject user ID is required", ErrInvalidCase)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCase, c.Kind)
	}
	if c.Duration != nil && !c.Kind.hasDuration() {
		return fmt.Errorf("%w: %s cases can't have a duration", ErrInvalidCase, c.Kind)
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidCase)
	}
	return nil
}

// CasePage is a window of a user's cases. Omitted is the number of
// matching cases that were left out of the window.
type CasePage struct {
	Cases   []ModerationCase `json:"cases"`
	Omitted int64            `json:"omitted"`
}

// CaseLedger records and looks up moderation cases, numbering them
// with the counter service
type CaseLedger struct {
	store    Store
	counters *CounterService
	now      func() time.Time
}

func NewCaseLedger(store Store, counters *CounterService) *CaseLedger {
	return &CaseLedger{
		store:    store,
		counters: counters,
		now:      time.Now,
	}
}

// Record creates a new case. moderator is nil for system-generated
// cases. duration must be nil unless kind is timeout or ban.
func (l *CaseLedger) Record(
	ctx context.Context,
	subject string,
	moderator *string,
	kind CaseKind,
	reason string,
	duration *time.Duration,
) (*ModerationCase, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCase, kind)
	}
	if duration != nil && !kind.hasDuration() {
		return nil, fmt.Errorf("%w: %s cases can't have a duration", ErrInvalidCase, kind)
	}

	caseNumber, err := l.counters.Increment(ctx, counterModLogsCase)
	if err != nil {
		return nil, err
	}

	c := &ModerationCase{
		CaseNumber:      caseNumber,
		SubjectUserID:   subject,
		ModeratorUserID: moderator,
		Kind:            kind,
		Reason:          reason,
		CreatedAt:       storeTime(l.now()),
	}
	if duration != nil {
		c.Duration = &Duration{Duration: *duration}
	}
	if err = c.Validate(); err != nil {
		return nil, err
	}
	if err = l.store.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("error recording case %d: %w", caseNumber, err)
	}
	return c, nil
}

// FindByCaseNumber returns the case, or false if it doesn't exist
func (l *CaseLedger) FindByCaseNumber(
	ctx context.Context,
	caseNumber int64,
) (*ModerationCase, bool, error) {
	c, err := l.store.GetCase(ctx, caseNumber)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("error getting case %d: %w", caseNumber, err)
	}
	return c, true, nil
}

// FindByUser returns up to limit of the user's cases. In ascending order,
// these are the most recent cases, oldest first. In descending order,
// the most recent cases, newest first. A limit <= 0 returns all cases.
func (l *CaseLedger) FindByUser(
	ctx context.Context,
	subject string,
	filter CaseFilter,
	limit int,
	order SortOrder,
) (CasePage, error) {
	q := CaseQuery{SubjectUserID: subject, Filter: filter}
	total, err := l.store.CountCases(ctx, q)
	if err != nil {
		return CasePage{}, fmt.Errorf("error counting cases: %w", err)
	}
	if total == 0 {
		return CasePage{Cases: []ModerationCase{}}, nil
	}

	skip := 0
	if limit > 0 && order == SortAscending && total > int64(limit) {
		skip = int(total) - limit
	}
	cases, err := l.store.ListCases(ctx, q, order, skip, limit)
	if err != nil {
		return CasePage{}, fmt.Errorf("error listing cases: %w", err)
	}

	omitted := total - int64(len(cases))
	if omitted < 0 {
		omitted = 0
	}
	return CasePage{Cases: cases, Omitted: omitted}, nil
}

// Delete removes the case and returns it, or false if it didn't exist.
// Remaining cases keep their numbers.
func (l *CaseLedger) Delete(
	ctx context.Context,
	caseNumber int64,
) (*ModerationCase, bool, error) {
	c, err := l.store.DeleteCase(ctx, caseNumber)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("error deleting case %d: %w", caseNumber, err)
	}
	return c, true, nil
}
