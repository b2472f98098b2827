package modbot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t testing.TB) *CaseLedger {
	t.Helper()
	store := newTestStore(t)
	return NewCaseLedger(store, NewCounterService(store))
}

func TestCounterService_Increment(t *testing.T) {
	store := newTestStore(t)
	counters := NewCounterService(store)
	ctx := context.Background()

	v, err := counters.Increment(ctx, counterModMail)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = counters.Increment(ctx, counterModMail)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = counters.Increment(ctx, "")
	assert.Error(t, err)
}

func TestCaseLedger_Record(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	mod := testModeratorID

	warn, err := ledger.Record(ctx, "400", &mod, CaseKindWarn, "spam", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), warn.CaseNumber)
	assert.Equal(t, CaseKindWarn, warn.Kind)
	assert.Equal(t, "spam", warn.Reason)
	assert.Nil(t, warn.Duration)
	require.NotNil(t, warn.ModeratorUserID)
	assert.Equal(t, testModeratorID, *warn.ModeratorUserID)

	d := 10 * time.Minute
	mute, err := ledger.Record(ctx, "400", &mod, CaseKindTimeout, "", &d)
	require.NoError(t, err)
	assert.Equal(t, int64(2), mute.CaseNumber)
	require.NotNil(t, mute.Duration)
	assert.Equal(t, d, mute.Duration.Duration)

	system, err := ledger.Record(ctx, "401", nil, CaseKindBan, "raid", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), system.CaseNumber)
	assert.Nil(t, system.ModeratorUserID)

	found, ok, err := ledger.FindByCaseNumber(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CaseKindTimeout, found.Kind)
	assert.Equal(t, d, found.Duration.Duration)
}

func TestCaseLedger_RecordReadsBackEqual(t *testing.T) {
	ledger := newTestLedger(t)
	ledger.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 30, 15, 123456789, time.FixedZone("UTC+2", 2*3600))
	}
	ctx := context.Background()
	mod := testModeratorID
	d := time.Hour

	recorded, err := ledger.Record(ctx, "400", &mod, CaseKindTimeout, "spam", &d)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 30, 15, 123000000, time.UTC), recorded.CreatedAt)

	found, ok, err := ledger.FindByCaseNumber(ctx, recorded.CaseNumber)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, recorded.CreatedAt.Equal(found.CreatedAt))
	found.CreatedAt = recorded.CreatedAt
	assert.Equal(t, *recorded, *found)
}

func TestCaseLedger_RecordInvalid(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	d := time.Minute

	_, err := ledger.Record(ctx, "400", nil, CaseKindNote, "note", &d)
	assert.ErrorIs(t, err, ErrInvalidCase)

	_, err = ledger.Record(ctx, "400", nil, CaseKind("kick"), "", nil)
	assert.ErrorIs(t, err, ErrInvalidCase)

	_, err = ledger.Record(ctx, "", nil, CaseKindWarn, "", nil)
	assert.ErrorIs(t, err, ErrInvalidCase)
}

func TestCaseLedger_CaseNumbersNotReused(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ledger.Record(ctx, "400", nil, CaseKindWarn, "", nil)
		require.NoError(t, err)
	}
	removed, ok, err := ledger.Delete(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), removed.CaseNumber)

	next, err := ledger.Record(ctx, "400", nil, CaseKindWarn, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.CaseNumber)

	_, ok, err = ledger.Delete(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ledger.FindByCaseNumber(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCaseLedger_FindByUser(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	// cases 1-30 for user 400, every third one a note
	for n := 1; n <= 30; n++ {
		kind := CaseKindWarn
		if n%3 == 0 {
			kind = CaseKindNote
		}
		_, err := ledger.Record(ctx, "400", nil, kind, fmt.Sprintf("case %d", n), nil)
		require.NoError(t, err)
	}
	_, err := ledger.Record(ctx, "401", nil, CaseKindWarn, "other user", nil)
	require.NoError(t, err)

	page, err := ledger.FindByUser(ctx, "400", CaseFilterAll, 25, SortAscending)
	require.NoError(t, err)
	require.Len(t, page.Cases, 25)
	assert.Equal(t, int64(5), page.Omitted)
	assert.Equal(t, int64(6), page.Cases[0].CaseNumber)
	assert.Equal(t, int64(30), page.Cases[24].CaseNumber)

	page, err = ledger.FindByUser(ctx, "400", CaseFilterAll, 5, SortDescending)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 29, 28, 27, 26}, caseNumbers(page.Cases))
	assert.Equal(t, int64(25), page.Omitted)

	page, err = ledger.FindByUser(ctx, "400", CaseFilterOnlyNotes, 25, SortAscending)
	require.NoError(t, err)
	assert.Len(t, page.Cases, 10)
	assert.Zero(t, page.Omitted)
	for _, c := range page.Cases {
		assert.Equal(t, CaseKindNote, c.Kind)
	}

	page, err = ledger.FindByUser(ctx, "400", CaseFilterExcludeNotes, 0, SortAscending)
	require.NoError(t, err)
	assert.Len(t, page.Cases, 20)
	for _, c := range page.Cases {
		assert.NotEqual(t, CaseKindNote, c.Kind)
	}

	page, err = ledger.FindByUser(ctx, "999", CaseFilterAll, 25, SortAscending)
	require.NoError(t, err)
	assert.Empty(t, page.Cases)
	assert.NotNil(t, page.Cases)
	assert.Zero(t, page.Omitted)
}

func TestModerationCase_Validate(t *testing.T) {
	t.Parallel()
	now := time.Now()
	valid := ModerationCase{CaseNumber: 1, SubjectUserID: "400", Kind: CaseKindWarn, CreatedAt: now}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(c *ModerationCase)
	}{
		{"case number", func(c *ModerationCase) { c.CaseNumber = 0 }},
		{"subject", func(c *ModerationCase) { c.SubjectUserID = "" }},
		{"kind", func(c *ModerationCase) { c.Kind = "kick" }},
		{"warn duration", func(c *ModerationCase) { c.Duration = &Duration{Duration: time.Hour} }},
		{"created at", func(c *ModerationCase) { c.CreatedAt = time.Time{} }},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				c := valid
				tc.modify(&c)
				assert.ErrorIs(t, c.Validate(), ErrInvalidCase)
			},
		)
	}
}

func TestCaseKind(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Mute", CaseKindTimeout.Pretty())
	assert.Equal(t, "Warning", CaseKindWarn.Pretty())
	assert.Equal(t, "Timeout", CaseKindTimeout.Title())
	assert.Equal(t, "Note", CaseKindNote.Title())
	assert.Equal(t, "", CaseKind("").Title())
	assert.True(t, CaseKindBan.hasDuration())
	assert.False(t, CaseKindWarn.hasDuration())
}

func TestIsExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	retention := 90 * 24 * time.Hour

	atBoundary := ModerationCase{Kind: CaseKindWarn, CreatedAt: now.Add(-retention)}
	assert.False(t, IsExpired(atBoundary, now, retention))

	past := ModerationCase{Kind: CaseKindWarn, CreatedAt: now.Add(-retention - time.Second)}
	assert.True(t, IsExpired(past, now, retention))

	oldNote := ModerationCase{Kind: CaseKindNote, CreatedAt: now.Add(-10 * retention)}
	assert.False(t, IsExpired(oldNote, now, retention))

	policy := NewExpirationPolicy(retention)
	policy.now = func() time.Time { return now }
	assert.True(t, policy.IsExpired(past))
	assert.False(t, policy.IsExpired(atBoundary))

	assert.Equal(t, DefaultCaseRetention, NewExpirationPolicy(0).Retention)
}
