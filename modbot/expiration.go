package modbot

import "time"

// IsExpired reports whether a case is older than the retention window.
// Expiry only affects how a case is displayed. Notes never expire.
func IsExpired(c ModerationCase, now time.Time, retention time.Duration) bool {
	if c.Kind == CaseKindNote {
		return false
	}
	return now.Sub(c.CreatedAt) > retention
}

// ExpirationPolicy binds a retention window and clock to IsExpired
type ExpirationPolicy struct {
	Retention time.Duration
	now       func() time.Time
}

func NewExpirationPolicy(retention time.Duration) ExpirationPolicy {
	if retention <= 0 {
		retention = DefaultCaseRetention
	}
	return ExpirationPolicy{Retention: retention, now: time.Now}
}

func (p ExpirationPolicy) IsExpired(c ModerationCase) bool {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return IsExpired(c, now(), p.Retention)
}
