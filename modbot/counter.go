package modbot

import (
	"context"
	"errors"
	"fmt"
)

const (
	counterModLogsCase = "mod_logs_case"
	counterModMail     = "modmail"
)

// Counter is a named, monotonically increasing sequence
type Counter struct {
	Name  string `gorm:"primaryKey" json:"name"`
	Value int64  `gorm:"not null;default:0" json:"value"`
}

// CounterService issues sequence numbers, such as case numbers and
// mod mail numbers
type CounterService struct {
	store Store
}

func NewCounterService(store Store) *CounterService {
	return &CounterService{store: store}
}

// Increment atomically increments the named counter, and returns the
// value after incrementing. The first call for a key returns 1.
// Concurrent callers never receive the same value.
func (c *CounterService) Increment(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, errors.New("counter key is required")
	}
	v, err := c.store.IncrementCounter(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("error incrementing counter %q: %w", key, err)
	}
	return v, nil
}
