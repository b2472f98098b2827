package modbot

import (
	"context"
	"fmt"
	"log/slog"
)

// SortOrder orders case queries by case number
type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

// CaseQuery selects the cases of a single subject user
type CaseQuery struct {
	SubjectUserID string
	Filter        CaseFilter
}

// Store is the durable storage used by the bot. gormStore (sqlite,
// postgres) and mongoStore implement it.
//
// Lookups of a single record return ErrNotFound when the record
// doesn't exist.
type Store interface {
	// IncrementCounter atomically increments the named counter and
	// returns the new value. Counters start at 1.
	IncrementCounter(ctx context.Context, name string) (int64, error)

	CreateCase(ctx context.Context, c *ModerationCase) error
	GetCase(ctx context.Context, caseNumber int64) (*ModerationCase, error)
	CountCases(ctx context.Context, q CaseQuery) (int64, error)
	ListCases(
		ctx context.Context,
		q CaseQuery,
		order SortOrder,
		skip int,
		limit int,
	) ([]ModerationCase, error)
	// DeleteCase deletes and returns the case
	DeleteCase(ctx context.Context, caseNumber int64) (*ModerationCase, error)

	CreatePendingRole(ctx context.Context, p *PendingRoleAssignment) error
	GetPendingRole(ctx context.Context, kind string, userID string) (*PendingRoleAssignment, error)
	ListPendingRoles(ctx context.Context, kind string) ([]PendingRoleAssignment, error)
	DeletePendingRole(ctx context.Context, id string) error

	CreateModMail(ctx context.Context, m *ModMailThread) error
	ListModMail(ctx context.Context) ([]ModMailThread, error)
	DeleteModMail(ctx context.Context, channelID string) error

	AddQuestion(ctx context.Context, q *Question) error
	// ListQuestions returns queued questions, oldest first
	ListQuestions(ctx context.Context) ([]Question, error)
	// PopQuestion removes and returns the oldest queued question
	PopQuestion(ctx context.Context) (*Question, error)

	LogInteraction(ctx context.Context, l *InteractionLog) error

	Close(ctx context.Context) error
}

// OpenStore opens the Store for the configured database type, creating
// tables (or indexes) as needed.
func OpenStore(ctx context.Context, config *Config, handler slog.Handler) (Store, error) {
	switch config.DatabaseType {
	case dbTypeMongoDB:
		return newMongoStore(ctx, config.Database, config.MongoDatabase, handler)
	case dbTypeSQLite, dbTypePostgres:
		return newGormStore(
			ctx,
			config.DatabaseType,
			config.Database,
			config.DatabaseSlowThreshold,
			handler,
		)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DatabaseType)
	}
}
