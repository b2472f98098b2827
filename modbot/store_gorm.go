package modbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormStore implements Store on sqlite or postgres
type gormStore struct {
	db      *gorm.DB
	writeDB *database
	logger  *slog.Logger
}

func newGormStore(
	ctx context.Context,
	databaseType string,
	dsn string,
	slowThreshold time.Duration,
	handler slog.Handler,
) (*gormStore, error) {
	gormLogger := newGORMLogger(handler, slowThreshold)
	db, err := getDB(databaseType, dsn, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if databaseType == dbTypeSQLite {
		if err = configureSQLite(ctx, db); err != nil {
			return nil, fmt.Errorf("error configuring sqlite: %w", err)
		}
	}

	if err = migrateDB(ctx, db); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return newGormStoreFromDB(db, slog.New(handler), databaseType == dbTypePostgres), nil
}

func newGormStoreFromDB(db *gorm.DB, logger *slog.Logger, concurrentWrites bool) *gormStore {
	return &gormStore{
		db:      db,
		writeDB: newDatabase(db, logger, concurrentWrites),
		logger:  logger.With(loggerNameKey, "gorm_store"),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *gormStore) IncrementCounter(ctx context.Context, name string) (int64, error) {
	var counter Counter
	err := s.writeDB.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			upsert := tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "name"}},
					DoUpdates: clause.Assignments(
						map[string]any{"value": gorm.Expr("counters.value + ?", 1)},
					),
				},
			).Create(&Counter{Name: name, Value: 1})
			if upsert.Error != nil {
				return upsert.Error
			}
			return tx.Where("name = ?", name).Take(&counter).Error
		},
	)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func (s *gormStore) CreateCase(ctx context.Context, c *ModerationCase) error {
	_, err := s.writeDB.Create(ctx, c)
	return err
}

func (s *gormStore) GetCase(ctx context.Context, caseNumber int64) (*ModerationCase, error) {
	db, cancel := s.writeDB.reader(ctx)
	defer cancel()

	var c ModerationCase
	if err := db.Where("case_number = ?", caseNumber).Take(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func caseQueryScope(q CaseQuery) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Model(&ModerationCase{}).Where("subject_user_id = ?", q.SubjectUserID)
		switch q.Filter {
		case CaseFilterExcludeNotes:
			db = db.Where("kind <> ?", CaseKindNote)
		case CaseFilterOnlyNotes:
			db = db.Where("kind = ?", CaseKindNote)
		}
		return db
	}
}

func (s *gormStore) CountCases(ctx context.Context, q CaseQuery) (int64, error) {
	db, cancel := s.writeDB.reader(ctx)
	defer cancel()

	var count int64
	err := db.Scopes(caseQueryScope(q)).Count(&count).Error
	return count, err
}

func (s *gormStore) ListCases(
	ctx context.Context,
	q CaseQuery,
	order SortOrder,
	skip int,
	limit int,
) ([]ModerationCase, error) {
	db, cancel := s.writeDB.reader(ctx)
	defer cancel()

	db = db.Scopes(caseQueryScope(q)).Order(
		clause.OrderByColumn{
			Column: clause.Column{Name: "case_number"},
			Desc:   order == SortDescending,
		},
	)
	if skip > 0 {
		db = db.Offset(skip)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}

	cases := []ModerationCase{}
	if err := db.Find(&cases).Error; err != nil {
		return nil, err
	}
	return cases, nil
}

func (s *gormStore) DeleteCase(ctx context.Context, caseNumber int64) (*ModerationCase, error) {
	var c ModerationCase
	err := s.writeDB.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			if err := tx.Where("case_number = ?", caseNumber).Take(&c).Error; err != nil {
				return err
			}
			return tx.Delete(&c).Error
		},
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *gormStore) CreatePendingRole(ctx context.Context, p *PendingRoleAssignment) error {
	_, err := s.writeDB.Create(ctx, p)
	return err
}

func (s *gormStore) GetPendingRole(
	ctx context.Context,
	kind string,
	userID string,
) (*PendingRoleAssignment, error) {
	db, cancel := s.writeDB.reader(ctx)
	defer cancel()

	var p PendingRoleAssignment
	if err := db.Where("kind = ? AND subject_user_id = ?", kind, userID).Take(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *gormStore) ListPendingRoles(ctx context.Context, kind string) ([]PendingRoleAssignment, error) {
	db, cancel := s.writeDB.reader(ctx)
	defer cancel()

	pending := []PendingRoleAssignment{}
	err := db.Where("kind = ?", kind).Order("due_at").Find(&pending).Error
	return pending, err
}

func (s *gormStore) DeletePendingRole(ctx context.Context, id string) error {
	_, err := s.writeDB.Delete(ctx, &PendingRoleAssignment{}, "id = ?", id)
	return err
}

func (s *gormStore) CreateModMail(ctx context.Context, m *ModMailThread) error {
	_, err := s.writeDB.Create(ctx, m)
	return err
}

func (s *gormStore) ListModMail(ctx context.Context) ([]ModMailThread, error) {
	db, cancel := s.writeDB.reader(ctx)
	defer cancel()

	threads := []ModMailThread{}
	err := db.Order("mail_number").Find(&threads).Error
	return threads, err
}

func (s *gormStore) DeleteModMail(ctx context.Context, channelID string) error {
	_, err := s.writeDB.Delete(ctx, &ModMailThread{}, "channel_id = ?", channelID)
	return err
}

func (s *gormStore) AddQuestion(ctx context.Context, q *Question) error {
	_, err := s.writeDB.Create(ctx, q)
	return err
}

func (s *gormStore) ListQuestions(ctx context.Context) ([]Question, error) {
	db, cancel := s.writeDB.reader(ctx)
	defer cancel()

	questions := []Question{}
	err := db.Order("id").Find(&questions).Error
	return questions, err
}

func (s *gormStore) PopQuestion(ctx context.Context) (*Question, error) {
	var q Question
	err := s.writeDB.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			if err := tx.Order("id").Take(&q).Error; err != nil {
				return err
			}
			return tx.Delete(&q).Error
		},
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (s *gormStore) LogInteraction(ctx context.Context, l *InteractionLog) error {
	_, err := s.writeDB.Create(ctx, l)
	return err
}

func (s *gormStore) Close(_ context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err = sqlDB.Close(); err != nil {
		s.logger.Error("error closing database", tint.Err(err))
		return err
	}
	return nil
}
