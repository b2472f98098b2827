package modbot

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
	dbTypeMongoDB  = "mongodb"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
		"pragma mmap_size = 8000000000;",
	}
	dbOperationTimeout = 30 * time.Second
)

// gormModels are migrated by CreateDB and initDB
var gormModels = []any{
	&Counter{},
	&ModerationCase{},
	&PendingRoleAssignment{},
	&ModMailThread{},
	&Question{},
	&InteractionLog{},
}

type ModelStringID struct {
	ID string `gorm:"primaryKey" json:"id"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps a gorm connection. Writes are serialized with a mutex
// unless concurrent writes are enabled (postgres), and any operation
// without a deadline is given dbOperationTimeout.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

func newDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) *database {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) lock() func() {
	if d.enableConcurrentWrites {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

func withDBTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

// reader returns a session for read queries, which aren't serialized
func (d *database) reader(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := withDBTimeout(ctx)
	return d.db.WithContext(ctx), cancel
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

func (d *database) Delete(
	ctx context.Context,
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

// Duration is a wrapper for time.Duration that implements
// SQL Scanner and Valuer interfaces for GORM.
type Duration struct {
	time.Duration
}

// Scan implements the sql.Scanner interface.
func (d *Duration) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		d.Duration = 0
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("unexpected type for Duration: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (d Duration) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Duration) parse(value string) error {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if len(s) < 2 {
		return fmt.Errorf("invalid duration: %s", s)
	}
	return d.parse(s[1 : len(s)-1])
}

// MarshalJSON implements the json.Marshaller interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`%q`, d.String())), nil
}

// GormDataType is used by GORM to determine the default data type for a field.
func (Duration) GormDataType() string {
	return "string"
}

// CreateDB initializes and returns a GORM database connection based on the
// specified database type, and migrates all models.
//
// Parameters:
//   - ctx: The context for the database operations.
//   - databaseType: The type of the database, must be 'sqlite' or 'postgres'.
//   - database: The database connection string, or SQLite file path.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	slog.New(handler).InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}
	if err = migrateDB(ctx, db); err != nil {
		return db, err
	}
	return db, nil
}

func migrateDB(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(gormModels...)
		},
	)
}

// configureSQLite limits the pool to a single connection and applies
// sqliteExecPragma
func configureSQLite(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	var errs []error
	for _, pragma := range sqliteExecPragma {
		if e := db.WithContext(ctx).Exec(pragma).Error; e != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pragma, e))
		}
	}
	return errors.Join(errs...)
}

// storeTimePrecision is the coarsest timestamp precision among the
// backends (BSON datetimes are milliseconds)
const storeTimePrecision = time.Millisecond

// storeTime normalizes t to UTC at the precision every backend keeps,
// so a record reads back equal to the one written
func storeTime(t time.Time) time.Time {
	return t.UTC().Truncate(storeTimePrecision)
}

// getDB initializes and returns a GORM database connection based on the
// specified database type.
//
// Parameters:
//   - databaseType: Must be 'sqlite' or 'postgres'
//   - database: Database connection string, or SQLite file path.
//   - gormLogger: A pointer to a gormStructuredLogger instance for
//     logging database operations.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return storeTime(time.Now())
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), cfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
