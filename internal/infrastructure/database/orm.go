package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold is the duration above which ORM queries are logged at WARN.
const slowQueryThreshold = 200 * time.Millisecond

// ORM opens a gorm handle that shares this DB's connection pool.
//
// The handle translates driver errors (gorm.ErrDuplicatedKey) and stamps
// timestamps in UTC. A nil logger silences ORM logging.
func (db *DB) ORM(logger *slog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch db.dialect {
	case DialectPostgres:
		dialector = postgres.New(postgres.Config{Conn: db.DB})
	default:
		dialector = &sqlite.Dialector{Conn: db.DB}
	}

	var lg gormlogger.Interface = gormlogger.Discard
	if logger != nil {
		lg = &ormLogger{log: logger, level: gormlogger.Warn}
	}

	orm, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 lg,
		TranslateError:         true,
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening orm: %w", err)
	}
	return orm, nil
}

// ormLogger routes gorm's log output into slog.
type ormLogger struct {
	log   *slog.Logger
	level gormlogger.LogLevel
}

func (l *ormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *ormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, args...), "component", "orm")
	}
}

func (l *ormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, args...), "component", "orm")
	}
}

func (l *ormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.log.ErrorContext(ctx, fmt.Sprintf(msg, args...), "component", "orm")
	}
}

// Trace logs failed and slow statements. Record-not-found is a normal
// lookup outcome and is not logged.
func (l *ormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		query, rows := fc()
		l.log.ErrorContext(ctx, "orm query failed",
			"component", "orm",
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
			"rows", rows,
			"sql", query,
		)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		query, rows := fc()
		l.log.WarnContext(ctx, "slow orm query",
			"component", "orm",
			"duration_ms", elapsed.Milliseconds(),
			"rows", rows,
			"sql", query,
		)
	case l.level >= gormlogger.Info:
		query, rows := fc()
		l.log.DebugContext(ctx, "orm query",
			"component", "orm",
			"duration_ms", elapsed.Milliseconds(),
			"rows", rows,
			"sql", query,
		)
	}
}
