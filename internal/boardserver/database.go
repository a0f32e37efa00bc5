package boardserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boardsync/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type userRecord struct {
	ID        int64  `gorm:"primaryKey"`
	Email     string `gorm:"size:255;uniqueIndex;not null"`
	Nickname  string `gorm:"size:50;not null"`
	Password  string `gorm:"not null"`
	CreatedAt time.Time
}

func (userRecord) TableName() string { return "users" }

type postRecord struct {
	ID         int64  `gorm:"primaryKey"`
	Title      string `gorm:"size:200;not null"`
	Content    string `gorm:"type:text;not null"`
	CategoryID int64  `gorm:"index"`
	AuthorID   int64  `gorm:"index;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (postRecord) TableName() string { return "posts" }

type commentRecord struct {
	ID        int64  `gorm:"primaryKey"`
	PostID    int64  `gorm:"index;not null"`
	AuthorID  int64  `gorm:"not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (commentRecord) TableName() string { return "comments" }

type postLikeRecord struct {
	PostID    int64 `gorm:"primaryKey"`
	UserID    int64 `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (postLikeRecord) TableName() string { return "post_likes" }

type commentLikeRecord struct {
	CommentID int64 `gorm:"primaryKey"`
	UserID    int64 `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (commentLikeRecord) TableName() string { return "comment_likes" }

type scrapRecord struct {
	ID        int64 `gorm:"primaryKey"`
	PostID    int64 `gorm:"uniqueIndex:idx_scrap_user_post;not null"`
	UserID    int64 `gorm:"uniqueIndex:idx_scrap_user_post;not null"`
	CreatedAt time.Time
}

func (scrapRecord) TableName() string { return "scraps" }

type notificationRecord struct {
	ID        int64  `gorm:"primaryKey"`
	UserID    int64  `gorm:"index;not null"`
	Message   string `gorm:"size:500;not null"`
	PostID    *int64
	Read      bool `gorm:"column:is_read;not null;default:false"`
	CreatedAt time.Time
}

func (notificationRecord) TableName() string { return "notifications" }

// Migrate creates or updates the board schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&userRecord{},
		&postRecord{},
		&commentRecord{},
		&postLikeRecord{},
		&commentLikeRecord{},
		&scrapRecord{},
		&notificationRecord{},
	)
}

// GormLogger integrates GORM with slog
type GormLogger struct {
	logger *slog.Logger
	Config logger.Config
}

// NewGormLogger logs warnings, slow queries and errors through l.
func NewGormLogger(l *slog.Logger) *GormLogger {
	return &GormLogger{
		logger: l,
		Config: logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	}
}

// LogMode sets the logging level and returns a new interface instance.
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newlogger := *l
	newlogger.Config.LogLevel = level
	return &newlogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace logs SQL statements: errors always, slow queries as warnings,
// everything else only at Info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.Config.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.Config.LogLevel >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		l.logger.ErrorContext(ctx, "GORM query error",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	case elapsed > l.Config.SlowThreshold && l.Config.SlowThreshold != 0 && l.Config.LogLevel >= logger.Warn:
		l.logger.WarnContext(ctx, "GORM slow query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	case l.Config.LogLevel >= logger.Info:
		l.logger.InfoContext(ctx, "GORM query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	}
}

// Connect opens the board database selected by cfg.DBDriver and migrates
// the schema outside production.
func Connect(cfg *config.Config, l *slog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBDSN)
	case "postgres":
		dialector = postgres.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(l)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	l.Info("Database connected successfully", slog.String("driver", cfg.DBDriver))

	if !cfg.IsProduction() {
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		l.Info("Database migration completed")
	}

	return db, nil
}
