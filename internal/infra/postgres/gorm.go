package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/PowerTrack/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// NewGorm returns a gorm.DB for the tracking schema. GORM's own logging is
// routed into log, and driver errors are translated so the order_id unique
// index surfaces as gorm.ErrDuplicatedKey.
func NewGorm(cfg config.PostgresConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(ConnString(cfg)), &gorm.Config{
		Logger:                                   newGormLogger(log),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve sql db: %w", err)
	}

	lifetime := 5 * time.Minute
	applyDuration(cfg.MaxConnLifetime, &lifetime)
	sqlDB.SetConnMaxLifetime(lifetime)

	var idle time.Duration
	applyDuration(cfg.MaxConnIdleTime, &idle)
	if idle > 0 {
		sqlDB.SetConnMaxIdleTime(idle)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		sqlDB.SetMaxIdleConns(int(cfg.MinConns))
	}

	return db, nil
}

// Lookups by click or order id miss routinely, so record-not-found is not logged.
func newGormLogger(log *zap.Logger) gormlogger.Interface {
	if log == nil {
		return gormlogger.Discard
	}
	return gormlogger.New(zap.NewStdLog(log.Named("gorm")), gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// AutoMigrate creates or updates the tables for the provided models.
func AutoMigrate(ctx context.Context, db *gorm.DB, models ...interface{}) error {
	if db == nil || len(models) == 0 {
		return nil
	}

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("postgres: auto migrate: %w", err)
	}
	return nil
}
