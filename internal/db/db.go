package db

import (
	"context"
	"fmt"
	"time"

	"councilboard/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init connects to PostgreSQL and migrates the schema.
func Init(dsn string, log *zap.Logger) (*gorm.DB, error) {
	gdb, err := Open(postgres.Open(dsn), logger.Warn)
	if err != nil {
		return nil, err
	}
	log.Info("database connection established")

	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	log.Info("database migration completed")
	return gdb, nil
}

// Open wraps gorm.Open so tests can hand in another dialector.
func Open(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.CouncilMember{},
		&models.Issue{},
		&models.Comment{},
		&models.IssueVote{},
		&models.CommentVote{},
		&models.Poll{},
		&models.PollOption{},
		&models.PollOptionVote{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

// Ping checks the underlying connection, used by the health endpoint.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
