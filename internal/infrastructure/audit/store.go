// Package audit persists access denial events. Writes are asynchronous so
// a slow or unavailable audit database never blocks request handling.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
)

// AccessDenial is one denied request, recorded for program integrity
// review.
type AccessDenial struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt  time.Time `gorm:"index"`
	UserEmail  string    `gorm:"index;size:320"`
	Action     string    `gorm:"size:32"`
	FormType   string    `gorm:"size:8"`
	RebateYear string    `gorm:"size:8"`
	ResourceID string    `gorm:"size:64"`
	ComboKey   string    `gorm:"size:64"`
	Reason     string    `gorm:"size:64"`
}

func (AccessDenial) TableName() string {
	return "access_denials"
}

// NewDatabase opens the audit database connection.
func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	return db, nil
}

// queueSize bounds the pending write backlog. When the backlog is full new
// denials are dropped with a warning rather than blocking requests.
const queueSize = 256

// Store writes denial records through a background worker.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	queue  chan AccessDenial
	done   chan struct{}
}

// NewStore migrates the denial table and starts the write worker.
func NewStore(db *gorm.DB, log *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&AccessDenial{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: log,
		queue:  make(chan AccessDenial, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *Store) run() {
	defer close(s.done)
	for denial := range s.queue {
		if err := s.db.Create(&denial).Error; err != nil {
			s.logger.Error("Failed to persist access denial",
				zap.String("user_email", denial.UserEmail),
				zap.String("reason", denial.Reason),
				zap.Error(err))
		}
	}
}

// RecordDenial enqueues a denial record. It never blocks: when the backlog
// is full the record is logged and dropped.
func (s *Store) RecordDenial(denial AccessDenial) {
	if denial.ID == uuid.Nil {
		denial.ID = uuid.New()
	}
	if denial.CreatedAt.IsZero() {
		denial.CreatedAt = time.Now().UTC()
	}

	select {
	case s.queue <- denial:
	default:
		s.logger.Warn("Audit backlog full, dropping access denial record",
			zap.String("user_email", denial.UserEmail),
			zap.String("reason", denial.Reason))
	}
}

// Close drains pending writes, bounded by the context deadline.
func (s *Store) Close(ctx context.Context) error {
	close(s.queue)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent returns the newest denial records, for operator review endpoints.
func (s *Store) Recent(ctx context.Context, limit int) ([]AccessDenial, error) {
	var denials []AccessDenial
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&denials).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query access denials: %w", err)
	}
	return denials, nil
}
