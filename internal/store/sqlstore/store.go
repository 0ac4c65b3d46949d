// Package sqlstore 基于 gorm 在 MySQL 或 PostgreSQL 上持久化关系画像、记忆和转化记录
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

const (
	// DialectMySQL MySQL方言
	DialectMySQL = "mysql"
	// DialectPostgreSQL PostgreSQL方言
	DialectPostgreSQL = "postgres"

	defaultTablePrefix = "companion"
)

// Config 描述数据库连接
type Config struct {
	Driver      string
	DSN         string
	TablePrefix string
	LogLevel    logger.LogLevel
}

// Open 根据驱动名创建 gorm 实例
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case DialectMySQL:
		dsn := cfg.DSN
		if !strings.Contains(dsn, "parseTime") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "charset=utf8mb4&parseTime=True&loc=UTC"
		}
		dialector = mysql.Open(dsn)
	case DialectPostgreSQL:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	level := cfg.LogLevel
	if level == 0 {
		level = logger.Silent
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// Store 基于 gorm 实现 store.Store
type Store struct {
	db     *gorm.DB
	prefix string
}

var _ store.Store = (*Store)(nil)

// New 包装已打开的数据库连接，前缀为空时使用 "companion"
func New(db *gorm.DB, tablePrefix string) (*Store, error) {
	if db == nil {
		return nil, errors.New("database instance cannot be nil")
	}
	if tablePrefix == "" {
		tablePrefix = defaultTablePrefix
	}
	return &Store{db: db, prefix: tablePrefix}, nil
}

func (s *Store) profileTable() string    { return s.prefix + "_profiles" }
func (s *Store) memoryTable() string     { return s.prefix + "_memories" }
func (s *Store) conversionTable() string { return s.prefix + "_conversions" }

// AutoMigrate 自动迁移表结构
func (s *Store) AutoMigrate() error {
	if err := s.db.Table(s.profileTable()).AutoMigrate(&ProfileModel{}); err != nil {
		return err
	}
	if err := s.db.Table(s.memoryTable()).AutoMigrate(&MemoryModel{}); err != nil {
		return err
	}
	return s.db.Table(s.conversionTable()).AutoMigrate(&ConversionModel{})
}

// GetProfile 实现 store.Store，未知用户写入一行初次接触的记录
func (s *Store) GetProfile(ctx context.Context, userID string) (relationship.Profile, error) {
	if userID == "" {
		return relationship.Profile{}, store.ErrUserRequired
	}

	var row ProfileModel
	row.fromProfile(relationship.NewProfile(userID))
	err := s.db.WithContext(ctx).
		Table(s.profileTable()).
		Where("user_id = ?", userID).
		FirstOrCreate(&row).Error
	if err != nil {
		return relationship.Profile{}, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return row.toProfile(), nil
}

// UpdateTrust 实现 store.Store。读改写在同一事务中加行锁执行，并发的增量不会丢失
func (s *Store) UpdateTrust(ctx context.Context, userID string, delta float64) (float64, error) {
	if userID == "" {
		return 0, store.ErrUserRequired
	}

	var trust float64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ProfileModel
		err := tx.Table(s.profileTable()).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row.fromProfile(relationship.NewProfile(userID))
			row.TrustLevel = relationship.ClampTrust(delta)
			row.InteractionCount = 1
			trust = row.TrustLevel
			return tx.Table(s.profileTable()).Create(&row).Error
		case err != nil:
			return err
		}

		trust = relationship.ClampTrust(row.TrustLevel + delta)
		return tx.Table(s.profileTable()).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"trust_level":       trust,
				"interaction_count": gorm.Expr("interaction_count + 1"),
			}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("update trust for %s: %w", userID, err)
	}
	return trust, nil
}

// WriteMemory 实现 store.Store
func (s *Store) WriteMemory(ctx context.Context, record memory.Memory) error {
	if record.UserID == "" {
		return store.ErrUserRequired
	}
	if record.Content == "" {
		return store.ErrMemoryRequired
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var row MemoryModel
	if err := row.fromMemory(record); err != nil {
		return fmt.Errorf("encode memory tags: %w", err)
	}
	if err := s.db.WithContext(ctx).Table(s.memoryTable()).Create(&row).Error; err != nil {
		return fmt.Errorf("save memory to %s: %w", s.db.Dialector.Name(), err)
	}
	return nil
}

// FindMemories 实现 store.Store
func (s *Store) FindMemories(ctx context.Context, filter memory.Filter) ([]memory.Memory, error) {
	if filter.UserID == "" {
		return nil, store.ErrUserRequired
	}

	query := s.db.WithContext(ctx).
		Table(s.memoryTable()).
		Where("user_id = ?", filter.UserID)
	if filter.MinSignificance > 0 {
		query = query.Where("significance >= ?", filter.MinSignificance)
	}
	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []MemoryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find memories for %s: %w", filter.UserID, err)
	}

	out := make([]memory.Memory, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toMemory())
	}
	return out, nil
}

// RecordConversion 实现 store.Store
func (s *Store) RecordConversion(ctx context.Context, userID string, at time.Time) error {
	if userID == "" {
		return store.ErrUserRequired
	}
	row := ConversionModel{UserID: userID, FiredAt: at.UTC()}
	if err := s.db.WithContext(ctx).Table(s.conversionTable()).Create(&row).Error; err != nil {
		return fmt.Errorf("record conversion for %s: %w", userID, err)
	}
	return nil
}

// LastConversion 实现 store.Store
func (s *Store) LastConversion(ctx context.Context, userID string) (time.Time, bool, error) {
	if userID == "" {
		return time.Time{}, false, store.ErrUserRequired
	}
	var row ConversionModel
	err := s.db.WithContext(ctx).Table(s.conversionTable()).
		Where("user_id = ?", userID).
		Order("fired_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last conversion for %s: %w", userID, err)
	}
	return row.FiredAt, true, nil
}
