// Package journal keeps a local history of searches made through the client.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"productsearch/pkg/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store records completed searches.
type Store interface {
	Record(ctx context.Context, entry domain.JournalEntry) (domain.JournalEntry, error)
	List(ctx context.Context, username string, limit int) ([]domain.JournalEntry, error)
	Close() error
}

// GormStore implements Store using GORM over sqlite or Postgres.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens the journal database for driver and runs auto-migrations.
func Open(driver, dsn string) (*GormStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = "shopsearch.db"
		}
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres journal requires a dsn")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}

	gormLog := gormlogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite allows a single writer; ":memory:" is also per-connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("journal db handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&SearchModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate journal: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// Record stores entry, assigning an id and timestamp when missing.
func (s *GormStore) Record(ctx context.Context, entry domain.JournalEntry) (domain.JournalEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	ids := entry.ProductIDs
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("encode product ids: %w", err)
	}
	model := SearchModel{
		ID:          entry.ID,
		SessionID:   entry.SessionID,
		Username:    entry.Username,
		Mode:        string(entry.Mode),
		Query:       entry.Query,
		Category:    entry.Category,
		Limit:       entry.Limit,
		ResultCount: entry.ResultCount,
		ProductIDs:  raw,
		CreatedAt:   entry.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.JournalEntry{}, fmt.Errorf("record search: %w", err)
	}
	entry.ProductIDs = ids
	return entry, nil
}

// List returns the most recent entries first. An empty username lists all.
func (s *GormStore) List(ctx context.Context, username string, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Order("created_at desc").Order("id").Limit(limit)
	if username != "" {
		q = q.Where("username = ?", username)
	}
	var models []SearchModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}
	out := make([]domain.JournalEntry, 0, len(models))
	for _, m := range models {
		entry, err := toDomain(m)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	return nil
}

func toDomain(m SearchModel) (domain.JournalEntry, error) {
	ids := []string{}
	if len(m.ProductIDs) > 0 {
		if err := json.Unmarshal(m.ProductIDs, &ids); err != nil {
			return domain.JournalEntry{}, fmt.Errorf("decode product ids for %s: %w", m.ID, err)
		}
	}
	return domain.JournalEntry{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Username:    m.Username,
		Mode:        domain.SearchMode(m.Mode),
		Query:       m.Query,
		Category:    m.Category,
		Limit:       m.Limit,
		ResultCount: m.ResultCount,
		ProductIDs:  ids,
		CreatedAt:   m.CreatedAt,
	}, nil
}
