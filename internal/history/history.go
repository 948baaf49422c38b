// Package history keeps an audit trail of service calls.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Call is one recorded service invocation.
type Call struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Plugin     string    `gorm:"index:idx_plugin_ts,priority:1" json:"plugin"`
	Service    string    `json:"service"`
	Entity     string    `gorm:"index" json:"entity"`
	Data       string    `json:"data"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	TS         time.Time `gorm:"index:idx_plugin_ts,priority:2" json:"ts"`
}

// Store persists calls in SQLite.
type Store struct {
	db *gorm.DB
}

// Open creates the database file and its parent directory if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir history dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Call{}); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores one call. callErr may be nil.
func (s *Store) Record(ctx context.Context, plugin, service string, data map[string]any, callErr error, duration time.Duration) (*Call, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode call data: %w", err)
	}
	entity, _ := data["entity_id"].(string)

	call := &Call{
		ID:         uuid.New(),
		Plugin:     plugin,
		Service:    service,
		Entity:     entity,
		Data:       string(payload),
		DurationMS: duration.Milliseconds(),
		TS:         time.Now().UTC(),
	}
	if callErr != nil {
		call.Error = callErr.Error()
	}
	if err := s.db.WithContext(ctx).Create(call).Error; err != nil {
		return nil, err
	}
	return call, nil
}

// Recent returns the newest calls for plugin, newest first. An empty plugin matches all.
func (s *Store) Recent(ctx context.Context, plugin string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	q := s.db.WithContext(ctx).Order("ts DESC").Limit(limit)
	if plugin != "" {
		q = q.Where("plugin = ?", plugin)
	}
	var rows []Call
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Values renders a call as JSON-compatible values.
func (c Call) Values() map[string]any {
	out := map[string]any{
		"id":          c.ID.String(),
		"plugin":      c.Plugin,
		"service":     c.Service,
		"entity":      c.Entity,
		"duration_ms": float64(c.DurationMS),
		"ts":          c.TS.Format(time.RFC3339Nano),
	}
	var data any
	if err := json.Unmarshal([]byte(c.Data), &data); err == nil {
		out["data"] = data
	}
	if c.Error != "" {
		out["error"] = c.Error
	}
	return out
}
