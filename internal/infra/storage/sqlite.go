package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"ratekeeper/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the SQLite-backed key/value store used for cold-start snapshots.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path. An empty path
// resolves to the per-user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = p
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Setting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "Ratekeeper", "data", "ratekeeper.db"), nil
}

// GetValue returns the stored value for key. found is false when the key
// was never written.
func (s *Storage) GetValue(key string) (string, bool, error) {
	var row domain.Setting
	err := s.db.Where(map[string]any{"key": key}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil // Not found is not an error
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// SetValue creates or replaces the value for key.
func (s *Storage) SetValue(key, value string) error {
	row := domain.Setting{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&row).Error
}

// LoadAll returns every stored key/value pair.
func (s *Storage) LoadAll() (map[string]string, error) {
	var rows []domain.Setting
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string, len(rows))
	for _, r := range rows {
		result[r.Key] = r.Value
	}
	return result, nil
}

// DeleteValue removes key. Deleting a missing key is not an error.
func (s *Storage) DeleteValue(key string) error {
	return s.db.Where(map[string]any{"key": key}).Delete(&domain.Setting{}).Error
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
