package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSystemFlagRepository stores operator-controlled flags. Flags are read at
// every worker yield point, so reads must stay cheap single-row lookups.
type GormSystemFlagRepository struct {
	db *gorm.DB
}

// NewGormSystemFlagRepository creates a new GORM system flag repository
func NewGormSystemFlagRepository(db *gorm.DB) *GormSystemFlagRepository {
	return &GormSystemFlagRepository{db: db}
}

// Get returns the raw flag value and whether the flag exists
func (r *GormSystemFlagRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var model SystemFlagModel
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read system flag %s: %w", key, err)
	}
	return model.Value, true, nil
}

// Set upserts a flag; the change is visible to workers on their next read
func (r *GormSystemFlagRepository) Set(ctx context.Context, key, value string) error {
	model := &SystemFlagModel{Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to set system flag %s: %w", key, err)
	}
	return nil
}

// GetBool parses a boolean flag, falling back to def when unset or malformed
func (r *GormSystemFlagRepository) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return def, nil
}

// GetInt parses an integer flag, falling back to def when unset or malformed
func (r *GormSystemFlagRepository) GetInt(ctx context.Context, key string, def int) (int, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	n, perr := strconv.Atoi(strings.TrimSpace(raw))
	if perr != nil {
		return def, nil
	}
	return n, nil
}

// List returns every flag for the admin surface
func (r *GormSystemFlagRepository) List(ctx context.Context) ([]SystemFlagModel, error) {
	var models []SystemFlagModel
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list system flags: %w", err)
	}
	return models, nil
}
