package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// GormSyncLockRepository implements the per-line mutual exclusion lock on top
// of a partial unique index: at most one non-released row per line.
type GormSyncLockRepository struct {
	db    *gorm.DB
	clock shared.Clock
}

// NewGormSyncLockRepository creates a new GORM sync lock repository
func NewGormSyncLockRepository(db *gorm.DB, clock shared.Clock) *GormSyncLockRepository {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &GormSyncLockRepository{db: db, clock: clock}
}

// Acquire takes the processing lock for a line. Returns shared.ErrLockHeld
// when another owner already holds it; the database index makes concurrent
// acquisition races lose cleanly.
func (r *GormSyncLockRepository) Acquire(ctx context.Context, lineID int, owner string) (*ingestion.SyncLock, error) {
	model := &SyncLockModel{
		LineID:     lineID,
		Owner:      owner,
		Status:     string(ingestion.SyncLockProcessing),
		AcquiredAt: r.clock.Now(),
	}
	err := r.db.WithContext(ctx).Create(model).Error
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("line %d: %w", lineID, shared.ErrLockHeld)
		}
		return nil, fmt.Errorf("failed to acquire sync lock for line %d: %w", lineID, err)
	}
	return lockToDomain(model), nil
}

// Release moves a held lock to released and stamps completion
func (r *GormSyncLockRepository) Release(ctx context.Context, lockID int64) error {
	now := r.clock.Now()
	res := r.db.WithContext(ctx).Model(&SyncLockModel{}).
		Where("id = ? AND status = ?", lockID, string(ingestion.SyncLockProcessing)).
		Updates(map[string]interface{}{
			"status":       string(ingestion.SyncLockReleased),
			"completed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to release sync lock %d: %w", lockID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sync lock %d is not held", lockID)
	}
	return nil
}

// ReleaseExpired force-releases locks held longer than ttl. Called by the
// reaper so a crashed worker cannot starve its line forever.
func (r *GormSyncLockRepository) ReleaseExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := r.clock.Now().Add(-ttl)
	res := r.db.WithContext(ctx).Model(&SyncLockModel{}).
		Where("status = ? AND acquired_at < ?", string(ingestion.SyncLockProcessing), cutoff).
		Updates(map[string]interface{}{
			"status":       string(ingestion.SyncLockReleased),
			"completed_at": r.clock.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release expired sync locks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Held returns the active lock for a line, or nil
func (r *GormSyncLockRepository) Held(ctx context.Context, lineID int) (*ingestion.SyncLock, error) {
	var model SyncLockModel
	err := r.db.WithContext(ctx).
		Where("line_id = ? AND status = ?", lineID, string(ingestion.SyncLockProcessing)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check sync lock for line %d: %w", lineID, err)
	}
	return lockToDomain(&model), nil
}

func lockToDomain(model *SyncLockModel) *ingestion.SyncLock {
	return &ingestion.SyncLock{
		ID:          model.ID,
		LineID:      model.LineID,
		Owner:       model.Owner,
		Status:      ingestion.SyncLockStatus(model.Status),
		AcquiredAt:  model.AcquiredAt,
		CompletedAt: model.CompletedAt,
	}
}

// isDuplicateKey matches the duplicate-key shapes of the supported drivers
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || // postgres
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}
