package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/database/models"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/allocation"
)

const (
	AVAILABILITY_CACHE_PREFIX = "fulfillment:avail:"
	CACHE_TTL_SHORT           = 5 * time.Minute
)

// ErrUnitsConflict is returned when a reservation loses the race for at
// least one unit: another workspace grabbed it between query and update.
var ErrUnitsConflict = errors.New("some units are no longer available")

// Store is the persistent inventory behind allocation and fulfillment.
// Units go approved -> reserved -> sold; reservations are released when
// a checklist item is removed or a workspace is torn down.
type Store struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewStore(db *gorm.DB, redisClient *redis.Client) *Store {
	return &Store{
		db:    db,
		redis: redisClient,
	}
}

func availabilityCacheKey(batchID, grade string) string {
	return fmt.Sprintf("%s%s:%s", AVAILABILITY_CACHE_PREFIX, batchID, grade)
}

func (s *Store) invalidateAvailability(ctx context.Context, units []models.Unit) {
	seen := make(map[string]bool)
	for _, u := range units {
		key := availabilityCacheKey(u.BatchID, u.Grade)
		if !seen[key] {
			seen[key] = true
			_ = s.redis.Del(ctx, key)
		}
	}
}

// FindApproved returns the sellable units of a batch+grade: lab-approved,
// not reserved, not sold, ordered newest-first by packing sequence.
func (s *Store) FindApproved(ctx context.Context, batchID, grade string) ([]allocation.Unit, error) {
	var rows []models.Unit
	err := s.db.WithContext(ctx).
		Joins("Batch").
		Where("units.batch_id = ? AND units.grade = ? AND units.lab_status = ? AND units.reserved = ? AND units.sold = ?",
			batchID, grade, models.LabStatusApproved, false, false).
		Order("units.sequence DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query approved units: %w", err)
	}

	units := make([]allocation.Unit, 0, len(rows))
	for _, r := range rows {
		weight, err := decimal.NewFromString(r.NetWeight)
		if err != nil {
			weight = decimal.Zero
		}
		label := ""
		if r.Batch != nil {
			label = r.Batch.Label
		}
		units = append(units, allocation.Unit{
			ID:         r.ID,
			BatchID:    r.BatchID,
			BatchLabel: label,
			Grade:      r.Grade,
			NetWeight:  weight,
			Sequence:   r.Sequence,
		})
	}
	return units, nil
}

// Reserve flips the given units to reserved, all or nothing. The guarded
// UPDATE only touches rows still free, so a short row count means a
// concurrent workspace won the race and the whole reservation rolls back.
func (s *Store) Reserve(ctx context.Context, unitIDs []string) error {
	if len(unitIDs) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Unit{}).
			Where("id IN ? AND lab_status = ? AND reserved = ? AND sold = ?",
				unitIDs, models.LabStatusApproved, false, false).
			Update("reserved", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(unitIDs)) {
			return ErrUnitsConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateByIDs(ctx, unitIDs)
	return nil
}

// Release returns reserved units to the pool. Already-free and sold
// units are left alone, so a double release is harmless.
func (s *Store) Release(ctx context.Context, unitIDs []string) error {
	if len(unitIDs) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Model(&models.Unit{}).
		Where("id IN ? AND reserved = ? AND sold = ?", unitIDs, true, false).
		Update("reserved", false).Error
	if err != nil {
		return fmt.Errorf("release units: %w", err)
	}

	s.invalidateByIDs(ctx, unitIDs)
	return nil
}

// AvailableCount is the cached sellable-unit count for a batch+grade,
// used by the stock overview endpoints.
func (s *Store) AvailableCount(ctx context.Context, batchID, grade string) (int64, error) {
	key := availabilityCacheKey(batchID, grade)
	if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
		if n, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
			return n, nil
		}
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.Unit{}).
		Where("batch_id = ? AND grade = ? AND lab_status = ? AND reserved = ? AND sold = ?",
			batchID, grade, models.LabStatusApproved, false, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count available units: %w", err)
	}

	_ = s.redis.Set(ctx, key, strconv.FormatInt(count, 10), CACHE_TTL_SHORT)
	return count, nil
}

// Batches lists batches with their units for the stock overview.
func (s *Store) Batches(ctx context.Context) ([]models.Batch, error) {
	var batches []models.Batch
	err := s.db.WithContext(ctx).
		Preload("Units").
		Order("label ASC").
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

func (s *Store) invalidateByIDs(ctx context.Context, unitIDs []string) {
	var rows []models.Unit
	if err := s.db.WithContext(ctx).
		Select("batch_id", "grade").
		Where("id IN ?", unitIDs).
		Find(&rows).Error; err != nil {
		return
	}
	s.invalidateAvailability(ctx, rows)
}
