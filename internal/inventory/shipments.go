package inventory

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/database/models"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/shipment"
)

// ShipmentStore persists finalized shipments. Marking the units sold
// and writing the record happen in one transaction: a failed write
// leaves the units reserved, so the operator can simply retry.
type ShipmentStore struct {
	db    *gorm.DB
	units *Store
}

func NewShipmentStore(db *gorm.DB, units *Store) *ShipmentStore {
	return &ShipmentStore{db: db, units: units}
}

func (s *ShipmentStore) Save(ctx context.Context, shp shipment.Shipment) error {
	var notes *string
	if shp.Notes != "" {
		notes = &shp.Notes
	}

	record := models.ShipmentRecord{
		ID:            shp.ID,
		ChecklistID:   shp.ChecklistID,
		WorkspaceID:   shp.WorkspaceID,
		CustomerID:    shp.CustomerID,
		CustomerName:  shp.CustomerName,
		DriverName:    shp.DriverName,
		VehicleNumber: shp.VehicleNumber,
		Notes:         notes,
		TotalItems:    int32(shp.TotalItems),
		TotalWeight:   shp.TotalWeight.StringFixed(2),
		UnitIDs:       models.StringArray(shp.UnitIDs),
		FinalizedAt:   shp.FinalizedAt,
	}

	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Unit{}).
			Where("id IN ? AND sold = ?", shp.UnitIDs, false).
			Updates(map[string]interface{}{
				"sold":     true,
				"reserved": false,
				"sold_at":  &now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(shp.UnitIDs)) {
			return ErrUnitsConflict
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return fmt.Errorf("save shipment record: %w", err)
	}

	s.units.invalidateByIDs(ctx, shp.UnitIDs)
	return nil
}

// List returns shipment records newest-first, optionally filtered by customer.
func (s *ShipmentStore) List(ctx context.Context, customerID string, limit int) ([]models.ShipmentRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Order("finalized_at DESC").Limit(limit)
	if customerID != "" {
		q = q.Where("customer_id = ?", customerID)
	}

	var records []models.ShipmentRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	return records, nil
}
