package shipment

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/checklist"
)

var (
	ErrIncompleteScan = errors.New("checklist is not fully scanned")
	ErrValidation     = errors.New("driver name and vehicle number are required")
)

// Details is the carrier metadata attached at finalization.
type Details struct {
	DriverName    string `json:"driver_name"`
	VehicleNumber string `json:"vehicle_number"`
	Notes         string `json:"notes"`
}

// Shipment is the immutable record closing a checklist. Totals are
// computed once, at the moment of finalization, and never re-derived.
type Shipment struct {
	ID            string          `json:"id"`
	ChecklistID   string          `json:"checklist_id"`
	WorkspaceID   string          `json:"workspace_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	DriverName    string          `json:"driver_name"`
	VehicleNumber string          `json:"vehicle_number"`
	Notes         string          `json:"notes,omitempty"`
	UnitIDs       []string        `json:"unit_ids"`
	TotalItems    int             `json:"total_items"`
	TotalWeight   decimal.Decimal `json:"total_weight"`
	FinalizedAt   time.Time       `json:"finalized_at"`
}

type Finalizer struct {
	now func() time.Time
}

func NewFinalizer() *Finalizer {
	return &Finalizer{now: time.Now}
}

// Finalize closes a checklist into a shipment. All-or-nothing: every
// item must be scanned and the carrier fields must be present, or
// nothing happens.
func (f *Finalizer) Finalize(cl *checklist.Checklist, d Details) (Shipment, error) {
	if strings.TrimSpace(d.DriverName) == "" || strings.TrimSpace(d.VehicleNumber) == "" {
		return Shipment{}, ErrValidation
	}
	if !cl.FullyScanned() {
		return Shipment{}, ErrIncompleteScan
	}

	items := cl.Items()
	unitIDs := make([]string, len(items))
	for i, it := range items {
		unitIDs[i] = it.UnitID
	}

	return Shipment{
		ID:            uuid.NewString(),
		ChecklistID:   cl.ID,
		WorkspaceID:   cl.WorkspaceID,
		CustomerID:    cl.CustomerID,
		CustomerName:  cl.CustomerName,
		DriverName:    strings.TrimSpace(d.DriverName),
		VehicleNumber: strings.TrimSpace(d.VehicleNumber),
		Notes:         strings.TrimSpace(d.Notes),
		UnitIDs:       unitIDs,
		TotalItems:    cl.TotalItems(),
		TotalWeight:   cl.TotalWeight(),
		FinalizedAt:   f.now(),
	}, nil
}
