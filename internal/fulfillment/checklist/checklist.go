package checklist

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft                 Status = "DRAFT"
	StatusConfirmed             Status = "CONFIRMED"
	StatusLocked                Status = "LOCKED"
	StatusModificationRequested Status = "MODIFICATION_REQUESTED"
)

// Item is one allocated unit ("toy") inside a checklist. Items are
// created by the allocation resolver and only ever mutated by the scan
// verifier through MarkScanned.
type Item struct {
	UnitID      string
	BatchID     string
	BatchLabel  string
	Grade       string
	Weight      decimal.Decimal
	OrdinalNo   int
	Scanned     bool
	ScannedAt   *time.Time
	RawScanCode string
}

// FallbackCode is the code printed on hand-written backup labels:
// batch label plus the item's ordinal within the checklist.
func (it Item) FallbackCode() string {
	return fmt.Sprintf("%s-%d", it.BatchLabel, it.OrdinalNo)
}

type SummaryRow struct {
	BatchID    string
	BatchLabel string
	Grade      string
	Count      int
	Weight     decimal.Decimal
}

// Checklist is the working set of units allocated to fulfill one
// customer's shipment. All mutating operations re-check the permission
// table and the status machine; callers are expected to have done the
// same, but the aggregate does not trust them.
type Checklist struct {
	ID                 string
	WorkspaceID        string
	CustomerID         string
	CustomerName       string
	CreatedBy          string
	CreatedAt          time.Time
	ConfirmedBy        string
	LockedBy           string
	ModificationReason string

	status Status
	items  []Item
}

func New(workspaceID, customerID, customerName, createdBy string) *Checklist {
	return &Checklist{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		CustomerID:   customerID,
		CustomerName: customerName,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now(),
		status:       StatusDraft,
	}
}

func (c *Checklist) Status() Status { return c.status }

// Items returns a copy; callers never see the live slice.
func (c *Checklist) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Checklist) TotalItems() int { return len(c.items) }

func (c *Checklist) TotalWeight() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Weight)
	}
	return total
}

func (c *Checklist) ScannedCount() int {
	n := 0
	for _, it := range c.items {
		if it.Scanned {
			n++
		}
	}
	return n
}

func (c *Checklist) FullyScanned() bool {
	return len(c.items) > 0 && c.ScannedCount() == len(c.items)
}

// Summary groups the live items by (batch, grade). Recomputed on every
// call so it can never go stale against the items.
func (c *Checklist) Summary() []SummaryRow {
	type key struct{ batchID, grade string }
	grouped := map[key]*SummaryRow{}
	order := []key{}

	for _, it := range c.items {
		k := key{it.BatchID, it.Grade}
		row, ok := grouped[k]
		if !ok {
			row = &SummaryRow{BatchID: it.BatchID, BatchLabel: it.BatchLabel, Grade: it.Grade, Weight: decimal.Zero}
			grouped[k] = row
			order = append(order, k)
		}
		row.Count++
		row.Weight = row.Weight.Add(it.Weight)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].batchID != order[j].batchID {
			return order[i].batchID < order[j].batchID
		}
		return order[i].grade < order[j].grade
	})

	rows := make([]SummaryRow, 0, len(order))
	for _, k := range order {
		rows = append(rows, *grouped[k])
	}
	return rows
}

// AddItems appends allocated units, skipping any unit already present.
// Returns how many were actually added. Legal only in DRAFT.
func (c *Checklist) AddItems(role Role, items []Item) (int, error) {
	if c.status != StatusDraft {
		return 0, &TransitionError{Status: c.status, Event: "add items"}
	}
	if !PermissionsFor(c.status, role).CanAddItems {
		return 0, ErrPermissionDenied
	}

	existing := make(map[string]bool, len(c.items))
	for _, it := range c.items {
		existing[it.UnitID] = true
	}

	added := 0
	for _, it := range items {
		if existing[it.UnitID] {
			continue
		}
		existing[it.UnitID] = true
		it.Scanned = false
		it.ScannedAt = nil
		it.RawScanCode = ""
		it.OrdinalNo = len(c.items) + 1
		c.items = append(c.items, it)
		added++
	}
	return added, nil
}

// RemoveItem removes a unit by id. Idempotent: removing an absent unit
// is a no-op. Legal only in DRAFT.
func (c *Checklist) RemoveItem(role Role, unitID string) error {
	if c.status != StatusDraft {
		return &TransitionError{Status: c.status, Event: "remove item"}
	}
	if !PermissionsFor(c.status, role).CanRemoveItem {
		return ErrPermissionDenied
	}

	for i, it := range c.items {
		if it.UnitID == unitID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	// ordinals stay dense; backup labels are only printed after confirm,
	// so renumbering in DRAFT is safe
	for i := range c.items {
		c.items[i].OrdinalNo = i + 1
	}
	return nil
}

// Confirm moves DRAFT -> CONFIRMED. Requires at least one item.
func (c *Checklist) Confirm(role Role, actorID string) error {
	if c.status != StatusDraft {
		return &TransitionError{Status: c.status, Event: "confirm"}
	}
	if !PermissionsFor(c.status, role).CanConfirm {
		return ErrPermissionDenied
	}
	if len(c.items) == 0 {
		return ErrEmptyChecklist
	}
	c.status = StatusConfirmed
	c.ConfirmedBy = actorID
	return nil
}

// Lock moves CONFIRMED -> LOCKED, freezing items entirely.
func (c *Checklist) Lock(role Role, actorID string) error {
	if c.status != StatusConfirmed {
		return &TransitionError{Status: c.status, Event: "lock"}
	}
	if !PermissionsFor(c.status, role).CanLock {
		return ErrPermissionDenied
	}
	c.status = StatusLocked
	c.LockedBy = actorID
	return nil
}

// RequestModification moves CONFIRMED or LOCKED into
// MODIFICATION_REQUESTED. It does not unlock anything by itself; the
// external approval workflow calls ApproveModification later.
func (c *Checklist) RequestModification(role Role, reason, actorID string) error {
	if c.status != StatusConfirmed && c.status != StatusLocked {
		return &TransitionError{Status: c.status, Event: "request modification"}
	}
	if !PermissionsFor(c.status, role).CanRequestModification {
		return ErrPermissionDenied
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	c.status = StatusModificationRequested
	c.ModificationReason = strings.TrimSpace(reason)
	return nil
}

// ApproveModification is the only backward edge of the status machine:
// MODIFICATION_REQUESTED -> DRAFT, triggered by the external approval.
func (c *Checklist) ApproveModification() error {
	if c.status != StatusModificationRequested {
		return &TransitionError{Status: c.status, Event: "approve modification"}
	}
	c.status = StatusDraft
	return nil
}

// MarkScanned flips a single item to scanned. A second scan of the same
// item fails with ErrAlreadyScanned so the operator gets an accurate
// diagnostic rather than a generic "not found".
func (c *Checklist) MarkScanned(unitID, rawCode string, at time.Time) error {
	for i := range c.items {
		if c.items[i].UnitID != unitID {
			continue
		}
		if c.items[i].Scanned {
			return ErrAlreadyScanned
		}
		t := at
		c.items[i].Scanned = true
		c.items[i].ScannedAt = &t
		c.items[i].RawScanCode = rawCode
		return nil
	}
	return ErrNotInChecklist
}

// View is the read model handed to the UI/export layers: a pure
// snapshot, never a live reference, so no component can observe torn
// state mid-scan.
type View struct {
	ID                 string          `json:"id"`
	WorkspaceID        string          `json:"workspace_id"`
	CustomerID         string          `json:"customer_id"`
	CustomerName       string          `json:"customer_name"`
	Status             Status          `json:"status"`
	Items              []Item          `json:"items"`
	TotalItems         int             `json:"total_items"`
	TotalWeight        decimal.Decimal `json:"total_weight"`
	ScannedCount       int             `json:"scanned_count"`
	Summary            []SummaryRow    `json:"summary"`
	CreatedBy          string          `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
	LockedBy           string          `json:"locked_by,omitempty"`
	ModificationReason string          `json:"modification_reason,omitempty"`
}

func (c *Checklist) Snapshot() View {
	return View{
		ID:                 c.ID,
		WorkspaceID:        c.WorkspaceID,
		CustomerID:         c.CustomerID,
		CustomerName:       c.CustomerName,
		Status:             c.status,
		Items:              c.Items(),
		TotalItems:         c.TotalItems(),
		TotalWeight:        c.TotalWeight(),
		ScannedCount:       c.ScannedCount(),
		Summary:            c.Summary(),
		CreatedBy:          c.CreatedBy,
		CreatedAt:          c.CreatedAt,
		LockedBy:           c.LockedBy,
		ModificationReason: c.ModificationReason,
	}
}
