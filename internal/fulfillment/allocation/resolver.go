package allocation

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/checklist"
)

// Unit is the inventory projection the resolver works with. The
// authoritative record lives in the inventory service; this core only
// ever flips its reserved/sold projection through the interfaces below.
type Unit struct {
	ID         string
	BatchID    string
	BatchLabel string
	Grade      string
	NetWeight  decimal.Decimal
	Sequence   int64
}

// InventoryQuery is the external inventory collaborator. FindApproved
// returns unsold, unreserved, lab-approved units for a batch/grade.
// Reserve claims concrete units and must fail atomically when any of
// them was taken by a competing workspace.
type InventoryQuery interface {
	FindApproved(ctx context.Context, batchID, grade string) ([]Unit, error)
	Reserve(ctx context.Context, unitIDs []string) error
}

// SelectionCriterion is the operator's request: so many units of one
// batch/grade. MaxAvailable is advisory (refreshed by the UI just
// before allocating); the resolver re-clamps defensively.
type SelectionCriterion struct {
	BatchID           string `json:"batch_id"`
	BatchLabel        string `json:"batch_label"`
	Grade             string `json:"grade"`
	RequestedQuantity int    `json:"requested_quantity"`
	MaxAvailable      int    `json:"max_available"`
}

// AllocationError reports a criterion that could not be satisfied at
// all, including the race where another workspace claimed the units
// between query and reserve. The caller drops or resizes the criterion
// and retries; nothing is partially applied.
type AllocationError struct {
	BatchID   string
	Grade     string
	Requested int
	Available int
	Reason    string
}

func (e *AllocationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("allocation failed for batch %s grade %s: %s", e.BatchID, e.Grade, e.Reason)
	}
	return fmt.Sprintf("no units available for batch %s grade %s (requested %d, available %d)",
		e.BatchID, e.Grade, e.Requested, e.Available)
}

type Resolver struct {
	inventory InventoryQuery
}

func NewResolver(inventory InventoryQuery) *Resolver {
	return &Resolver{inventory: inventory}
}

// Allocate turns criteria into concrete checklist items and reserves
// the chosen units. Selection within a batch/grade is descending by
// unit sequence, so identical inventory state always yields the same
// units in the same order. Quantities are silently clamped to what is
// available; a criterion with zero available units fails the whole call.
func (r *Resolver) Allocate(ctx context.Context, criteria []SelectionCriterion) ([]checklist.Item, error) {
	var items []checklist.Item
	taken := make(map[string]bool)

	for _, crit := range criteria {
		if crit.RequestedQuantity <= 0 {
			return nil, &AllocationError{
				BatchID: crit.BatchID, Grade: crit.Grade,
				Requested: crit.RequestedQuantity,
				Reason:    "requested quantity must be positive",
			}
		}

		units, err := r.inventory.FindApproved(ctx, crit.BatchID, crit.Grade)
		if err != nil {
			return nil, fmt.Errorf("inventory query for batch %s grade %s: %w", crit.BatchID, crit.Grade, err)
		}

		candidates := units[:0:0]
		for _, u := range units {
			if !taken[u.ID] {
				candidates = append(candidates, u)
			}
		}
		if len(candidates) == 0 {
			return nil, &AllocationError{
				BatchID: crit.BatchID, Grade: crit.Grade,
				Requested: crit.RequestedQuantity, Available: 0,
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Sequence != candidates[j].Sequence {
				return candidates[i].Sequence > candidates[j].Sequence
			}
			return candidates[i].ID < candidates[j].ID
		})

		want := crit.RequestedQuantity
		if crit.MaxAvailable > 0 && want > crit.MaxAvailable {
			want = crit.MaxAvailable
		}
		if want > len(candidates) {
			want = len(candidates)
		}

		label := crit.BatchLabel
		for _, u := range candidates[:want] {
			if label == "" {
				label = u.BatchLabel
			}
			taken[u.ID] = true
			items = append(items, checklist.Item{
				UnitID:     u.ID,
				BatchID:    u.BatchID,
				BatchLabel: u.BatchLabel,
				Grade:      u.Grade,
				Weight:     u.NetWeight,
			})
		}
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.UnitID
	}
	if err := r.inventory.Reserve(ctx, ids); err != nil {
		// another workspace won the race for at least one unit
		return nil, &AllocationError{Reason: fmt.Sprintf("reservation conflict: %v", err)}
	}

	return items, nil
}
