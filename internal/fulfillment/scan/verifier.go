package scan

import (
	"strconv"
	"strings"
	"time"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/checklist"
)

// Result is the operator feedback for one accepted scan.
type Result struct {
	UnitID       string    `json:"unit_id"`
	Code         string    `json:"code"`
	ScannedAt    time.Time `json:"scanned_at"`
	ScannedCount int       `json:"scanned_count"`
	TotalItems   int       `json:"total_items"`
}

type Verifier struct {
	now func() time.Time
}

func NewVerifier() *Verifier {
	return &Verifier{now: time.Now}
}

// Scan normalizes the raw payload and matches it against the checklist:
// by unit id first, then by the human-readable ordinal number, then by
// the backup-label fallback code. First match wins. On a match the item
// is flipped to scanned; a repeat scan of the same item is rejected
// with ErrAlreadyScanned, an unknown code with ErrNotInChecklist.
func (v *Verifier) Scan(cl *checklist.Checklist, raw string) (Result, error) {
	code := Normalize(raw)

	unitID, ok := match(cl.Items(), code)
	if !ok {
		return Result{Code: code}, checklist.ErrNotInChecklist
	}

	at := v.now()
	if err := cl.MarkScanned(unitID, raw, at); err != nil {
		return Result{UnitID: unitID, Code: code}, err
	}

	return Result{
		UnitID:       unitID,
		Code:         code,
		ScannedAt:    at,
		ScannedCount: cl.ScannedCount(),
		TotalItems:   cl.TotalItems(),
	}, nil
}

func match(items []checklist.Item, code string) (string, bool) {
	for _, it := range items {
		if it.UnitID == code {
			return it.UnitID, true
		}
	}

	if n, err := strconv.Atoi(code); err == nil {
		for _, it := range items {
			if it.OrdinalNo == n {
				return it.UnitID, true
			}
		}
	}

	for _, it := range items {
		if strings.EqualFold(it.FallbackCode(), code) {
			return it.UnitID, true
		}
	}

	return "", false
}
