package workspace

import (
	"fmt"
	"sort"
	"time"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/checklist"
)

// Step is the operator's position in the fulfillment workflow. Forward
// movement is gated by CanAccessStep; the only way back is the
// administrative customer reset.
type Step int

const (
	StepCustomer Step = iota
	StepToys
	StepChecklist
	StepScanning
	StepShipment
)

var stepNames = map[Step]string{
	StepCustomer:  "CUSTOMER",
	StepToys:      "TOYS",
	StepChecklist: "CHECKLIST",
	StepScanning:  "SCANNING",
	StepShipment:  "SHIPMENT",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

func ParseStep(name string) (Step, error) {
	for s, n := range stepNames {
		if n == name {
			return s, nil
		}
	}
	return StepCustomer, fmt.Errorf("unknown workflow step %q", name)
}

type Notification struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanEvent is one entry of the per-workspace scan history, kept
// most-recent-first. Failed scans are recorded too; the history is for
// operator feedback and audit, not for correctness.
type ScanEvent struct {
	ChecklistID string    `json:"checklist_id"`
	UnitID      string    `json:"unit_id,omitempty"`
	RawCode     string    `json:"raw_code"`
	Result      string    `json:"result"`
	At          time.Time `json:"at"`
}

// Workspace is one operator's in-progress session for one customer.
// All access goes through the orchestrator, which serializes operations
// per workspace; the struct itself is not safe for concurrent use.
type Workspace struct {
	TabID             string
	CustomerID        string
	CustomerName      string
	CurrentStep       Step
	Checklists        map[string]*checklist.Checklist
	ActiveChecklistID string
	SelectedUnits     []string
	ScanHistory       []ScanEvent
	Notifications     []Notification
	LastActivity      time.Time
}

func (w *Workspace) activeChecklist() *checklist.Checklist {
	if w.ActiveChecklistID == "" {
		return nil
	}
	return w.Checklists[w.ActiveChecklistID]
}

func (w *Workspace) hasItems() bool {
	for _, cl := range w.Checklists {
		if cl.TotalItems() > 0 {
			return true
		}
	}
	return false
}

func (w *Workspace) allScanned() bool {
	if !w.hasItems() {
		return false
	}
	for _, cl := range w.Checklists {
		if cl.TotalItems() > 0 && !cl.FullyScanned() {
			return false
		}
	}
	return true
}

func (w *Workspace) CanAccessStep(step Step) bool {
	switch step {
	case StepCustomer:
		return true
	case StepToys:
		return w.CustomerID != ""
	case StepChecklist:
		return len(w.SelectedUnits) > 0 || w.hasItems()
	case StepScanning:
		cl := w.activeChecklist()
		return cl != nil && cl.TotalItems() > 0
	case StepShipment:
		return w.allScanned()
	default:
		return false
	}
}

func (w *Workspace) notify(kind, title, message string, at time.Time) {
	w.Notifications = append(w.Notifications, Notification{
		Type:      kind,
		Title:     title,
		Message:   message,
		Timestamp: at,
	})
}

func (w *Workspace) unreadCount() int {
	n := 0
	for _, nt := range w.Notifications {
		if !nt.Read {
			n++
		}
	}
	return n
}

func (w *Workspace) recordScan(ev ScanEvent) {
	// most-recent-first
	w.ScanHistory = append([]ScanEvent{ev}, w.ScanHistory...)
}

func (w *Workspace) reservedUnitIDs() []string {
	var ids []string
	for _, cl := range w.Checklists {
		for _, it := range cl.Items() {
			ids = append(ids, it.UnitID)
		}
	}
	return ids
}

// View is the snapshot exposed to the gateway/UI.
type View struct {
	TabID               string           `json:"tab_id"`
	CustomerID          string           `json:"customer_id"`
	CustomerName        string           `json:"customer_name"`
	CurrentStep         string           `json:"current_step"`
	Checklists          []checklist.View `json:"checklists"`
	ActiveChecklistID   string           `json:"active_checklist_id,omitempty"`
	SelectedUnits       []string         `json:"selected_units,omitempty"`
	UnreadNotifications int              `json:"unread_notifications"`
	LastActivity        time.Time        `json:"last_activity"`
}

func (w *Workspace) snapshot() View {
	views := make([]checklist.View, 0, len(w.Checklists))
	for _, cl := range w.Checklists {
		views = append(views, cl.Snapshot())
	}
	// stable order for the UI
	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.Before(views[j].CreatedAt)
		}
		return views[i].ID < views[j].ID
	})

	selected := make([]string, len(w.SelectedUnits))
	copy(selected, w.SelectedUnits)

	return View{
		TabID:               w.TabID,
		CustomerID:          w.CustomerID,
		CustomerName:        w.CustomerName,
		CurrentStep:         w.CurrentStep.String(),
		Checklists:          views,
		ActiveChecklistID:   w.ActiveChecklistID,
		SelectedUnits:       selected,
		UnreadNotifications: w.unreadCount(),
		LastActivity:        w.LastActivity,
	}
}
