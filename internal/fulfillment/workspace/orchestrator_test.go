package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/allocation"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/checklist"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/scan"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/shipment"
)

// memInventory is a thread-safe in-memory unit pool implementing both
// the allocation query side and the command side.
type memInventory struct {
	mu    sync.Mutex
	units map[string]*memUnit
}

type memUnit struct {
	unit     allocation.Unit
	reserved bool
	sold     bool
}

func newMemInventory() *memInventory {
	return &memInventory{units: make(map[string]*memUnit)}
}

func (m *memInventory) add(batchID, label, grade string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("%s-%s-%03d", batchID, grade, i)
		m.units[id] = &memUnit{unit: allocation.Unit{
			ID:         id,
			BatchID:    batchID,
			BatchLabel: label,
			Grade:      grade,
			NetWeight:  decimal.NewFromInt(200),
			Sequence:   int64(i),
		}}
	}
}

func (m *memInventory) FindApproved(_ context.Context, batchID, grade string) ([]allocation.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []allocation.Unit
	for _, u := range m.units {
		if u.unit.BatchID == batchID && u.unit.Grade == grade && !u.reserved && !u.sold {
			out = append(out, u.unit)
		}
	}
	return out, nil
}

func (m *memInventory) Reserve(_ context.Context, unitIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range unitIDs {
		u, ok := m.units[id]
		if !ok || u.reserved || u.sold {
			return fmt.Errorf("unit %s unavailable", id)
		}
	}
	for _, id := range unitIDs {
		m.units[id].reserved = true
	}
	return nil
}

func (m *memInventory) Release(_ context.Context, unitIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range unitIDs {
		if u, ok := m.units[id]; ok && !u.sold {
			u.reserved = false
		}
	}
	return nil
}

func (m *memInventory) sell(unitIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range unitIDs {
		u, ok := m.units[id]
		if !ok || u.sold {
			return fmt.Errorf("unit %s cannot be sold", id)
		}
	}
	for _, id := range unitIDs {
		m.units[id].sold = true
		m.units[id].reserved = false
	}
	return nil
}

func (m *memInventory) countSold() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.units {
		if u.sold {
			n++
		}
	}
	return n
}

func (m *memInventory) countFree(batchID, grade string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.units {
		if u.unit.BatchID == batchID && u.unit.Grade == grade && !u.reserved && !u.sold {
			n++
		}
	}
	return n
}

// memShipments mirrors the real store's contract: persisting the
// record and marking the units sold is one atomic step, and a failed
// save leaves the units untouched.
type memShipments struct {
	mu       sync.Mutex
	inv      *memInventory
	failNext bool
	saved    []shipment.Shipment
}

func (m *memShipments) Save(_ context.Context, shp shipment.Shipment) error {
	m.mu.Lock()
	if m.failNext {
		m.failNext = false
		m.mu.Unlock()
		return errors.New("storage unavailable")
	}
	m.mu.Unlock()

	if err := m.inv.sell(shp.UnitIDs); err != nil {
		return err
	}
	m.mu.Lock()
	m.saved = append(m.saved, shp)
	m.mu.Unlock()
	return nil
}

type memApprovals struct {
	mu       sync.Mutex
	requests []string
}

func (m *memApprovals) Request(_ context.Context, checklistID, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, checklistID)
	return fmt.Sprintf("req-%d", len(m.requests)), nil
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, string, string, string) {}

type testEnv struct {
	orch      *Orchestrator
	inv       *memInventory
	shipments *memShipments
	approvals *memApprovals
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	inv := newMemInventory()
	shipments := &memShipments{inv: inv}
	approvals := &memApprovals{}

	orch := New(Deps{
		Resolver:  allocation.NewResolver(inv),
		Verifier:  scan.NewVerifier(),
		Finalizer: shipment.NewFinalizer(),
		Inventory: inv,
		Shipments: shipments,
		Approvals: approvals,
		Audit:     nopAudit{},
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Retention: time.Hour,
	})
	return &testEnv{orch: orch, inv: inv, shipments: shipments, approvals: approvals}
}

func criteria(batchID, label, grade string, qty, max int) []allocation.SelectionCriterion {
	return []allocation.SelectionCriterion{{
		BatchID:           batchID,
		BatchLabel:        label,
		Grade:             grade,
		RequestedQuantity: qty,
		MaxAvailable:      max,
	}}
}

func TestWorkspaceLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("open assigns tab and step", func(t *testing.T) {
		env := newTestEnv(t)
		view, err := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if view.TabID == "" {
			t.Fatal("expected generated tab id")
		}
		if view.CurrentStep != "TOYS" {
			t.Fatalf("step = %s, want TOYS", view.CurrentStep)
		}
	})

	t.Run("one workspace per customer", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.orch.Open(ctx, "cust-1", "Navoi Tekstil"); err != nil {
			t.Fatalf("Open: %v", err)
		}
		if _, err := env.orch.Open(ctx, "cust-1", "Navoi Tekstil"); !errors.Is(err, ErrCustomerBusy) {
			t.Fatalf("err = %v, want ErrCustomerBusy", err)
		}
	})

	t.Run("customer fields required", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.orch.Open(ctx, "", "Name"); !errors.Is(err, ErrCustomerRequired) {
			t.Fatalf("err = %v, want ErrCustomerRequired", err)
		}
	})

	t.Run("close frees the customer and releases units", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 5)

		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		if _, err := env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator); err != nil {
			t.Fatalf("CreateChecklist: %v", err)
		}
		if _, _, err := env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 3, 5), checklist.RoleOperator); err != nil {
			t.Fatalf("AllocateItems: %v", err)
		}
		if free := env.inv.countFree("b1", "OLIY"); free != 2 {
			t.Fatalf("free units = %d, want 2 after reservation", free)
		}

		if err := env.orch.Close(ctx, view.TabID); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if free := env.inv.countFree("b1", "OLIY"); free != 5 {
			t.Fatalf("free units = %d, want 5 after close", free)
		}
		if _, err := env.orch.Open(ctx, "cust-1", "Navoi Tekstil"); err != nil {
			t.Fatalf("customer not freed after close: %v", err)
		}
	})

	t.Run("reset discards the order and returns to customer step", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 4)

		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
		if _, _, err := env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 2, 4), checklist.RoleOperator); err != nil {
			t.Fatalf("AllocateItems: %v", err)
		}

		if err := env.orch.Reset(ctx, view.TabID); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		after, err := env.orch.Get(view.TabID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if after.CurrentStep != "CUSTOMER" || after.CustomerID != "" || len(after.Checklists) != 0 {
			t.Fatalf("workspace not cleared: %+v", after)
		}
		if free := env.inv.countFree("b1", "OLIY"); free != 4 {
			t.Fatalf("free units = %d, want 4 after reset", free)
		}

		// the old customer can be picked up again, by this tab or another
		if err := env.orch.AssignCustomer(ctx, view.TabID, "cust-1", "Navoi Tekstil"); err != nil {
			t.Fatalf("AssignCustomer: %v", err)
		}
	})

	t.Run("step gating", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 2)
		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")

		// no checklist items yet: scanning unreachable
		if err := env.orch.GoToStep(view.TabID, StepScanning); !errors.Is(err, ErrStepNotReachable) {
			t.Fatalf("err = %v, want ErrStepNotReachable", err)
		}

		env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
		if _, _, err := env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 2, 2), checklist.RoleOperator); err != nil {
			t.Fatalf("AllocateItems: %v", err)
		}
		if err := env.orch.GoToStep(view.TabID, StepChecklist); err != nil {
			t.Fatalf("GoToStep(CHECKLIST): %v", err)
		}
		if err := env.orch.GoToStep(view.TabID, StepScanning); err != nil {
			t.Fatalf("GoToStep(SCANNING): %v", err)
		}
		// steps are forward-only
		if err := env.orch.GoToStep(view.TabID, StepToys); !errors.Is(err, ErrStepNotReachable) {
			t.Fatalf("backward step err = %v, want ErrStepNotReachable", err)
		}
		// shipment gated until everything is scanned
		if err := env.orch.GoToStep(view.TabID, StepShipment); !errors.Is(err, ErrStepNotReachable) {
			t.Fatalf("premature shipment step err = %v, want ErrStepNotReachable", err)
		}
	})
}

func TestFulfillmentFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("end to end", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 5)

		view, err := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		tab := view.TabID

		clView, err := env.orch.CreateChecklist(ctx, tab, "op-1", checklist.RoleOperator)
		if err != nil {
			t.Fatalf("CreateChecklist: %v", err)
		}

		got, added, err := env.orch.AllocateItems(ctx, tab, clView.ID, criteria("b1", "B1", "OLIY", 3, 5), checklist.RoleOperator)
		if err != nil {
			t.Fatalf("AllocateItems: %v", err)
		}
		if added != 3 || got.TotalItems != 3 {
			t.Fatalf("added=%d total=%d, want 3/3", added, got.TotalItems)
		}

		if _, err := env.orch.Confirm(ctx, tab, clView.ID, "op-1", checklist.RoleOperator); err != nil {
			t.Fatalf("Confirm: %v", err)
		}

		for _, it := range got.Items {
			if _, err := env.orch.Scan(ctx, tab, it.UnitID); err != nil {
				t.Fatalf("Scan(%s): %v", it.UnitID, err)
			}
		}

		shp, err := env.orch.Finalize(ctx, tab, clView.ID, shipment.Details{
			DriverName:    "A. Karimov",
			VehicleNumber: "01 A 123 BC",
		}, checklist.RoleOperator)
		if err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		if shp.TotalItems != 3 {
			t.Fatalf("TotalItems = %d, want 3", shp.TotalItems)
		}
		if !shp.TotalWeight.Equal(decimal.NewFromInt(600)) {
			t.Fatalf("TotalWeight = %s, want 600", shp.TotalWeight)
		}

		if len(env.shipments.saved) != 1 {
			t.Fatalf("saved shipments = %d, want 1", len(env.shipments.saved))
		}
		// last checklist shipped: the workspace is archived
		if _, err := env.orch.Get(tab); !errors.Is(err, ErrWorkspaceNotFound) {
			t.Fatalf("Get after finalize err = %v, want ErrWorkspaceNotFound", err)
		}
		// units are sold, not returned to the pool
		if free := env.inv.countFree("b1", "OLIY"); free != 2 {
			t.Fatalf("free units = %d, want 2", free)
		}
	})

	t.Run("failed shipment persist keeps the order retryable", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 2)

		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
		got, _, err := env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 2, 2), checklist.RoleOperator)
		if err != nil {
			t.Fatalf("AllocateItems: %v", err)
		}
		env.orch.Confirm(ctx, view.TabID, "", "op-1", checklist.RoleOperator)
		for _, it := range got.Items {
			if _, err := env.orch.Scan(ctx, view.TabID, it.UnitID); err != nil {
				t.Fatalf("Scan(%s): %v", it.UnitID, err)
			}
		}

		details := shipment.Details{DriverName: "A. Karimov", VehicleNumber: "01 A 123 BC"}

		env.shipments.failNext = true
		if _, err := env.orch.Finalize(ctx, view.TabID, "", details, checklist.RoleOperator); err == nil {
			t.Fatal("expected finalize to fail")
		}

		// nothing was sold and the workspace still holds the checklist
		if sold := env.inv.countSold(); sold != 0 {
			t.Fatalf("units sold after failed finalize: %d, want 0", sold)
		}
		after, err := env.orch.Get(view.TabID)
		if err != nil {
			t.Fatalf("workspace gone after failed finalize: %v", err)
		}
		if len(after.Checklists) != 1 {
			t.Fatalf("checklists = %d, want 1 after failed finalize", len(after.Checklists))
		}

		// the retry completes the order
		shp, err := env.orch.Finalize(ctx, view.TabID, "", details, checklist.RoleOperator)
		if err != nil {
			t.Fatalf("retry Finalize: %v", err)
		}
		if shp.TotalItems != 2 {
			t.Fatalf("TotalItems = %d, want 2", shp.TotalItems)
		}
		if sold := env.inv.countSold(); sold != 2 {
			t.Fatalf("units sold after retry = %d, want 2", sold)
		}
		if len(env.shipments.saved) != 1 {
			t.Fatalf("saved shipments = %d, want 1", len(env.shipments.saved))
		}
		if _, err := env.orch.Get(view.TabID); !errors.Is(err, ErrWorkspaceNotFound) {
			t.Fatalf("workspace not archived after retry: %v", err)
		}
	})

	t.Run("checklists are listed oldest first", func(t *testing.T) {
		env := newTestEnv(t)
		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")

		ids := make([]string, 3)
		for i := range ids {
			clView, err := env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
			if err != nil {
				t.Fatalf("CreateChecklist: %v", err)
			}
			ids[i] = clView.ID
		}

		env.orch.mu.RLock()
		e := env.orch.workspaces[view.TabID]
		env.orch.mu.RUnlock()
		base := time.Now()
		e.mu.Lock()
		e.ws.Checklists[ids[0]].CreatedAt = base.Add(2 * time.Minute)
		e.ws.Checklists[ids[1]].CreatedAt = base
		e.ws.Checklists[ids[2]].CreatedAt = base.Add(time.Minute)
		e.mu.Unlock()

		after, err := env.orch.Get(view.TabID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		want := []string{ids[1], ids[2], ids[0]}
		for i, cl := range after.Checklists {
			if cl.ID != want[i] {
				t.Fatalf("checklists[%d] = %s, want %s", i, cl.ID, want[i])
			}
		}
	})

	t.Run("finalize rejected before full scan", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 2)

		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
		env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 2, 2), checklist.RoleOperator)
		env.orch.Confirm(ctx, view.TabID, "", "op-1", checklist.RoleOperator)

		_, err := env.orch.Finalize(ctx, view.TabID, "", shipment.Details{
			DriverName:    "A. Karimov",
			VehicleNumber: "01 A 123 BC",
		}, checklist.RoleOperator)
		if !errors.Is(err, shipment.ErrIncompleteScan) {
			t.Fatalf("err = %v, want ErrIncompleteScan", err)
		}
	})

	t.Run("scan history is most recent first and keeps failures", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 2)

		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
		env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 2, 2), checklist.RoleOperator)
		env.orch.Confirm(ctx, view.TabID, "", "op-1", checklist.RoleOperator)

		cl, _ := env.orch.Get(view.TabID)
		first := cl.Checklists[0].Items[0].UnitID

		env.orch.Scan(ctx, view.TabID, first)
		env.orch.Scan(ctx, view.TabID, first)      // already scanned
		env.orch.Scan(ctx, view.TabID, "garbage!") // not in checklist

		history, err := env.orch.ScanHistory(view.TabID)
		if err != nil {
			t.Fatalf("ScanHistory: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("history = %d entries, want 3", len(history))
		}
		if history[0].Result != "not_in_checklist" {
			t.Fatalf("history[0] = %s, want not_in_checklist", history[0].Result)
		}
		if history[1].Result != "already_scanned" {
			t.Fatalf("history[1] = %s, want already_scanned", history[1].Result)
		}
		if history[2].Result != "ok" {
			t.Fatalf("history[2] = %s, want ok", history[2].Result)
		}
	})

	t.Run("notifications accumulate and mark read", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 1)

		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
		env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 1, 1), checklist.RoleOperator)

		notifications, _ := env.orch.Notifications(view.TabID)
		if len(notifications) == 0 {
			t.Fatal("expected allocation notification")
		}
		if err := env.orch.MarkNotificationsRead(view.TabID); err != nil {
			t.Fatalf("MarkNotificationsRead: %v", err)
		}
		after, _ := env.orch.Get(view.TabID)
		if after.UnreadNotifications != 0 {
			t.Fatalf("unread = %d, want 0", after.UnreadNotifications)
		}
	})

	t.Run("removing an item releases its unit", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 2)

		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
		got, _, err := env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 2, 2), checklist.RoleOperator)
		if err != nil {
			t.Fatalf("AllocateItems: %v", err)
		}

		if _, err := env.orch.RemoveItem(ctx, view.TabID, "", got.Items[0].UnitID, checklist.RoleOperator); err != nil {
			t.Fatalf("RemoveItem: %v", err)
		}
		if free := env.inv.countFree("b1", "OLIY"); free != 1 {
			t.Fatalf("free units = %d, want 1 after removal", free)
		}
	})

	t.Run("modification approval reopens via checklist routing", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 1)

		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		clView, _ := env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
		env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 1, 1), checklist.RoleOperator)
		env.orch.Confirm(ctx, view.TabID, "", "op-1", checklist.RoleOperator)
		env.orch.Lock(ctx, view.TabID, "", "sup-1", checklist.RoleSupervisor)

		reqID, err := env.orch.RequestModification(ctx, view.TabID, "", "wrong grade", "sup-1", checklist.RoleSupervisor)
		if err != nil {
			t.Fatalf("RequestModification: %v", err)
		}
		if reqID == "" {
			t.Fatal("expected approval request id")
		}
		if len(env.approvals.requests) != 1 || env.approvals.requests[0] != clView.ID {
			t.Fatalf("approval raised for %v, want %s", env.approvals.requests, clView.ID)
		}

		if err := env.orch.ApproveModification(ctx, clView.ID); err != nil {
			t.Fatalf("ApproveModification: %v", err)
		}
		after, _ := env.orch.Get(view.TabID)
		if after.Checklists[0].Status != checklist.StatusDraft {
			t.Fatalf("status = %s, want DRAFT after approval", after.Checklists[0].Status)
		}
	})

	t.Run("allocation race loses cleanly", func(t *testing.T) {
		env := newTestEnv(t)
		env.inv.add("b1", "B1", "OLIY", 2)

		v1, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		v2, _ := env.orch.Open(ctx, "cust-2", "Andijon Paxta")
		env.orch.CreateChecklist(ctx, v1.TabID, "op-1", checklist.RoleOperator)
		env.orch.CreateChecklist(ctx, v2.TabID, "op-2", checklist.RoleOperator)

		if _, _, err := env.orch.AllocateItems(ctx, v1.TabID, "", criteria("b1", "B1", "OLIY", 2, 2), checklist.RoleOperator); err != nil {
			t.Fatalf("first allocation: %v", err)
		}
		_, _, err := env.orch.AllocateItems(ctx, v2.TabID, "", criteria("b1", "B1", "OLIY", 1, 2), checklist.RoleOperator)
		var allocErr *allocation.AllocationError
		if !errors.As(err, &allocErr) {
			t.Fatalf("err = %v, want *AllocationError for empty pool", err)
		}
	})

	t.Run("viewer cannot finalize", func(t *testing.T) {
		env := newTestEnv(t)
		view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
		_, err := env.orch.Finalize(ctx, view.TabID, "", shipment.Details{
			DriverName:    "A. Karimov",
			VehicleNumber: "01 A 123 BC",
		}, checklist.RoleViewer)
		if !errors.Is(err, checklist.ErrPermissionDenied) {
			t.Fatalf("err = %v, want ErrPermissionDenied", err)
		}
	})
}

func TestConcurrentWorkspaces(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	const workers = 8
	const perBatch = 10
	for i := 0; i < workers; i++ {
		env.inv.add(fmt.Sprintf("b%d", i), fmt.Sprintf("B%d", i), "OLIY", perBatch)
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			custID := fmt.Sprintf("cust-%d", i)
			batchID := fmt.Sprintf("b%d", i)

			view, err := env.orch.Open(ctx, custID, "Customer "+custID)
			if err != nil {
				errs <- fmt.Errorf("open %s: %w", custID, err)
				return
			}
			if _, err := env.orch.CreateChecklist(ctx, view.TabID, "op", checklist.RoleOperator); err != nil {
				errs <- fmt.Errorf("checklist %s: %w", custID, err)
				return
			}
			got, _, err := env.orch.AllocateItems(ctx, view.TabID, "", criteria(batchID, "B", "OLIY", perBatch, perBatch), checklist.RoleOperator)
			if err != nil {
				errs <- fmt.Errorf("allocate %s: %w", custID, err)
				return
			}
			if _, err := env.orch.Confirm(ctx, view.TabID, "", "op", checklist.RoleOperator); err != nil {
				errs <- fmt.Errorf("confirm %s: %w", custID, err)
				return
			}
			for _, it := range got.Items {
				if _, err := env.orch.Scan(ctx, view.TabID, it.UnitID); err != nil {
					errs <- fmt.Errorf("scan %s: %w", custID, err)
					return
				}
			}
			if _, err := env.orch.Finalize(ctx, view.TabID, "", shipment.Details{
				DriverName:    "Driver",
				VehicleNumber: "01 A 000 AA",
			}, checklist.RoleOperator); err != nil {
				errs <- fmt.Errorf("finalize %s: %w", custID, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	env.shipments.mu.Lock()
	saved := len(env.shipments.saved)
	env.shipments.mu.Unlock()
	if saved != workers {
		t.Fatalf("saved shipments = %d, want %d", saved, workers)
	}
	if n := env.orch.Count(); n != 0 {
		t.Fatalf("workspaces remaining = %d, want 0", n)
	}
}

func TestCleanupInactive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.inv.add("b1", "B1", "OLIY", 3)

	view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
	env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
	env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 3, 3), checklist.RoleOperator)

	// fresh workspace survives
	if removed := env.orch.CleanupInactive(ctx, time.Hour); removed != 0 {
		t.Fatalf("removed = %d, want 0 for active workspace", removed)
	}

	// age it artificially
	env.orch.mu.RLock()
	e := env.orch.workspaces[view.TabID]
	env.orch.mu.RUnlock()
	e.mu.Lock()
	e.ws.LastActivity = time.Now().Add(-2 * time.Hour)
	e.mu.Unlock()

	if removed := env.orch.CleanupInactive(ctx, time.Hour); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := env.orch.Get(view.TabID); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("err = %v, want ErrWorkspaceNotFound", err)
	}
	if free := env.inv.countFree("b1", "OLIY"); free != 3 {
		t.Fatalf("free units = %d, want 3 after cleanup", free)
	}
	// the customer can start over
	if _, err := env.orch.Open(ctx, "cust-1", "Navoi Tekstil"); err != nil {
		t.Fatalf("customer not freed after cleanup: %v", err)
	}
}

// A workspace that sees activity between the janitor's staleness check
// and the actual removal must survive: expireEntry re-checks
// LastActivity once the entry is unlinked and puts it back if the
// workspace was touched in the meantime.
func TestCleanupKeepsTouchedWorkspace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.inv.add("b1", "B1", "OLIY", 2)

	view, _ := env.orch.Open(ctx, "cust-1", "Navoi Tekstil")
	env.orch.CreateChecklist(ctx, view.TabID, "op-1", checklist.RoleOperator)
	env.orch.AllocateItems(ctx, view.TabID, "", criteria("b1", "B1", "OLIY", 2, 2), checklist.RoleOperator)

	env.orch.mu.RLock()
	e := env.orch.workspaces[view.TabID]
	env.orch.mu.RUnlock()

	// the janitor judged the workspace stale, but an operation landed
	// before the removal: LastActivity is fresh again
	e.mu.Lock()
	e.ws.LastActivity = time.Now()
	e.mu.Unlock()

	if env.orch.expireEntry(ctx, view.TabID, e, time.Now().Add(-time.Hour)) {
		t.Fatal("expireEntry removed a freshly touched workspace")
	}
	if _, err := env.orch.Get(view.TabID); err != nil {
		t.Fatalf("workspace unreachable after aborted expiry: %v", err)
	}
	if free := env.inv.countFree("b1", "OLIY"); free != 0 {
		t.Fatalf("free units = %d, want 0, reservation must survive", free)
	}

	// genuinely stale entries still go
	e.mu.Lock()
	e.ws.LastActivity = time.Now().Add(-2 * time.Hour)
	e.mu.Unlock()
	if !env.orch.expireEntry(ctx, view.TabID, e, time.Now().Add(-time.Hour)) {
		t.Fatal("expireEntry kept a stale workspace")
	}
	if _, err := env.orch.Get(view.TabID); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("err = %v, want ErrWorkspaceNotFound", err)
	}
	if free := env.inv.countFree("b1", "OLIY"); free != 2 {
		t.Fatalf("free units = %d, want 2 after expiry", free)
	}
}
