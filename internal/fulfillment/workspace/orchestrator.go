package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/allocation"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/checklist"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/scan"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/shipment"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/metrics"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrCustomerBusy      = errors.New("customer already has an active workspace")
	ErrStepNotReachable  = errors.New("workflow step is not reachable yet")
	ErrCustomerRequired  = errors.New("customer id and name are required")
)

// InventoryCommands is the write side of the inventory collaborator
// used outside allocation: releasing reservations.
type InventoryCommands interface {
	Release(ctx context.Context, unitIDs []string) error
}

// ShipmentStore persists a finalized shipment and marks its units sold
// in one atomic step. On failure the units stay reserved and the
// checklist stays in the workspace, so finalization can be retried.
type ShipmentStore interface {
	Save(ctx context.Context, shp shipment.Shipment) error
}

// Approvals is the opaque external admin workflow that owns the only
// backward edge of the checklist status machine.
type Approvals interface {
	Request(ctx context.Context, checklistID, reason string) (string, error)
}

type AuditLog interface {
	Record(ctx context.Context, action, entity, entityID, detail string)
}

type Deps struct {
	Resolver  *allocation.Resolver
	Verifier  *scan.Verifier
	Finalizer *shipment.Finalizer
	Inventory InventoryCommands
	Shipments ShipmentStore
	Approvals Approvals
	Audit     AuditLog
	Log       *slog.Logger
	Retention time.Duration
}

type entry struct {
	mu sync.Mutex
	ws *Workspace
}

// Orchestrator holds one independent workspace per customer being
// served. Operations against different workspaces never block each
// other; operations against the same workspace are serialized by the
// entry mutex, which is what AlreadyScanned detection relies on.
//
// Lock order invariant: o.mu and an entry mutex are never held at the
// same time.
type Orchestrator struct {
	mu          sync.RWMutex
	workspaces  map[string]*entry
	byCustomer  map[string]string // customerID -> tabID
	byChecklist map[string]string // checklistID -> tabID

	resolver  *allocation.Resolver
	verifier  *scan.Verifier
	finalizer *shipment.Finalizer
	inventory InventoryCommands
	shipments ShipmentStore
	approvals Approvals
	audit     AuditLog
	log       *slog.Logger
	retention time.Duration
	now       func() time.Time
}

func New(deps Deps) *Orchestrator {
	logg := deps.Log
	if logg == nil {
		logg = slog.Default()
	}
	retention := deps.Retention
	if retention <= 0 {
		retention = 4 * time.Hour
	}
	return &Orchestrator{
		workspaces:  make(map[string]*entry),
		byCustomer:  make(map[string]string),
		byChecklist: make(map[string]string),
		resolver:    deps.Resolver,
		verifier:    deps.Verifier,
		finalizer:   deps.Finalizer,
		inventory:   deps.Inventory,
		shipments:   deps.Shipments,
		approvals:   deps.Approvals,
		audit:       deps.Audit,
		log:         logg,
		retention:   retention,
		now:         time.Now,
	}
}

func (o *Orchestrator) withWorkspace(tabID string, fn func(ws *Workspace) error) error {
	o.mu.RLock()
	e, ok := o.workspaces[tabID]
	o.mu.RUnlock()
	if !ok {
		return ErrWorkspaceNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ws.LastActivity = o.now()
	return fn(e.ws)
}

// Open creates a workspace for a customer. A customer can only be
// served by one active workspace at a time.
func (o *Orchestrator) Open(ctx context.Context, customerID, customerName string) (View, error) {
	if customerID == "" || customerName == "" {
		return View{}, ErrCustomerRequired
	}

	ws := &Workspace{
		TabID:        uuid.NewString(),
		CustomerID:   customerID,
		CustomerName: customerName,
		CurrentStep:  StepToys,
		Checklists:   make(map[string]*checklist.Checklist),
		LastActivity: o.now(),
	}

	o.mu.Lock()
	if _, busy := o.byCustomer[customerID]; busy {
		o.mu.Unlock()
		return View{}, ErrCustomerBusy
	}
	o.workspaces[ws.TabID] = &entry{ws: ws}
	o.byCustomer[customerID] = ws.TabID
	o.mu.Unlock()

	metrics.ActiveWorkspaces.Set(float64(o.Count()))
	o.audit.Record(ctx, "workspace.open", "workspace", ws.TabID, "customer "+customerID)
	o.log.Info("workspace opened", "tab_id", ws.TabID, "customer_id", customerID)

	return ws.snapshot(), nil
}

func (o *Orchestrator) Get(tabID string) (View, error) {
	var v View
	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		v = ws.snapshot()
		return nil
	})
	return v, err
}

func (o *Orchestrator) List() []View {
	o.mu.RLock()
	entries := make([]*entry, 0, len(o.workspaces))
	for _, e := range o.workspaces {
		entries = append(entries, e)
	}
	o.mu.RUnlock()

	views := make([]View, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		views = append(views, e.ws.snapshot())
		e.mu.Unlock()
	}
	return views
}

func (o *Orchestrator) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.workspaces)
}

// GoToStep advances the workflow pointer. Steps are monotonic forward;
// going back requires the administrative Reset.
func (o *Orchestrator) GoToStep(tabID string, step Step) error {
	return o.withWorkspace(tabID, func(ws *Workspace) error {
		if step < ws.CurrentStep {
			return ErrStepNotReachable
		}
		if !ws.CanAccessStep(step) {
			return ErrStepNotReachable
		}
		ws.CurrentStep = step
		return nil
	})
}

// Reset is the administrative "change customer": the in-progress order
// is discarded, its reservations released, and the workspace returns to
// the CUSTOMER step with no customer assigned.
func (o *Orchestrator) Reset(ctx context.Context, tabID string) error {
	var released, checklistIDs []string
	var customerID string

	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		released = ws.reservedUnitIDs()
		customerID = ws.CustomerID
		for id := range ws.Checklists {
			checklistIDs = append(checklistIDs, id)
		}

		ws.CustomerID = ""
		ws.CustomerName = ""
		ws.Checklists = make(map[string]*checklist.Checklist)
		ws.ActiveChecklistID = ""
		ws.SelectedUnits = nil
		ws.CurrentStep = StepCustomer
		ws.notify("reset", "Workspace reset", "Order discarded, select a customer", o.now())
		return nil
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.byCustomer[customerID] == tabID {
		delete(o.byCustomer, customerID)
	}
	for _, id := range checklistIDs {
		delete(o.byChecklist, id)
	}
	o.mu.Unlock()

	o.audit.Record(ctx, "workspace.reset", "workspace", tabID, "customer "+customerID)
	return o.releaseUnits(ctx, released)
}

// AssignCustomer binds a reset workspace to a new customer.
func (o *Orchestrator) AssignCustomer(ctx context.Context, tabID, customerID, customerName string) error {
	if customerID == "" || customerName == "" {
		return ErrCustomerRequired
	}

	// claim the customer slot first so two tabs cannot race for it
	o.mu.Lock()
	if _, busy := o.byCustomer[customerID]; busy {
		o.mu.Unlock()
		return ErrCustomerBusy
	}
	o.byCustomer[customerID] = tabID
	o.mu.Unlock()

	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		if ws.CustomerID != "" {
			return ErrCustomerBusy
		}
		ws.CustomerID = customerID
		ws.CustomerName = customerName
		ws.CurrentStep = StepToys
		return nil
	})
	if err != nil {
		o.mu.Lock()
		if o.byCustomer[customerID] == tabID {
			delete(o.byCustomer, customerID)
		}
		o.mu.Unlock()
		return err
	}

	o.audit.Record(ctx, "workspace.assign", "workspace", tabID, "customer "+customerID)
	return nil
}

// Close tears a workspace down, releasing any units still reserved.
func (o *Orchestrator) Close(ctx context.Context, tabID string) error {
	o.mu.Lock()
	e, ok := o.workspaces[tabID]
	if !ok {
		o.mu.Unlock()
		return ErrWorkspaceNotFound
	}
	delete(o.workspaces, tabID)
	o.mu.Unlock()

	e.mu.Lock()
	released := e.ws.reservedUnitIDs()
	customerID := e.ws.CustomerID
	checklistIDs := make([]string, 0, len(e.ws.Checklists))
	for id := range e.ws.Checklists {
		checklistIDs = append(checklistIDs, id)
	}
	e.mu.Unlock()

	o.mu.Lock()
	if o.byCustomer[customerID] == tabID {
		delete(o.byCustomer, customerID)
	}
	for _, id := range checklistIDs {
		delete(o.byChecklist, id)
	}
	o.mu.Unlock()

	metrics.ActiveWorkspaces.Set(float64(o.Count()))
	o.audit.Record(ctx, "workspace.close", "workspace", tabID, "")
	return o.releaseUnits(ctx, released)
}

func (o *Orchestrator) CreateChecklist(ctx context.Context, tabID, actorID string, role checklist.Role) (checklist.View, error) {
	var v checklist.View
	var checklistID string

	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		if role == checklist.RoleViewer {
			return checklist.ErrPermissionDenied
		}
		cl := checklist.New(ws.TabID, ws.CustomerID, ws.CustomerName, actorID)
		ws.Checklists[cl.ID] = cl
		ws.ActiveChecklistID = cl.ID
		checklistID = cl.ID
		v = cl.Snapshot()
		return nil
	})
	if err != nil {
		return v, err
	}

	o.mu.Lock()
	o.byChecklist[checklistID] = tabID
	o.mu.Unlock()

	o.audit.Record(ctx, "checklist.create", "checklist", checklistID, "workspace "+tabID)
	return v, nil
}

func (o *Orchestrator) checklistIn(ws *Workspace, checklistID string) (*checklist.Checklist, error) {
	if checklistID == "" {
		checklistID = ws.ActiveChecklistID
	}
	cl, ok := ws.Checklists[checklistID]
	if !ok {
		return nil, checklist.ErrChecklistNotFound
	}
	return cl, nil
}

// AllocateItems resolves criteria into concrete units and adds them to
// the checklist. Reservation happens inside the resolver; if the add is
// rejected afterwards the reservation is rolled back, so a failure
// leaves no units stuck in reserved state.
func (o *Orchestrator) AllocateItems(ctx context.Context, tabID, checklistID string, criteria []allocation.SelectionCriterion, role checklist.Role) (checklist.View, int, error) {
	var v checklist.View
	var added int

	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		cl, err := o.checklistIn(ws, checklistID)
		if err != nil {
			return err
		}

		items, err := o.resolver.Allocate(ctx, criteria)
		if err != nil {
			metrics.AllocationsTotal.WithLabelValues("failed").Inc()
			return err
		}

		// drop units already in the checklist and hand their fresh
		// reservation back before touching the aggregate
		existing := make(map[string]bool)
		for _, it := range cl.Items() {
			existing[it.UnitID] = true
		}
		fresh := items[:0:0]
		var dup []string
		for _, it := range items {
			if existing[it.UnitID] {
				dup = append(dup, it.UnitID)
			} else {
				fresh = append(fresh, it)
			}
		}
		if len(dup) > 0 {
			if rerr := o.inventory.Release(ctx, dup); rerr != nil {
				o.log.Warn("failed to release duplicate units", "error", rerr)
			}
		}

		added, err = cl.AddItems(role, fresh)
		if err != nil {
			ids := make([]string, len(fresh))
			for i, it := range fresh {
				ids[i] = it.UnitID
			}
			if rerr := o.inventory.Release(ctx, ids); rerr != nil {
				o.log.Warn("failed to roll back reservation", "error", rerr)
			}
			metrics.AllocationsTotal.WithLabelValues("rejected").Inc()
			return err
		}

		for _, it := range fresh {
			ws.SelectedUnits = append(ws.SelectedUnits, it.UnitID)
		}

		metrics.AllocationsTotal.WithLabelValues("ok").Inc()
		o.audit.Record(ctx, "checklist.allocate", "checklist", cl.ID, fmt.Sprintf("%d units added", added))
		ws.notify("allocation", "Units allocated", fmt.Sprintf("%d units added to checklist", added), o.now())
		v = cl.Snapshot()
		return nil
	})
	return v, added, err
}

func (o *Orchestrator) RemoveItem(ctx context.Context, tabID, checklistID, unitID string, role checklist.Role) (checklist.View, error) {
	var v checklist.View
	var removed bool

	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		cl, err := o.checklistIn(ws, checklistID)
		if err != nil {
			return err
		}

		for _, it := range cl.Items() {
			if it.UnitID == unitID {
				removed = true
				break
			}
		}
		if err := cl.RemoveItem(role, unitID); err != nil {
			return err
		}

		if removed {
			for i, id := range ws.SelectedUnits {
				if id == unitID {
					ws.SelectedUnits = append(ws.SelectedUnits[:i], ws.SelectedUnits[i+1:]...)
					break
				}
			}
			o.audit.Record(ctx, "checklist.remove_item", "checklist", cl.ID, "unit "+unitID)
		}
		v = cl.Snapshot()
		return nil
	})
	if err != nil {
		return v, err
	}
	if removed {
		if rerr := o.releaseUnits(ctx, []string{unitID}); rerr != nil {
			o.log.Warn("failed to release removed unit", "unit_id", unitID, "error", rerr)
		}
	}
	return v, nil
}

func (o *Orchestrator) Confirm(ctx context.Context, tabID, checklistID, actorID string, role checklist.Role) (checklist.View, error) {
	var v checklist.View
	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		cl, err := o.checklistIn(ws, checklistID)
		if err != nil {
			return err
		}
		if err := cl.Confirm(role, actorID); err != nil {
			return err
		}
		o.audit.Record(ctx, "checklist.confirm", "checklist", cl.ID, "by "+actorID)
		ws.notify("status", "Checklist confirmed", fmt.Sprintf("%d units ready for scanning", cl.TotalItems()), o.now())
		v = cl.Snapshot()
		return nil
	})
	return v, err
}

func (o *Orchestrator) Lock(ctx context.Context, tabID, checklistID, actorID string, role checklist.Role) (checklist.View, error) {
	var v checklist.View
	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		cl, err := o.checklistIn(ws, checklistID)
		if err != nil {
			return err
		}
		if err := cl.Lock(role, actorID); err != nil {
			return err
		}
		o.audit.Record(ctx, "checklist.lock", "checklist", cl.ID, "by "+actorID)
		v = cl.Snapshot()
		return nil
	})
	return v, err
}

// RequestModification raises the external approval request. The
// checklist stays MODIFICATION_REQUESTED until the approval workflow
// calls ApproveModification.
func (o *Orchestrator) RequestModification(ctx context.Context, tabID, checklistID, reason, actorID string, role checklist.Role) (string, error) {
	var requestID string
	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		cl, err := o.checklistIn(ws, checklistID)
		if err != nil {
			return err
		}
		if err := cl.RequestModification(role, reason, actorID); err != nil {
			return err
		}

		requestID, err = o.approvals.Request(ctx, cl.ID, reason)
		if err != nil {
			return fmt.Errorf("raise modification request: %w", err)
		}

		o.audit.Record(ctx, "checklist.modification_requested", "checklist", cl.ID, reason)
		ws.notify("modification", "Modification requested", "Awaiting admin approval", o.now())
		return nil
	})
	return requestID, err
}

// ApproveModification is invoked by the approval workflow and performs
// the only backward transition: MODIFICATION_REQUESTED -> DRAFT.
func (o *Orchestrator) ApproveModification(ctx context.Context, checklistID string) error {
	o.mu.RLock()
	tabID, ok := o.byChecklist[checklistID]
	o.mu.RUnlock()
	if !ok {
		return checklist.ErrChecklistNotFound
	}

	return o.withWorkspace(tabID, func(ws *Workspace) error {
		cl, ok := ws.Checklists[checklistID]
		if !ok {
			return checklist.ErrChecklistNotFound
		}
		if err := cl.ApproveModification(); err != nil {
			return err
		}
		o.audit.Record(ctx, "checklist.modification_approved", "checklist", checklistID, "")
		ws.notify("modification", "Modification approved", "Checklist is editable again", o.now())
		return nil
	})
}

// Scan routes a raw barcode payload to the workspace's active checklist.
// Every attempt lands in the scan history, failures included.
func (o *Orchestrator) Scan(ctx context.Context, tabID, rawCode string) (scan.Result, error) {
	var res scan.Result
	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		cl := ws.activeChecklist()
		if cl == nil {
			return checklist.ErrChecklistNotFound
		}

		var scanErr error
		res, scanErr = o.verifier.Scan(cl, rawCode)

		outcome := "ok"
		switch {
		case errors.Is(scanErr, checklist.ErrAlreadyScanned):
			outcome = "already_scanned"
		case errors.Is(scanErr, checklist.ErrNotInChecklist):
			outcome = "not_in_checklist"
		case scanErr != nil:
			outcome = "error"
		}

		ws.recordScan(ScanEvent{
			ChecklistID: cl.ID,
			UnitID:      res.UnitID,
			RawCode:     rawCode,
			Result:      outcome,
			At:          o.now(),
		})
		metrics.ScansTotal.WithLabelValues(outcome).Inc()

		if scanErr != nil {
			return scanErr
		}

		o.audit.Record(ctx, "checklist.scan", "unit", res.UnitID, "checklist "+cl.ID)
		if cl.FullyScanned() {
			ws.notify("scan", "Scanning complete", "All units scanned, ready for shipment", o.now())
		}
		return nil
	})
	return res, err
}

func (o *Orchestrator) ScanHistory(tabID string) ([]ScanEvent, error) {
	var out []ScanEvent
	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		out = make([]ScanEvent, len(ws.ScanHistory))
		copy(out, ws.ScanHistory)
		return nil
	})
	return out, err
}

func (o *Orchestrator) Notifications(tabID string) ([]Notification, error) {
	var out []Notification
	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		out = make([]Notification, len(ws.Notifications))
		copy(out, ws.Notifications)
		return nil
	})
	return out, err
}

func (o *Orchestrator) MarkNotificationsRead(tabID string) error {
	return o.withWorkspace(tabID, func(ws *Workspace) error {
		for i := range ws.Notifications {
			ws.Notifications[i].Read = true
		}
		return nil
	})
}

// Finalize closes the active checklist into a shipment: marks the units
// sold, persists the record and retires the checklist. When the last
// checklist of a workspace ships, the workspace is archived and the
// customer freed for a new session.
func (o *Orchestrator) Finalize(ctx context.Context, tabID, checklistID string, details shipment.Details, role checklist.Role) (shipment.Shipment, error) {
	var shp shipment.Shipment
	var archive bool
	var finalizedID string

	err := o.withWorkspace(tabID, func(ws *Workspace) error {
		if role == checklist.RoleViewer {
			return checklist.ErrPermissionDenied
		}
		cl, err := o.checklistIn(ws, checklistID)
		if err != nil {
			return err
		}

		shp, err = o.finalizer.Finalize(cl, details)
		if err != nil {
			return err
		}

		if err := o.shipments.Save(ctx, shp); err != nil {
			return fmt.Errorf("persist shipment: %w", err)
		}

		delete(ws.Checklists, cl.ID)
		if ws.ActiveChecklistID == cl.ID {
			ws.ActiveChecklistID = ""
		}
		finalizedID = cl.ID

		metrics.ShipmentsTotal.Inc()
		o.audit.Record(ctx, "shipment.finalize", "shipment", shp.ID, fmt.Sprintf("checklist %s, %d units", cl.ID, shp.TotalItems))
		ws.notify("shipment", "Shipment finalized", fmt.Sprintf("%d units shipped with %s", shp.TotalItems, shp.VehicleNumber), o.now())
		o.log.Info("shipment finalized", "shipment_id", shp.ID, "tab_id", tabID, "units", shp.TotalItems)

		archive = len(ws.Checklists) == 0
		return nil
	})
	if err != nil {
		return shipment.Shipment{}, err
	}

	o.mu.Lock()
	delete(o.byChecklist, finalizedID)
	o.mu.Unlock()

	if archive {
		if cerr := o.Close(ctx, tabID); cerr != nil && !errors.Is(cerr, ErrWorkspaceNotFound) {
			o.log.Warn("failed to archive workspace", "tab_id", tabID, "error", cerr)
		}
	}
	return shp, nil
}

// CleanupInactive removes workspaces idle longer than olderThan and
// releases whatever they still held. Returns how many were removed.
func (o *Orchestrator) CleanupInactive(ctx context.Context, olderThan time.Duration) int {
	cutoff := o.now().Add(-olderThan)

	o.mu.RLock()
	candidates := make(map[string]*entry, len(o.workspaces))
	for tabID, e := range o.workspaces {
		candidates[tabID] = e
	}
	o.mu.RUnlock()

	removed := 0
	for tabID, e := range candidates {
		e.mu.Lock()
		stale := e.ws.LastActivity.Before(cutoff)
		e.mu.Unlock()
		if !stale {
			continue
		}
		if o.expireEntry(ctx, tabID, e, cutoff) {
			removed++
		}
	}

	if removed > 0 {
		metrics.ActiveWorkspaces.Set(float64(o.Count()))
		o.log.Info("inactive workspaces cleaned up", "count", removed)
	}
	return removed
}

// expireEntry removes one stale workspace. The entry is unlinked from
// the registry first, then staleness is re-checked: an operation may
// have slipped in between the sweep's check and the unlink, and once
// the entry is out of the registry no new operation can reach it, so
// the second read is final. A touched workspace is relinked untouched.
func (o *Orchestrator) expireEntry(ctx context.Context, tabID string, e *entry, cutoff time.Time) bool {
	o.mu.Lock()
	cur, ok := o.workspaces[tabID]
	if !ok || cur != e {
		o.mu.Unlock()
		return false
	}
	delete(o.workspaces, tabID)
	o.mu.Unlock()

	e.mu.Lock()
	if !e.ws.LastActivity.Before(cutoff) {
		e.mu.Unlock()
		o.mu.Lock()
		o.workspaces[tabID] = e
		o.mu.Unlock()
		return false
	}
	released := e.ws.reservedUnitIDs()
	customerID := e.ws.CustomerID
	checklistIDs := make([]string, 0, len(e.ws.Checklists))
	for id := range e.ws.Checklists {
		checklistIDs = append(checklistIDs, id)
	}
	e.mu.Unlock()

	o.mu.Lock()
	if o.byCustomer[customerID] == tabID {
		delete(o.byCustomer, customerID)
	}
	for _, id := range checklistIDs {
		delete(o.byChecklist, id)
	}
	o.mu.Unlock()

	if err := o.releaseUnits(ctx, released); err != nil {
		o.log.Warn("cleanup failed to release units", "tab_id", tabID, "error", err)
	}
	o.audit.Record(ctx, "workspace.expire", "workspace", tabID, "")
	return true
}

// StartJanitor sweeps inactive workspaces on an interval until the
// context is cancelled.
func (o *Orchestrator) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.CleanupInactive(ctx, o.retention)
			}
		}
	}()
}

func (o *Orchestrator) releaseUnits(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return o.inventory.Release(ctx, ids)
}
