package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/approval"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/allocation"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/checklist"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/shipment"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/workspace"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/inventory"
)

const requestTimeout = 10 * time.Second

type FulfillmentHTTPHandler struct {
	orch      *workspace.Orchestrator
	store     *inventory.Store
	shipments *inventory.ShipmentStore
	approvals *approval.Service
}

func NewFulfillmentHTTPHandler(orch *workspace.Orchestrator, store *inventory.Store, shipments *inventory.ShipmentStore, approvals *approval.Service) *FulfillmentHTTPHandler {
	return &FulfillmentHTTPHandler{
		orch:      orch,
		store:     store,
		shipments: shipments,
		approvals: approvals,
	}
}

// --- Requests ---

type OpenWorkspaceRequest struct {
	CustomerID   string `json:"customer_id" binding:"required"`
	CustomerName string `json:"customer_name" binding:"required"`
}

type AssignCustomerRequest struct {
	CustomerID   string `json:"customer_id" binding:"required"`
	CustomerName string `json:"customer_name" binding:"required"`
}

type GoToStepRequest struct {
	Step string `json:"step" binding:"required"`
}

type AllocateRequest struct {
	ChecklistID string                          `json:"checklist_id,omitempty"`
	Criteria    []allocation.SelectionCriterion `json:"criteria" binding:"required,min=1"`
}

type ModificationRequest struct {
	ChecklistID string `json:"checklist_id,omitempty"`
	Reason      string `json:"reason" binding:"required"`
}

type ScanRequest struct {
	Code string `json:"code" binding:"required"`
}

type FinalizeRequest struct {
	ChecklistID   string `json:"checklist_id,omitempty"`
	DriverName    string `json:"driver_name" binding:"required"`
	VehicleNumber string `json:"vehicle_number" binding:"required"`
	Notes         string `json:"notes"`
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

func actorFrom(c *gin.Context) (string, checklist.Role) {
	actorID := ""
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(int64); ok {
			actorID = strconv.FormatInt(id, 10)
		}
	}
	role := checklist.RoleViewer
	if v, ok := c.Get("role"); ok {
		if s, ok := v.(string); ok && s != "" {
			role = checklist.Role(s)
		}
	}
	return actorID, role
}

// statusFromErr maps engine sentinels to HTTP codes; everything
// unrecognized is a 500.
func statusFromErr(err error) int {
	var allocErr *allocation.AllocationError
	switch {
	case errors.Is(err, workspace.ErrWorkspaceNotFound),
		errors.Is(err, checklist.ErrChecklistNotFound),
		errors.Is(err, approval.ErrRequestNotFound),
		errors.Is(err, checklist.ErrNotInChecklist):
		return http.StatusNotFound
	case errors.Is(err, checklist.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, workspace.ErrCustomerBusy),
		errors.Is(err, checklist.ErrAlreadyScanned),
		errors.Is(err, checklist.ErrInvalidTransition),
		errors.Is(err, inventory.ErrUnitsConflict):
		return http.StatusConflict
	case errors.Is(err, workspace.ErrStepNotReachable),
		errors.Is(err, workspace.ErrCustomerRequired),
		errors.Is(err, checklist.ErrEmptyChecklist),
		errors.Is(err, checklist.ErrReasonRequired),
		errors.Is(err, shipment.ErrIncompleteScan),
		errors.Is(err, shipment.ErrValidation),
		errors.As(err, &allocErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(c *gin.Context, err error) {
	c.JSON(statusFromErr(err), errorResponse(err.Error()))
}

func reqContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// --- Workspaces ---

func (h *FulfillmentHTTPHandler) OpenWorkspace(c *gin.Context) {
	var req OpenWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	view, err := h.orch.Open(ctx, req.CustomerID, req.CustomerName)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Workspace opened", view))
}

func (h *FulfillmentHTTPHandler) ListWorkspaces(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse("Workspaces", h.orch.List()))
}

func (h *FulfillmentHTTPHandler) GetWorkspace(c *gin.Context) {
	view, err := h.orch.Get(c.Param("tab_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Workspace", view))
}

func (h *FulfillmentHTTPHandler) GoToStep(c *gin.Context) {
	var req GoToStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	step, err := workspace.ParseStep(req.Step)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.orch.GoToStep(c.Param("tab_id"), step); err != nil {
		respondErr(c, err)
		return
	}

	view, err := h.orch.Get(c.Param("tab_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Step changed", view))
}

func (h *FulfillmentHTTPHandler) ResetWorkspace(c *gin.Context) {
	ctx, cancel := reqContext(c)
	defer cancel()

	if err := h.orch.Reset(ctx, c.Param("tab_id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Workspace reset", nil))
}

func (h *FulfillmentHTTPHandler) AssignCustomer(c *gin.Context) {
	var req AssignCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	if err := h.orch.AssignCustomer(ctx, c.Param("tab_id"), req.CustomerID, req.CustomerName); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Customer assigned", nil))
}

func (h *FulfillmentHTTPHandler) CloseWorkspace(c *gin.Context) {
	ctx, cancel := reqContext(c)
	defer cancel()

	if err := h.orch.Close(ctx, c.Param("tab_id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Workspace closed", nil))
}

// --- Checklist ---

func (h *FulfillmentHTTPHandler) CreateChecklist(c *gin.Context) {
	actorID, role := actorFrom(c)

	ctx, cancel := reqContext(c)
	defer cancel()

	view, err := h.orch.CreateChecklist(ctx, c.Param("tab_id"), actorID, role)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Checklist created", view))
}

func (h *FulfillmentHTTPHandler) AllocateItems(c *gin.Context) {
	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	_, role := actorFrom(c)
	ctx, cancel := reqContext(c)
	defer cancel()

	view, added, err := h.orch.AllocateItems(ctx, c.Param("tab_id"), req.ChecklistID, req.Criteria, role)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Units allocated", gin.H{
		"added":     added,
		"checklist": view,
	}))
}

func (h *FulfillmentHTTPHandler) RemoveItem(c *gin.Context) {
	_, role := actorFrom(c)
	ctx, cancel := reqContext(c)
	defer cancel()

	view, err := h.orch.RemoveItem(ctx, c.Param("tab_id"), c.Query("checklist_id"), c.Param("unit_id"), role)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Item removed", view))
}

func (h *FulfillmentHTTPHandler) ConfirmChecklist(c *gin.Context) {
	actorID, role := actorFrom(c)
	ctx, cancel := reqContext(c)
	defer cancel()

	view, err := h.orch.Confirm(ctx, c.Param("tab_id"), c.Query("checklist_id"), actorID, role)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Checklist confirmed", view))
}

func (h *FulfillmentHTTPHandler) LockChecklist(c *gin.Context) {
	actorID, role := actorFrom(c)
	ctx, cancel := reqContext(c)
	defer cancel()

	view, err := h.orch.Lock(ctx, c.Param("tab_id"), c.Query("checklist_id"), actorID, role)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Checklist locked", view))
}

func (h *FulfillmentHTTPHandler) RequestModification(c *gin.Context) {
	var req ModificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	actorID, role := actorFrom(c)
	ctx, cancel := reqContext(c)
	defer cancel()

	requestID, err := h.orch.RequestModification(ctx, c.Param("tab_id"), req.ChecklistID, req.Reason, actorID, role)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, successResponse("Modification requested", gin.H{
		"request_id": requestID,
	}))
}

// --- Scanning ---

func (h *FulfillmentHTTPHandler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	result, err := h.orch.Scan(ctx, c.Param("tab_id"), req.Code)
	if err != nil {
		c.JSON(statusFromErr(err), APIResponse{
			Success: false,
			Message: err.Error(),
			Data:    result,
		})
		return
	}
	c.JSON(http.StatusOK, successResponse("Scan accepted", result))
}

func (h *FulfillmentHTTPHandler) ScanHistory(c *gin.Context) {
	history, err := h.orch.ScanHistory(c.Param("tab_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Scan history", history))
}

// --- Notifications ---

func (h *FulfillmentHTTPHandler) Notifications(c *gin.Context) {
	notifications, err := h.orch.Notifications(c.Param("tab_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Notifications", notifications))
}

func (h *FulfillmentHTTPHandler) MarkNotificationsRead(c *gin.Context) {
	if err := h.orch.MarkNotificationsRead(c.Param("tab_id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Notifications marked read", nil))
}

// --- Shipment ---

func (h *FulfillmentHTTPHandler) Finalize(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	_, role := actorFrom(c)
	ctx, cancel := reqContext(c)
	defer cancel()

	shp, err := h.orch.Finalize(ctx, c.Param("tab_id"), req.ChecklistID, shipment.Details{
		DriverName:    req.DriverName,
		VehicleNumber: req.VehicleNumber,
		Notes:         req.Notes,
	}, role)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Shipment finalized", shp))
}

func (h *FulfillmentHTTPHandler) ListShipments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx, cancel := reqContext(c)
	defer cancel()

	records, err := h.shipments.List(ctx, c.Query("customer_id"), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Shipments", records))
}

// --- Stock ---

func (h *FulfillmentHTTPHandler) ListBatches(c *gin.Context) {
	ctx, cancel := reqContext(c)
	defer cancel()

	batches, err := h.store.Batches(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Batches", batches))
}

func (h *FulfillmentHTTPHandler) AvailableCount(c *gin.Context) {
	batchID := c.Query("batch_id")
	grade := c.Query("grade")
	if batchID == "" || grade == "" {
		c.JSON(http.StatusBadRequest, errorResponse("batch_id and grade are required"))
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	count, err := h.store.AvailableCount(ctx, batchID, grade)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Available units", gin.H{
		"batch_id":  batchID,
		"grade":     grade,
		"available": count,
	}))
}

// --- Approvals (admin) ---

func (h *FulfillmentHTTPHandler) ListApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse("Pending approvals", h.approvals.Pending()))
}

func (h *FulfillmentHTTPHandler) ApproveRequest(c *gin.Context) {
	_, role := actorFrom(c)
	if role != checklist.RoleAdmin {
		c.JSON(http.StatusForbidden, errorResponse("Admin role required"))
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	if err := h.approvals.Approve(ctx, c.Param("request_id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Modification approved", nil))
}

func (h *FulfillmentHTTPHandler) RejectRequest(c *gin.Context) {
	_, role := actorFrom(c)
	if role != checklist.RoleAdmin {
		c.JSON(http.StatusForbidden, errorResponse("Admin role required"))
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	if err := h.approvals.Reject(ctx, c.Param("request_id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Modification rejected", nil))
}
