package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/config"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/approval"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/database"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/allocation"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/scan"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/shipment"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/fulfillment/workspace"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/gateway/handlers"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/gateway/middleware"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/inventory"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/logger"
	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	logg := logger.New(cfg.Env)
	utils.SetSecret(cfg.Auth.JWTSecret)

	db, err := database.NewConnection(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.MigrateFulfillmentDB(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := config.NewRedisClient(cfg.Redis)
	defer redisClient.Close()

	store := inventory.NewStore(db, redisClient)
	shipments := inventory.NewShipmentStore(db, store)
	audit := inventory.NewRecorder(db, logg)
	approvals := approval.New(logg)

	orch := workspace.New(workspace.Deps{
		Resolver:  allocation.NewResolver(store),
		Verifier:  scan.NewVerifier(),
		Finalizer: shipment.NewFinalizer(),
		Inventory: store,
		Shipments: shipments,
		Approvals: approvals,
		Audit:     audit,
		Log:       logg,
		Retention: cfg.Engine.WorkspaceRetention,
	})
	approvals.OnApproved(orch.ApproveModification)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.StartJanitor(ctx, cfg.Engine.JanitorInterval)

	if cfg.Env == "dev" {
		token, exp, terr := utils.GenerateToken(1, "dev-operator", "admin", cfg.Auth.TokenTTL)
		if terr == nil {
			logg.Info("dev token issued", "token", token, "expires_at", exp)
		}
	}

	h := handlers.NewFulfillmentHTTPHandler(orch, store, shipments, approvals)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(cfg.RateLimit))

	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth())
	{
		workspaces := protected.Group("/workspaces")
		{
			workspaces.POST("", h.OpenWorkspace)
			workspaces.GET("", h.ListWorkspaces)
			workspaces.GET("/:tab_id", h.GetWorkspace)
			workspaces.DELETE("/:tab_id", h.CloseWorkspace)
			workspaces.POST("/:tab_id/step", h.GoToStep)
			workspaces.POST("/:tab_id/reset", h.ResetWorkspace)
			workspaces.POST("/:tab_id/customer", h.AssignCustomer)

			workspaces.POST("/:tab_id/checklists", h.CreateChecklist)
			workspaces.POST("/:tab_id/checklists/allocate", h.AllocateItems)
			workspaces.DELETE("/:tab_id/checklists/items/:unit_id", h.RemoveItem)
			workspaces.POST("/:tab_id/checklists/confirm", h.ConfirmChecklist)
			workspaces.POST("/:tab_id/checklists/lock", h.LockChecklist)
			workspaces.POST("/:tab_id/checklists/modification", h.RequestModification)

			workspaces.POST("/:tab_id/scan", h.Scan)
			workspaces.GET("/:tab_id/scan-history", h.ScanHistory)

			workspaces.GET("/:tab_id/notifications", h.Notifications)
			workspaces.POST("/:tab_id/notifications/read", h.MarkNotificationsRead)

			workspaces.POST("/:tab_id/finalize", h.Finalize)
		}

		stock := protected.Group("/stock")
		{
			stock.GET("/batches", h.ListBatches)
			stock.GET("/available", h.AvailableCount)
		}

		protected.GET("/shipments", h.ListShipments)

		approvalsGroup := protected.Group("/approvals")
		{
			approvalsGroup.GET("", h.ListApprovals)
			approvalsGroup.POST("/:request_id/approve", h.ApproveRequest)
			approvalsGroup.POST("/:request_id/reject", h.RejectRequest)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "healthy",
			"message":           "Server is running",
			"active_workspaces": orch.Count(),
			"timestamp":         time.Now(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Printf("Starting server on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
