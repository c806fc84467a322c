package inventory

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/TemurbekRustamov002/navbahor-erp-sub001/internal/database/models"
)

// Recorder writes workflow audit entries. Auditing is best-effort: a
// failed insert is logged and never fails the workflow operation.
type Recorder struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewRecorder(db *gorm.DB, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{db: db, log: log}
}

func (r *Recorder) Record(ctx context.Context, action, entity, entityID, detail string) {
	var d *string
	if detail != "" {
		d = &detail
	}
	entry := models.AuditEntry{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Detail:   d,
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.log.Warn("audit write failed", "action", action, "entity_id", entityID, "error", err)
	}
}
