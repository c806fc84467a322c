package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	LabStatusPending  = "pending"
	LabStatusApproved = "approved"
	LabStatusRejected = "rejected"
)

type StringArray []string

func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = []string{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan StringArray: %v", value)
	}
	return json.Unmarshal(bytes, a)
}

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return json.Marshal(a)
}

// Batch is a production batch of raw cotton ("marka").
type Batch struct {
	ID        string  `gorm:"primaryKey;size:64"`
	Label     string  `gorm:"size:100;uniqueIndex"`
	Season    *string `gorm:"size:50"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Units []Unit `gorm:"foreignKey:BatchID"`
}

// Unit is one weighed, individually identified package ("toy") within a batch.
type Unit struct {
	ID          string `gorm:"primaryKey;size:64"`
	BatchID     string `gorm:"size:64;index:idx_units_batch_grade"`
	Sequence    int64  `gorm:"index"`
	Grade       string `gorm:"size:32;index:idx_units_batch_grade"`
	NetWeight   string `gorm:"type:decimal(12,2);not null"`
	GrossWeight string `gorm:"type:decimal(12,2);not null"`
	TareWeight  string `gorm:"type:decimal(12,2);not null"`
	LabStatus   string `gorm:"size:20;not null;default:pending"`
	Reserved    bool   `gorm:"not null;default:false"`
	Sold        bool   `gorm:"not null;default:false"`
	SoldAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Batch *Batch `gorm:"foreignKey:BatchID"`
}

type Customer struct {
	ID        string  `gorm:"primaryKey;size:64"`
	Name      string  `gorm:"size:255;not null"`
	Phone     *string `gorm:"size:50"`
	Region    *string `gorm:"size:100"`
	IsActive  bool    `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShipmentRecord is the immutable record produced when a checklist is
// finalized. Totals are frozen at finalization time.
type ShipmentRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	ChecklistID   string `gorm:"size:64;uniqueIndex"`
	WorkspaceID   string `gorm:"size:64;index"`
	CustomerID    string `gorm:"size:64;index"`
	CustomerName  string `gorm:"size:255"`
	DriverName    string `gorm:"size:255;not null"`
	VehicleNumber string `gorm:"size:50;not null"`
	Notes         *string
	TotalItems    int32       `gorm:"not null"`
	TotalWeight   string      `gorm:"type:decimal(14,2);not null"`
	UnitIDs       StringArray `gorm:"type:jsonb"`
	FinalizedAt   time.Time   `gorm:"not null"`
	CreatedAt     time.Time
}

type AuditEntry struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	Action    string  `gorm:"size:50;not null"`
	Entity    string  `gorm:"size:50;not null"`
	EntityID  string  `gorm:"size:64;index"`
	Detail    *string `gorm:"type:text"`
	CreatedAt time.Time
}
