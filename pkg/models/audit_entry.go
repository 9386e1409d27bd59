package models

import (
	"time"

	"gorm.io/gorm"
)

// Audit actions written by the lifecycle and scan pipeline.
const (
	AuditActionDocumentCreated      = "DOCUMENT_CREATED"
	AuditActionFileAttached         = "FILE_ATTACHED"
	AuditActionSubmittedForApproval = "SUBMITTED_FOR_APPROVAL"
	AuditActionApproved             = "APPROVED"
	AuditActionRejected             = "REJECTED"
	AuditActionReleased             = "RELEASED"
	AuditActionVersionCreated       = "VERSION_CREATED"
	AuditActionDocumentObsoleted    = "DOCUMENT_OBSOLETED"
	AuditActionAdminStatusOverride  = "ADMIN_STATUS_OVERRIDE"
	AuditActionFileQuarantined      = "FILE_QUARANTINED"
	AuditActionFileScanCompleted    = "FILE_SCAN_COMPLETED"
	AuditActionRescanTriggered      = "RESCAN_TRIGGERED"
)

// AuditEntry is an immutable, append-only record of a lifecycle or scan
// event. Entries are never updated or deleted.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_audit_entries_document_created,priority:2" json:"createdAt"`

	DocumentID uint   `gorm:"not null;index:idx_audit_entries_document_created,priority:1" json:"documentId"`
	Action     string `gorm:"type:varchar(50);not null" json:"action"`
	Actor      string `gorm:"type:varchar(250);not null" json:"actor"`

	// Details holds an action-specific payload (old/new status, verdict
	// summary, version string, ...).
	Details JSON `gorm:"type:jsonb" json:"details,omitempty"`
}

// TableName specifies the table name.
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// GetAuditEntries retrieves the audit trail for a document, oldest first.
func GetAuditEntries(db *gorm.DB, documentID uint) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := db.Where("document_id = ?", documentID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// CountAuditEntries returns the number of audit entries for a document
// with the given action.
func CountAuditEntries(db *gorm.DB, documentID uint, action string) (int64, error) {
	var count int64
	err := db.Model(&AuditEntry{}).
		Where("document_id = ? AND action = ?", documentID, action).
		Count(&count).Error
	return count, err
}
