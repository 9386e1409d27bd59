package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DocumentStatus is the lifecycle state of a single document version.
type DocumentStatus string

const (
	// StatusDraft is the initial, editable state.
	StatusDraft DocumentStatus = "draft"

	// StatusInApproval means the version has been submitted and is waiting
	// on approver decisions.
	StatusInApproval DocumentStatus = "in_approval"

	// StatusReleased means every approver approved the version.
	StatusReleased DocumentStatus = "released"

	// StatusObsolete is terminal; no further transitions are allowed.
	StatusObsolete DocumentStatus = "obsolete"
)

// IsValid returns true if this is a recognized document status.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusInApproval, StatusReleased, StatusObsolete:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s DocumentStatus) String() string {
	return string(s)
}

// Document is one row per document version. All versions of the same
// logical document share a DocumentNumber; (DocumentNumber, Version) is
// unique. At most one version per DocumentNumber may be work-in-progress
// (draft or in_approval) at a time.
type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Identification
	DocumentNumber string `gorm:"type:varchar(50);not null;uniqueIndex:idx_documents_number_version,priority:1;index:idx_documents_number" json:"documentNumber"`
	Version        string `gorm:"type:varchar(10);not null;uniqueIndex:idx_documents_number_version,priority:2" json:"version"`

	// IsProduction selects the version alphabet: prototype letters before
	// the first production release, numbers afterwards.
	IsProduction bool `gorm:"not null;default:false" json:"isProduction"`

	Status DocumentStatus `gorm:"type:varchar(20);not null;default:'draft';index:idx_documents_status" json:"status"`

	// Metadata inherited across versions
	Title   string `gorm:"type:varchar(500);not null" json:"title"`
	DocType string `gorm:"type:varchar(50);not null;index:idx_documents_doc_type" json:"docType"`

	// Actors
	CreatedBy  string     `gorm:"type:varchar(250);not null" json:"createdBy"`
	ReleasedBy *string    `gorm:"type:varchar(250)" json:"releasedBy,omitempty"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`

	// Associations
	Approvers []DocumentApprover `gorm:"foreignKey:DocumentID" json:"approvers,omitempty"`
	Files     []DocumentFile     `gorm:"foreignKey:DocumentID" json:"files,omitempty"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

// BeforeCreate hook to apply defaults.
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.Status == "" {
		d.Status = StatusDraft
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("invalid document status: %s", d.Status)
	}
	return nil
}

// GetDocument retrieves a document by internal ID.
func GetDocument(db *gorm.DB, id uint) (*Document, error) {
	var doc Document
	if err := db.First(&doc, id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocumentWithAssociations retrieves a document with its approvers and
// files preloaded.
func GetDocumentWithAssociations(db *gorm.DB, id uint) (*Document, error) {
	var doc Document
	err := db.
		Preload("Approvers").
		Preload("Files").
		First(&doc, id).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocumentVersions retrieves all versions of a logical document,
// oldest first by creation time.
func GetDocumentVersions(db *gorm.DB, documentNumber string) ([]Document, error) {
	var docs []Document
	err := db.Where("document_number = ?", documentNumber).
		Order("created_at ASC").
		Find(&docs).Error
	return docs, err
}

// HasWorkInProgress reports whether any version of the logical document is
// currently draft or in_approval.
func HasWorkInProgress(db *gorm.DB, documentNumber string) (bool, error) {
	var count int64
	err := db.Model(&Document{}).
		Where("document_number = ? AND status IN ?",
			documentNumber, []DocumentStatus{StatusDraft, StatusInApproval}).
		Count(&count).Error
	return count > 0, err
}

// UpdateDocumentStatus transitions a document's status with an optimistic
// condition on the current status. Returns true if the row was updated;
// false means a concurrent writer won or the document was not in one of
// the from statuses. Extra column updates are applied atomically with the
// status change.
func UpdateDocumentStatus(
	db *gorm.DB, id uint, from []DocumentStatus, to DocumentStatus,
	extra map[string]interface{},
) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := db.Model(&Document{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ForceDocumentStatus sets the status unconditionally. Used only by the
// administrative override path; normal transitions go through
// UpdateDocumentStatus.
func ForceDocumentStatus(db *gorm.DB, id uint, to DocumentStatus) error {
	if !to.IsValid() {
		return fmt.Errorf("invalid document status: %s", to)
	}
	result := db.Model(&Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsDocumentNotFound reports whether err indicates a missing record.
func IsDocumentNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
