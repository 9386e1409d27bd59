package models

import (
	"time"

	"gorm.io/gorm"
)

// ApproverDecision is an approver's decision state for one document version.
type ApproverDecision string

const (
	// DecisionPending means the approver has not decided yet.
	DecisionPending ApproverDecision = "pending"

	// DecisionApproved means the approver approved the version.
	DecisionApproved ApproverDecision = "approved"

	// DecisionRejected means the approver rejected the version.
	DecisionRejected ApproverDecision = "rejected"
)

// DocumentApprover records one approver assigned to a document version.
// Approvers are created when the document is configured for submission; a
// document cannot leave draft without at least one.
type DocumentApprover struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	DocumentID uint   `gorm:"not null;index:idx_document_approvers_document_id" json:"documentId"`
	UserEmail  string `gorm:"type:varchar(250);not null" json:"userEmail"`

	Decision  ApproverDecision `gorm:"type:varchar(20);not null;default:'pending'" json:"decision"`
	DecidedAt *time.Time       `json:"decidedAt,omitempty"`

	Document *Document `gorm:"foreignKey:DocumentID" json:"-"`
}

// TableName specifies the table name.
func (DocumentApprover) TableName() string {
	return "document_approvers"
}

// BeforeCreate hook to apply defaults.
func (a *DocumentApprover) BeforeCreate(tx *gorm.DB) error {
	if a.Decision == "" {
		a.Decision = DecisionPending
	}
	return nil
}

// GetApprover retrieves one approver row for a document.
func GetApprover(db *gorm.DB, documentID, approverID uint) (*DocumentApprover, error) {
	var approver DocumentApprover
	err := db.Where("id = ? AND document_id = ?", approverID, documentID).
		First(&approver).Error
	if err != nil {
		return nil, err
	}
	return &approver, nil
}

// GetApprovers retrieves all approvers for a document.
func GetApprovers(db *gorm.DB, documentID uint) ([]DocumentApprover, error) {
	var approvers []DocumentApprover
	err := db.Where("document_id = ?", documentID).
		Order("id ASC").
		Find(&approvers).Error
	return approvers, err
}

// CountApprovers returns the number of approvers assigned to a document.
func CountApprovers(db *gorm.DB, documentID uint) (int64, error) {
	var count int64
	err := db.Model(&DocumentApprover{}).
		Where("document_id = ?", documentID).
		Count(&count).Error
	return count, err
}

// CountUndecidedApprovers returns how many approvers have not yet approved.
// Rejected approvers count as undecided so a rejected-then-resubmitted
// cycle cannot auto-release.
func CountUndecidedApprovers(db *gorm.DB, documentID uint) (int64, error) {
	var count int64
	err := db.Model(&DocumentApprover{}).
		Where("document_id = ? AND decision != ?", documentID, DecisionApproved).
		Count(&count).Error
	return count, err
}

// RecordDecision sets an approver's decision with an optimistic condition
// on the decision still being pending. Returns true if the row was
// updated; false means the approver had already decided.
func RecordDecision(db *gorm.DB, approverID uint, decision ApproverDecision) (bool, error) {
	now := time.Now()
	result := db.Model(&DocumentApprover{}).
		Where("id = ? AND decision = ?", approverID, DecisionPending).
		Updates(map[string]interface{}{
			"decision":   decision,
			"decided_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ResetDecisions returns every approver of a document to pending. Used
// when a rejection sends the document back to draft.
func ResetDecisions(db *gorm.DB, documentID uint) error {
	return db.Model(&DocumentApprover{}).
		Where("document_id = ?", documentID).
		Updates(map[string]interface{}{
			"decision":   DecisionPending,
			"decided_at": nil,
			"updated_at": time.Now(),
		}).Error
}
