package models

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DocumentTypeLatestNumber is a per-type counter row used to mint document
// numbers. The increment is a single conditional UPDATE so concurrent
// requests across service instances never hand out the same number.
type DocumentTypeLatestNumber struct {
	DocType      string `gorm:"primaryKey;type:varchar(50)" json:"docType"`
	LatestNumber int    `gorm:"not null;default:0" json:"latestNumber"`
}

// TableName specifies the table name.
func (DocumentTypeLatestNumber) TableName() string {
	return "document_type_latest_numbers"
}

// NextDocumentNumber atomically increments the counter for docType and
// returns the formatted document number (e.g. "FORM-00001"). The counter
// row is created on first use.
func NextDocumentNumber(db *gorm.DB, docType string) (string, error) {
	if docType == "" {
		return "", errors.New("document type is required")
	}

	var n int
	err := db.Transaction(func(tx *gorm.DB) error {
		// Ensure the counter row exists; a conflicting concurrent insert
		// is fine, the increment below serializes on the row.
		counter := DocumentTypeLatestNumber{DocType: docType}
		if err := tx.Where(DocumentTypeLatestNumber{DocType: docType}).
			FirstOrCreate(&counter).Error; err != nil {
			return fmt.Errorf("failed to ensure counter row: %w", err)
		}

		// RETURNING is supported by both PostgreSQL and modern SQLite, so
		// the increment and read are one statement.
		err := tx.Raw(
			`UPDATE document_type_latest_numbers
			 SET latest_number = latest_number + 1
			 WHERE doc_type = ?
			 RETURNING latest_number`,
			docType,
		).Scan(&n).Error
		if err != nil {
			return fmt.Errorf("failed to increment counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return FormatDocumentNumber(docType, n), nil
}

// FormatDocumentNumber renders a document number as "{TYPE}-{NNNNN}".
func FormatDocumentNumber(docType string, n int) string {
	return fmt.Sprintf("%s-%05d", docType, n)
}
