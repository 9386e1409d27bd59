package models

import (
	"time"

	"gorm.io/gorm"
)

// FileScanStatus is the malware-scan state of an uploaded file.
type FileScanStatus string

const (
	// ScanStatusPending means the file is waiting for a scan.
	ScanStatusPending FileScanStatus = "pending"

	// ScanStatusScanning means a scan is in flight. This state is only ever
	// entered through the guarded transition in MarkFileScanning; it is
	// never externally settable.
	ScanStatusScanning FileScanStatus = "scanning"

	// ScanStatusSafe means the scanning service returned a clean verdict.
	ScanStatusSafe FileScanStatus = "safe"

	// ScanStatusBlocked means malware was detected. A blocked file's
	// underlying storage object has been deleted.
	ScanStatusBlocked FileScanStatus = "blocked"

	// ScanStatusError means the scan failed for infrastructure reasons
	// after retries; the object is retained and the file may be rescanned.
	ScanStatusError FileScanStatus = "error"
)

// IsValid returns true if this is a recognized scan status.
func (s FileScanStatus) IsValid() bool {
	switch s {
	case ScanStatusPending, ScanStatusScanning, ScanStatusSafe,
		ScanStatusBlocked, ScanStatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of the scan status.
func (s FileScanStatus) String() string {
	return string(s)
}

// rescanEligible lists the statuses a rescan may start from.
var rescanEligible = []FileScanStatus{ScanStatusPending, ScanStatusError}

// DocumentFile is the persisted metadata for one uploaded file. The
// storage object at FilePath is exclusively referenced by this record
// until deleted.
type DocumentFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	DocumentID uint `gorm:"not null;index:idx_document_files_document_id" json:"documentId"`

	FilePath         string `gorm:"type:varchar(1024);not null" json:"filePath"`
	OriginalFileName string `gorm:"type:varchar(500);not null" json:"originalFileName"`

	ScanStatus FileScanStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_document_files_scan_status" json:"scanStatus"`

	// ScanResult holds the serialized verdict payload (see pkg/scanner).
	ScanResult JSON       `gorm:"type:jsonb" json:"scanResult,omitempty"`
	ScannedAt  *time.Time `json:"scannedAt,omitempty"`

	Document *Document `gorm:"foreignKey:DocumentID" json:"-"`
}

// TableName specifies the table name.
func (DocumentFile) TableName() string {
	return "document_files"
}

// BeforeCreate hook to apply defaults.
func (f *DocumentFile) BeforeCreate(tx *gorm.DB) error {
	if f.ScanStatus == "" {
		f.ScanStatus = ScanStatusPending
	}
	return nil
}

// GetDocumentFile retrieves a file record by ID.
func GetDocumentFile(db *gorm.DB, id uint) (*DocumentFile, error) {
	var file DocumentFile
	if err := db.First(&file, id).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// GetDocumentFiles retrieves all file records for a document.
func GetDocumentFiles(db *gorm.DB, documentID uint) ([]DocumentFile, error) {
	var files []DocumentFile
	err := db.Where("document_id = ?", documentID).
		Order("id ASC").
		Find(&files).Error
	return files, err
}

// CountDocumentFiles returns the number of files attached to a document.
func CountDocumentFiles(db *gorm.DB, documentID uint) (int64, error) {
	var count int64
	err := db.Model(&DocumentFile{}).
		Where("document_id = ?", documentID).
		Count(&count).Error
	return count, err
}

// MarkFileScanning is the guarded pending/error -> scanning transition.
// The optimistic condition on the current status serializes scans per
// file: of two concurrent deliveries of the same job, exactly one
// observes RowsAffected == 1, the other sees false and aborts.
func MarkFileScanning(db *gorm.DB, id uint) (bool, error) {
	result := db.Model(&DocumentFile{}).
		Where("id = ? AND scan_status IN ?", id, rescanEligible).
		Updates(map[string]interface{}{
			"scan_status": ScanStatusScanning,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetFileScanOutcome records a terminal scan outcome (safe, blocked, or
// error) together with the verdict payload. Only a file currently in
// scanning can receive an outcome.
func SetFileScanOutcome(db *gorm.DB, id uint, status FileScanStatus, verdict JSON) (bool, error) {
	now := time.Now()
	result := db.Model(&DocumentFile{}).
		Where("id = ? AND scan_status = ?", id, ScanStatusScanning).
		Updates(map[string]interface{}{
			"scan_status": status,
			"scan_result": verdict,
			"scanned_at":  now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ResetFileForRescan returns a pending/error file to pending and clears
// any previous verdict. A file in scanning (or already settled safe or
// blocked) is not eligible and the call reports false.
func ResetFileForRescan(db *gorm.DB, id uint) (bool, error) {
	result := db.Model(&DocumentFile{}).
		Where("id = ? AND scan_status IN ?", id, rescanEligible).
		Updates(map[string]interface{}{
			"scan_status": ScanStatusPending,
			"scan_result": nil,
			"scanned_at":  nil,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FileScanCounts aggregates scan statuses for one document.
type FileScanCounts struct {
	Total    int64
	Safe     int64
	Pending  int64 // pending + scanning + error: unresolved, rescannable
	Blocked  int64
	Scanning int64
	Errored  int64
}

// CountFileScanStatuses aggregates the scan statuses of a document's files
// in a single grouped query.
func CountFileScanStatuses(db *gorm.DB, documentID uint) (*FileScanCounts, error) {
	var rows []struct {
		ScanStatus FileScanStatus
		N          int64
	}
	err := db.Model(&DocumentFile{}).
		Select("scan_status, COUNT(*) AS n").
		Where("document_id = ?", documentID).
		Group("scan_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := &FileScanCounts{}
	for _, row := range rows {
		counts.Total += row.N
		switch row.ScanStatus {
		case ScanStatusSafe:
			counts.Safe += row.N
		case ScanStatusBlocked:
			counts.Blocked += row.N
		case ScanStatusScanning:
			counts.Scanning += row.N
			counts.Pending += row.N
		case ScanStatusError:
			counts.Errored += row.N
			counts.Pending += row.N
		default:
			counts.Pending += row.N
		}
	}
	return counts, nil
}
