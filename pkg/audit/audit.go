// Package audit appends lifecycle and scan events to the append-only
// audit trail. Writes are best-effort: a failed append is logged and
// never blocks or rolls back the mutation it describes.
package audit

import (
	"context"
	"encoding/json"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/docgate/pkg/models"
)

// Recorder appends audit entries.
type Recorder struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(db *gorm.DB, logger hclog.Logger) *Recorder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Recorder{
		db:     db,
		logger: logger.Named("audit"),
	}
}

// Record appends one entry. Failures are logged, never returned; the
// caller's mutation has already happened and must not be rolled back on
// account of the trail.
func (r *Recorder) Record(ctx context.Context, documentID uint, action, actor string, details map[string]interface{}) {
	entry := models.AuditEntry{
		DocumentID: documentID,
		Action:     action,
		Actor:      actor,
	}

	if len(details) > 0 {
		payload, err := json.Marshal(details)
		if err != nil {
			r.logger.Error("failed to marshal audit details",
				"document_id", documentID,
				"action", action,
				"error", err,
			)
		} else {
			entry.Details = models.JSON(payload)
		}
	}

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.logger.Error("failed to write audit entry",
			"document_id", documentID,
			"action", action,
			"actor", actor,
			"error", err,
		)
		return
	}

	r.logger.Debug("audit entry written",
		"document_id", documentID,
		"action", action,
		"actor", actor,
	)
}
