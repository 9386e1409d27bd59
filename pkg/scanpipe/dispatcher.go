package scanpipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/docgate/pkg/audit"
	"github.com/hashicorp-forge/docgate/pkg/models"
	"github.com/hashicorp-forge/docgate/pkg/scanjobs"
)

// MaxRescanBatchSize caps one bulk rescan, protecting the scanning
// service from burst load.
const MaxRescanBatchSize = 50

// ErrBatchTooLarge is returned when a bulk rescan exceeds
// MaxRescanBatchSize file IDs.
var ErrBatchTooLarge = fmt.Errorf("rescan batch exceeds %d files", MaxRescanBatchSize)

// Dispatcher resets eligible files and enqueues fresh scan jobs.
type Dispatcher struct {
	db       *gorm.DB
	enqueuer scanjobs.Enqueuer
	recorder *audit.Recorder
	logger   hclog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(db *gorm.DB, enqueuer scanjobs.Enqueuer, recorder *audit.Recorder, logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if recorder == nil {
		recorder = audit.NewRecorder(db, logger)
	}
	return &Dispatcher{
		db:       db,
		enqueuer: enqueuer,
		recorder: recorder,
		logger:   logger.Named("scan-dispatcher"),
	}
}

// TriggerRescan resets one pending/error file to pending, clears its
// previous verdict, and enqueues a fresh scan job. A file currently
// scanning (or already settled safe/blocked) is rejected with
// ErrInvalidScanState and nothing is enqueued.
func (d *Dispatcher) TriggerRescan(ctx context.Context, fileID uint, actor string) error {
	file, err := models.GetDocumentFile(d.db.WithContext(ctx), fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: file %d", ErrFileNotFound, fileID)
		}
		return fmt.Errorf("failed to load file %d: %w", fileID, err)
	}

	ok, err := models.ResetFileForRescan(d.db.WithContext(ctx), fileID)
	if err != nil {
		return fmt.Errorf("failed to reset file %d for rescan: %w", fileID, err)
	}
	if !ok {
		return fmt.Errorf("%w: file %d is %s", ErrInvalidScanState, fileID, file.ScanStatus)
	}

	if err := d.enqueuer.Enqueue(ctx, scanjobs.ScanJob{
		FileID:      fileID,
		DocumentID:  file.DocumentID,
		TriggeredBy: actor,
	}); err != nil {
		// The file stays pending and remains rescan-eligible.
		return fmt.Errorf("failed to enqueue scan job for file %d: %w", fileID, err)
	}

	d.recorder.Record(ctx, file.DocumentID, models.AuditActionRescanTriggered,
		actor, map[string]interface{}{
			"fileId":   fileID,
			"fileName": file.OriginalFileName,
		})
	return nil
}

// TriggerRescanBulk rescans up to MaxRescanBatchSize files. Files that
// are not rescan-eligible are skipped silently; the returned count is
// the number of files actually reset and enqueued. Infrastructure
// failures for individual files are aggregated without failing the
// whole batch.
func (d *Dispatcher) TriggerRescanBulk(ctx context.Context, fileIDs []uint, actor string) (int, error) {
	if len(fileIDs) > MaxRescanBatchSize {
		return 0, ErrBatchTooLarge
	}

	var merr *multierror.Error
	eligible := 0

	for _, fileID := range fileIDs {
		err := d.TriggerRescan(ctx, fileID, actor)
		switch {
		case err == nil:
			eligible++
		case errors.Is(err, ErrInvalidScanState), errors.Is(err, ErrFileNotFound):
			d.logger.Debug("skipping ineligible file in bulk rescan",
				"file_id", fileID,
				"reason", err,
			)
		default:
			merr = multierror.Append(merr, err)
		}
	}

	d.logger.Info("bulk rescan dispatched",
		"requested", len(fileIDs),
		"eligible", eligible,
		"actor", actor,
	)
	return eligible, merr.ErrorOrNil()
}
