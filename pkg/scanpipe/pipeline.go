// Package scanpipe implements the per-file malware scan state machine.
//
// Files move pending -> scanning -> {safe, blocked, error}. The only
// guarded, state-changing entry point is BeginScan; everything after it
// is idempotent under the at-least-once delivery of the job queue.
package scanpipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/docgate/pkg/audit"
	"github.com/hashicorp-forge/docgate/pkg/models"
	"github.com/hashicorp-forge/docgate/pkg/scanjobs"
	"github.com/hashicorp-forge/docgate/pkg/scanner"
	"github.com/hashicorp-forge/docgate/pkg/storage"
)

var (
	// ErrFileNotFound is returned when the file record does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidScanState is returned when the file's current scan status
	// does not permit the requested transition. A concurrent duplicate
	// delivery observing a file already in scanning receives this.
	ErrInvalidScanState = errors.New("invalid scan state for operation")
)

const (
	// defaultScanTimeout is the wall-clock ceiling for one RunScan,
	// covering the storage fetch and every scan attempt.
	defaultScanTimeout = 5 * time.Minute

	// defaultMaxAttempts bounds scan attempts on transport failure.
	defaultMaxAttempts = 3
)

// Config holds configuration for the scan pipeline.
type Config struct {
	DB       *gorm.DB
	Store    storage.ObjectStore
	Scanner  scanner.Scanner
	Recorder *audit.Recorder
	Logger   hclog.Logger

	// ScanTimeout overrides the 5-minute wall-clock ceiling.
	ScanTimeout time.Duration

	// MaxAttempts overrides the 3-attempt transport retry bound.
	MaxAttempts int
}

// Pipeline runs scans and transitions file records.
type Pipeline struct {
	db       *gorm.DB
	store    storage.ObjectStore
	scanner  scanner.Scanner
	recorder *audit.Recorder
	logger   hclog.Logger

	scanTimeout time.Duration
	maxAttempts int
}

var _ scanjobs.Handler = (*Pipeline)(nil)

// New creates a scan pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NewRecorder(cfg.DB, cfg.Logger)
	}
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = defaultScanTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	return &Pipeline{
		db:          cfg.DB,
		store:       cfg.Store,
		scanner:     cfg.Scanner,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger.Named("scan-pipeline"),
		scanTimeout: cfg.ScanTimeout,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// BeginScan atomically moves a pending/error file into scanning. Of two
// concurrent calls for the same file, exactly one succeeds; the loser
// receives ErrInvalidScanState.
func (p *Pipeline) BeginScan(ctx context.Context, fileID uint) error {
	if _, err := models.GetDocumentFile(p.db.WithContext(ctx), fileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: file %d", ErrFileNotFound, fileID)
		}
		return fmt.Errorf("failed to load file %d: %w", fileID, err)
	}

	ok, err := models.MarkFileScanning(p.db.WithContext(ctx), fileID)
	if err != nil {
		return fmt.Errorf("failed to mark file %d scanning: %w", fileID, err)
	}
	if !ok {
		return fmt.Errorf("%w: file %d is not pending or error", ErrInvalidScanState, fileID)
	}
	return nil
}

// RunScan executes the scan for a file that BeginScan moved into
// scanning: fetch the object, submit it, settle the outcome. Transport
// failures are retried up to the attempt bound within the wall-clock
// ceiling; after exhaustion the file settles in error with the object
// retained. A malicious/suspicious verdict settles blocked and
// quarantines the object.
func (p *Pipeline) RunScan(ctx context.Context, fileID uint) error {
	file, err := models.GetDocumentFile(p.db.WithContext(ctx), fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: file %d", ErrFileNotFound, fileID)
		}
		return fmt.Errorf("failed to load file %d: %w", fileID, err)
	}
	if file.ScanStatus != models.ScanStatusScanning {
		return fmt.Errorf("%w: file %d is %s, expected scanning",
			ErrInvalidScanState, fileID, file.ScanStatus)
	}

	scanCtx, cancel := context.WithTimeout(ctx, p.scanTimeout)
	defer cancel()

	verdict, scanErr := p.scanWithRetry(scanCtx, file)
	if scanErr != nil {
		return p.settleError(ctx, file, scanErr)
	}

	switch v := verdict.(type) {
	case scanner.Safe:
		return p.settleSafe(ctx, file, v)
	case scanner.Blocked:
		return p.settleBlocked(ctx, file, v)
	default:
		return p.settleError(ctx, file, fmt.Errorf("unexpected verdict kind %q", verdict.Kind()))
	}
}

// HandleScanJob implements scanjobs.Handler. Duplicate deliveries and
// deleted files are absorbed here so the queue can commit past them.
func (p *Pipeline) HandleScanJob(ctx context.Context, job scanjobs.ScanJob) error {
	if err := p.BeginScan(ctx, job.FileID); err != nil {
		switch {
		case errors.Is(err, ErrInvalidScanState):
			p.logger.Debug("skipping scan job, file not eligible",
				"file_id", job.FileID)
			return nil
		case errors.Is(err, ErrFileNotFound):
			p.logger.Warn("skipping scan job for missing file",
				"file_id", job.FileID)
			return nil
		default:
			return err
		}
	}

	return p.RunScan(ctx, job.FileID)
}

// scanWithRetry fetches the object and submits it, retrying transport
// failures with exponential backoff up to the attempt bound.
func (p *Pipeline) scanWithRetry(ctx context.Context, file *models.DocumentFile) (scanner.Verdict, error) {
	var verdict scanner.Verdict
	attempt := 0

	operation := func() error {
		attempt++

		content, err := p.store.Get(ctx, file.FilePath)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				// The object is gone; retrying cannot bring it back.
				return backoff.Permanent(fmt.Errorf("object missing from storage: %w", err))
			}
			p.logger.Warn("storage fetch failed",
				"file_id", file.ID,
				"attempt", attempt,
				"error", err,
			)
			return fmt.Errorf("storage fetch failed: %w", err)
		}

		verdict, err = p.scanner.Scan(ctx, content, file.OriginalFileName)
		if err != nil {
			p.logger.Warn("scan attempt failed",
				"file_id", file.ID,
				"attempt", attempt,
				"error", err,
			)
			return fmt.Errorf("scan failed: %w", err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (p *Pipeline) settleSafe(ctx context.Context, file *models.DocumentFile, v scanner.Safe) error {
	if err := p.settle(ctx, file, models.ScanStatusSafe, v); err != nil {
		return err
	}

	p.logger.Info("file scan completed",
		"file_id", file.ID,
		"document_id", file.DocumentID,
		"result", "safe",
	)
	p.recorder.Record(ctx, file.DocumentID, models.AuditActionFileScanCompleted,
		"scan-pipeline", map[string]interface{}{
			"fileId":   file.ID,
			"fileName": file.OriginalFileName,
			"result":   "safe",
		})
	return nil
}

// settleBlocked quarantines the file: the blocked marking lands first,
// then the storage object is deleted best-effort. A blocked record with
// a stray object is an acceptable degraded state; an existing object
// with no blocked marking is not, so the order never reverses.
func (p *Pipeline) settleBlocked(ctx context.Context, file *models.DocumentFile, v scanner.Blocked) error {
	if err := p.settle(ctx, file, models.ScanStatusBlocked, v); err != nil {
		return err
	}

	if err := p.store.Delete(ctx, file.FilePath); err != nil {
		p.logger.Error("failed to delete quarantined object, object may be stray",
			"file_id", file.ID,
			"file_path", file.FilePath,
			"error", err,
		)
	}

	p.logger.Warn("file quarantined",
		"file_id", file.ID,
		"document_id", file.DocumentID,
		"malicious", v.Malicious,
		"suspicious", v.Suspicious,
	)
	p.recorder.Record(ctx, file.DocumentID, models.AuditActionFileQuarantined,
		"scan-pipeline", map[string]interface{}{
			"fileId":     file.ID,
			"fileName":   file.OriginalFileName,
			"malicious":  v.Malicious,
			"suspicious": v.Suspicious,
		})
	return nil
}

func (p *Pipeline) settleError(ctx context.Context, file *models.DocumentFile, scanErr error) error {
	if err := p.settle(ctx, file, models.ScanStatusError, scanner.Failed{Message: scanErr.Error()}); err != nil {
		return err
	}

	p.logger.Error("file scan failed",
		"file_id", file.ID,
		"document_id", file.DocumentID,
		"error", scanErr,
	)
	p.recorder.Record(ctx, file.DocumentID, models.AuditActionFileScanCompleted,
		"scan-pipeline", map[string]interface{}{
			"fileId":   file.ID,
			"fileName": file.OriginalFileName,
			"result":   "error",
			"message":  scanErr.Error(),
		})
	return nil
}

func (p *Pipeline) settle(ctx context.Context, file *models.DocumentFile, status models.FileScanStatus, verdict scanner.Verdict) error {
	payload, err := scanner.MarshalVerdict(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict for file %d: %w", file.ID, err)
	}

	ok, err := models.SetFileScanOutcome(p.db.WithContext(ctx), file.ID, status, models.JSON(payload))
	if err != nil {
		return fmt.Errorf("failed to record scan outcome for file %d: %w", file.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: file %d left scanning before outcome", ErrInvalidScanState, file.ID)
	}
	return nil
}
