// Package lifecycle implements the document version/approval state
// machine: Draft -> InApproval -> Released -> Obsolete, with new draft
// versions minted from released documents.
//
// Every transition validates its preconditions against current database
// state with an optimistic conditional update, writes an audit entry,
// and returns a typed rejection when an invariant fails. Audit writes
// are best-effort and never roll back the primary mutation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/docgate/pkg/audit"
	"github.com/hashicorp-forge/docgate/pkg/docver"
	"github.com/hashicorp-forge/docgate/pkg/models"
	"github.com/hashicorp-forge/docgate/pkg/scanjobs"
)

// Service is the document lifecycle state machine.
type Service struct {
	db       *gorm.DB
	recorder *audit.Recorder
	enqueuer scanjobs.Enqueuer
	logger   hclog.Logger
}

// Config holds configuration for the lifecycle service.
type Config struct {
	DB       *gorm.DB
	Recorder *audit.Recorder
	Enqueuer scanjobs.Enqueuer
	Logger   hclog.Logger
}

// New creates a lifecycle service.
func New(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NewRecorder(cfg.DB, cfg.Logger)
	}
	return &Service{
		db:       cfg.DB,
		recorder: cfg.Recorder,
		enqueuer: cfg.Enqueuer,
		logger:   cfg.Logger.Named("lifecycle"),
	}, nil
}

// CreateDocumentRequest describes a new logical document.
type CreateDocumentRequest struct {
	Title        string
	DocType      string
	IsProduction bool
	CreatedBy    string
	Approvers    []string
}

// CreateDocument mints a document number from the per-type counter and
// creates the first draft version: vA for a prototype line, v1 for a
// production-born document.
func (s *Service) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*models.Document, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if req.DocType == "" {
		return nil, fmt.Errorf("document type is required")
	}
	if req.CreatedBy == "" {
		return nil, fmt.Errorf("creator is required")
	}

	var doc *models.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := models.NextDocumentNumber(tx, req.DocType)
		if err != nil {
			return fmt.Errorf("failed to mint document number: %w", err)
		}

		doc = &models.Document{
			DocumentNumber: number,
			Version:        docver.Initial(req.IsProduction).String(),
			IsProduction:   req.IsProduction,
			Status:         models.StatusDraft,
			Title:          req.Title,
			DocType:        req.DocType,
			CreatedBy:      req.CreatedBy,
		}
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}

		for _, email := range req.Approvers {
			approver := models.DocumentApprover{
				DocumentID: doc.ID,
				UserEmail:  email,
			}
			if err := tx.Create(&approver).Error; err != nil {
				return fmt.Errorf("failed to create approver: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, doc.ID, models.AuditActionDocumentCreated,
		req.CreatedBy, map[string]interface{}{
			"documentNumber": doc.DocumentNumber,
			"version":        doc.Version,
			"docType":        doc.DocType,
		})
	return doc, nil
}

// AddApprover assigns an approver to a draft document.
func (s *Service) AddApprover(ctx context.Context, documentID uint, email, actor string) (*models.DocumentApprover, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusDraft {
		return nil, fmt.Errorf("%w: document %d is %s", ErrNotInDraft, documentID, doc.Status)
	}

	approver := models.DocumentApprover{
		DocumentID: documentID,
		UserEmail:  email,
	}
	if err := s.db.WithContext(ctx).Create(&approver).Error; err != nil {
		return nil, fmt.Errorf("failed to create approver: %w", err)
	}
	return &approver, nil
}

// AttachFileRequest describes an uploaded file to register.
type AttachFileRequest struct {
	DocumentID       uint
	FilePath         string
	OriginalFileName string
	Actor            string
}

// AttachFile records an uploaded file in pending and enqueues its first
// scan.
func (s *Service) AttachFile(ctx context.Context, req AttachFileRequest) (*models.DocumentFile, error) {
	doc, err := s.getDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.StatusObsolete {
		return nil, fmt.Errorf("%w: document %d", ErrAlreadyTerminal, req.DocumentID)
	}

	file := models.DocumentFile{
		DocumentID:       req.DocumentID,
		FilePath:         req.FilePath,
		OriginalFileName: req.OriginalFileName,
		ScanStatus:       models.ScanStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	if err := s.enqueuer.Enqueue(ctx, scanjobs.ScanJob{
		FileID:      file.ID,
		DocumentID:  req.DocumentID,
		TriggeredBy: req.Actor,
	}); err != nil {
		// The record stays pending; a rescan dispatch can pick it up.
		s.logger.Error("failed to enqueue initial scan",
			"file_id", file.ID,
			"document_id", req.DocumentID,
			"error", err,
		)
	}

	s.recorder.Record(ctx, req.DocumentID, models.AuditActionFileAttached,
		req.Actor, map[string]interface{}{
			"fileId":   file.ID,
			"fileName": file.OriginalFileName,
		})
	return &file, nil
}

// SubmitResult reports a successful submission.
type SubmitResult struct {
	// NoFiles flags a submission without any attached files. This is a
	// policy signal for the caller, not a block: file safety is enforced
	// at download/release time because scanning is asynchronous.
	NoFiles bool
}

// SubmitForApproval moves a draft with at least one approver into
// in_approval. File scan status is deliberately not a precondition.
func (s *Service) SubmitForApproval(ctx context.Context, documentID uint, actor string) (*SubmitResult, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusDraft {
		return nil, fmt.Errorf("%w: document %d is %s", ErrNotInDraft, documentID, doc.Status)
	}

	approverCount, err := models.CountApprovers(s.db.WithContext(ctx), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count approvers: %w", err)
	}
	if approverCount == 0 {
		return nil, fmt.Errorf("%w: document %d", ErrNoApproversConfigured, documentID)
	}

	// A resubmission after rejection starts with a clean slate.
	if err := models.ResetDecisions(s.db.WithContext(ctx), documentID); err != nil {
		return nil, fmt.Errorf("failed to reset approver decisions: %w", err)
	}

	ok, err := models.UpdateDocumentStatus(s.db.WithContext(ctx), documentID,
		[]models.DocumentStatus{models.StatusDraft}, models.StatusInApproval, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update document status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: document %d changed concurrently", ErrNotInDraft, documentID)
	}

	fileCount, err := models.CountDocumentFiles(s.db.WithContext(ctx), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	s.recorder.Record(ctx, documentID, models.AuditActionSubmittedForApproval,
		actor, map[string]interface{}{
			"approverCount": approverCount,
			"fileCount":     fileCount,
		})
	return &SubmitResult{NoFiles: fileCount == 0}, nil
}

// DecisionResult reports the effect of one approver decision.
type DecisionResult struct {
	// Released is true when this decision completed the approval set and
	// the document transitioned to released.
	Released bool

	// Remaining is the number of approvers that have not yet approved.
	Remaining int64

	// SafetyState is populated when Released is true so the caller can
	// surface a blocked-file inconsistency; it is never silently
	// swallowed here either (logged and audited).
	SafetyState *SafetyState
}

// Approve records an approval. When every approver has approved, the
// document transitions to released with released_by/released_at set.
func (s *Service) Approve(ctx context.Context, documentID, approverID uint, actor string) (*DecisionResult, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusInApproval {
		return nil, fmt.Errorf("%w: document %d is %s", ErrNotInApproval, documentID, doc.Status)
	}

	if _, err := models.GetApprover(s.db.WithContext(ctx), documentID, approverID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: approver %d", ErrApproverNotFound, approverID)
		}
		return nil, fmt.Errorf("failed to load approver: %w", err)
	}

	ok, err := models.RecordDecision(s.db.WithContext(ctx), approverID, models.DecisionApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to record decision: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: approver %d", ErrAlreadyDecided, approverID)
	}

	s.recorder.Record(ctx, documentID, models.AuditActionApproved,
		actor, map[string]interface{}{"approverId": approverID})

	remaining, err := models.CountUndecidedApprovers(s.db.WithContext(ctx), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count undecided approvers: %w", err)
	}
	if remaining > 0 {
		return &DecisionResult{Remaining: remaining}, nil
	}

	// Last approval releases the document.
	now := time.Now()
	released, err := models.UpdateDocumentStatus(s.db.WithContext(ctx), documentID,
		[]models.DocumentStatus{models.StatusInApproval}, models.StatusReleased,
		map[string]interface{}{
			"released_by": actor,
			"released_at": now,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to release document: %w", err)
	}
	if !released {
		// A concurrent rejection won; the document is back in draft.
		return &DecisionResult{Remaining: 0}, nil
	}

	safety, err := s.GetDocumentSafetyState(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute safety state: %w", err)
	}
	if safety.BlockedCount > 0 {
		// A released document with quarantined files is a hard
		// inconsistency; surface it loudly, the release itself stands.
		s.logger.Error("document released with blocked files",
			"document_id", documentID,
			"blocked_count", safety.BlockedCount,
		)
	}

	s.recorder.Record(ctx, documentID, models.AuditActionReleased,
		actor, map[string]interface{}{
			"releasedBy":   actor,
			"blockedFiles": safety.BlockedCount,
			"pendingFiles": safety.PendingCount,
		})
	return &DecisionResult{Released: true, SafetyState: safety}, nil
}

// Reject records a rejection and immediately returns the document to
// draft (fail-fast: one rejection ends the approval round).
func (s *Service) Reject(ctx context.Context, documentID, approverID uint, actor, reason string) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusInApproval {
		return fmt.Errorf("%w: document %d is %s", ErrNotInApproval, documentID, doc.Status)
	}

	if _, err := models.GetApprover(s.db.WithContext(ctx), documentID, approverID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: approver %d", ErrApproverNotFound, approverID)
		}
		return fmt.Errorf("failed to load approver: %w", err)
	}

	ok, err := models.RecordDecision(s.db.WithContext(ctx), approverID, models.DecisionRejected)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: approver %d", ErrAlreadyDecided, approverID)
	}

	if _, err := models.UpdateDocumentStatus(s.db.WithContext(ctx), documentID,
		[]models.DocumentStatus{models.StatusInApproval}, models.StatusDraft, nil); err != nil {
		return fmt.Errorf("failed to return document to draft: %w", err)
	}

	s.recorder.Record(ctx, documentID, models.AuditActionRejected,
		actor, map[string]interface{}{
			"approverId": approverID,
			"reason":     reason,
		})
	return nil
}

// Obsolete moves a released document into the terminal obsolete state.
func (s *Service) Obsolete(ctx context.Context, documentID uint, actor string) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	switch doc.Status {
	case models.StatusObsolete:
		return fmt.Errorf("%w: document %d", ErrAlreadyTerminal, documentID)
	case models.StatusReleased:
		// Eligible.
	default:
		return fmt.Errorf("%w: document %d is %s", ErrNotReleased, documentID, doc.Status)
	}

	ok, err := models.UpdateDocumentStatus(s.db.WithContext(ctx), documentID,
		[]models.DocumentStatus{models.StatusReleased}, models.StatusObsolete, nil)
	if err != nil {
		return fmt.Errorf("failed to obsolete document: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: document %d changed concurrently", ErrNotReleased, documentID)
	}

	s.recorder.Record(ctx, documentID, models.AuditActionDocumentObsoleted,
		actor, nil)
	return nil
}

// CreateNewVersion mints the next draft version of a released document,
// inheriting title and type with fresh approvers and files. With
// promoteToProduction, a prototype document starts its production line
// at v1. At most one work-in-progress version may exist per document
// number.
func (s *Service) CreateNewVersion(ctx context.Context, documentID uint, actor string, promoteToProduction bool) (*models.Document, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusReleased {
		if doc.Status == models.StatusObsolete {
			return nil, fmt.Errorf("%w: document %d", ErrAlreadyTerminal, documentID)
		}
		return nil, fmt.Errorf("%w: document %d is %s", ErrNotReleased, documentID, doc.Status)
	}

	wip, err := models.HasWorkInProgress(s.db.WithContext(ctx), doc.DocumentNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to check for work in progress: %w", err)
	}
	if wip {
		return nil, fmt.Errorf("%w: %s", ErrWorkInProgressExists, doc.DocumentNumber)
	}

	current, err := docver.Parse(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("stored version %q is invalid: %w", doc.Version, err)
	}

	var next docver.Version
	isProduction := doc.IsProduction
	if promoteToProduction && !doc.IsProduction {
		next = docver.Initial(true)
		isProduction = true
	} else {
		next, err = docver.Next(current, doc.IsProduction)
		if err != nil {
			return nil, err
		}
	}

	newDoc := &models.Document{
		DocumentNumber: doc.DocumentNumber,
		Version:        next.String(),
		IsProduction:   isProduction,
		Status:         models.StatusDraft,
		Title:          doc.Title,
		DocType:        doc.DocType,
		CreatedBy:      actor,
	}
	if err := s.db.WithContext(ctx).Create(newDoc).Error; err != nil {
		return nil, fmt.Errorf("failed to create new version: %w", err)
	}

	s.recorder.Record(ctx, newDoc.ID, models.AuditActionVersionCreated,
		actor, map[string]interface{}{
			"documentNumber": doc.DocumentNumber,
			"fromVersion":    doc.Version,
			"toVersion":      newDoc.Version,
			"promoted":       promoteToProduction && isProduction != doc.IsProduction,
		})
	return newDoc, nil
}

// ForceStatus is the administrative override: it sets the status without
// the usual preconditions. The one constraint that survives is the
// quarantine invariant: a document with blocked files cannot be forced
// into released. The override always writes an audit entry recording
// old and new status.
func (s *Service) ForceStatus(ctx context.Context, documentID uint, target models.DocumentStatus, actor string) error {
	if !target.IsValid() {
		return fmt.Errorf("invalid target status %q", target)
	}

	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}

	if target == models.StatusReleased {
		safety, err := s.GetDocumentSafetyState(ctx, documentID)
		if err != nil {
			return fmt.Errorf("failed to compute safety state: %w", err)
		}
		if safety.BlockedCount > 0 {
			return fmt.Errorf("%w: %d blocked", ErrBlockedFilesPresent, safety.BlockedCount)
		}
	}

	if err := models.ForceDocumentStatus(s.db.WithContext(ctx), documentID, target); err != nil {
		return fmt.Errorf("failed to force document status: %w", err)
	}

	s.logger.Warn("document status forced by admin override",
		"document_id", documentID,
		"old_status", doc.Status,
		"new_status", target,
		"actor", actor,
	)
	s.recorder.Record(ctx, documentID, models.AuditActionAdminStatusOverride,
		actor, map[string]interface{}{
			"oldStatus": doc.Status.String(),
			"newStatus": target.String(),
		})
	return nil
}

// SafetyState is the aggregated file scan status of one document,
// consumed by the download and release gates.
type SafetyState struct {
	// AllSafe is true when no file is blocked or unresolved. A document
	// with no files is vacuously safe.
	AllSafe bool `json:"allSafe"`

	// PendingCount counts files still pending, scanning, or errored.
	PendingCount int64 `json:"pendingCount"`

	// BlockedCount counts quarantined files.
	BlockedCount int64 `json:"blockedCount"`
}

// GetDocumentSafetyState aggregates the scan statuses of a document's
// files.
func (s *Service) GetDocumentSafetyState(ctx context.Context, documentID uint) (*SafetyState, error) {
	if _, err := s.getDocument(ctx, documentID); err != nil {
		return nil, err
	}

	counts, err := models.CountFileScanStatuses(s.db.WithContext(ctx), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate scan statuses: %w", err)
	}

	return &SafetyState{
		AllSafe:      counts.Blocked == 0 && counts.Pending == 0,
		PendingCount: counts.Pending,
		BlockedCount: counts.Blocked,
	}, nil
}

// GetDocument retrieves a document with approvers and files for the API
// layer.
func (s *Service) GetDocument(ctx context.Context, documentID uint) (*models.Document, error) {
	doc, err := models.GetDocumentWithAssociations(s.db.WithContext(ctx), documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return doc, nil
}

func (s *Service) getDocument(ctx context.Context, documentID uint) (*models.Document, error) {
	doc, err := models.GetDocument(s.db.WithContext(ctx), documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return doc, nil
}
