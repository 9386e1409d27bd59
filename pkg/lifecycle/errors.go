package lifecycle

import "errors"

// Precondition errors. These are typed rejections describing which
// invariant failed; callers decide the user-facing messaging.
var (
	// ErrDocumentNotFound is returned when the document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNotInDraft is returned when an operation requires draft status.
	ErrNotInDraft = errors.New("document is not in draft")

	// ErrNotInApproval is returned when an operation requires in_approval
	// status.
	ErrNotInApproval = errors.New("document is not in approval")

	// ErrNotReleased is returned when an operation requires released
	// status.
	ErrNotReleased = errors.New("document is not released")

	// ErrAlreadyTerminal is returned for transitions out of obsolete.
	ErrAlreadyTerminal = errors.New("document is obsolete and terminal")

	// ErrNoApproversConfigured is returned when a document is submitted
	// without any approvers.
	ErrNoApproversConfigured = errors.New("no approvers configured")

	// ErrApproverNotFound is returned when the approver does not belong
	// to the document.
	ErrApproverNotFound = errors.New("approver not found for document")

	// ErrAlreadyDecided is returned when an approver has already recorded
	// a decision for this submission.
	ErrAlreadyDecided = errors.New("approver has already decided")

	// ErrWorkInProgressExists is returned when a new version is requested
	// while another version of the same document is still draft or
	// in_approval.
	ErrWorkInProgressExists = errors.New("document already has a version in progress")

	// ErrBlockedFilesPresent is returned when a status override would
	// move a document with quarantined files into released.
	ErrBlockedFilesPresent = errors.New("document has blocked files")
)
