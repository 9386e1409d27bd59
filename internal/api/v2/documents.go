package api

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/hashicorp-forge/docgate/internal/server"
	"github.com/hashicorp-forge/docgate/pkg/lifecycle"
	"github.com/hashicorp-forge/docgate/pkg/models"
)

// DocumentCreateRequest is the body of POST /api/v2/documents.
type DocumentCreateRequest struct {
	Title        string   `json:"title"`
	DocType      string   `json:"docType"`
	IsProduction bool     `json:"isProduction"`
	Approvers    []string `json:"approvers"`
}

// Validate validates the request.
func (req DocumentCreateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&req.DocType, validation.Required, validation.Length(1, 50)),
		validation.Field(&req.Approvers, validation.Each(is.EmailFormat)),
	)
}

// ApproverAddRequest is the body of POST /api/v2/documents/{id}/approvers.
type ApproverAddRequest struct {
	Email string `json:"email"`
}

// Validate validates the request.
func (req ApproverAddRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Email, validation.Required, is.EmailFormat),
	)
}

// DecisionRequest is the body of the approve and reject actions.
type DecisionRequest struct {
	ApproverID uint   `json:"approverId"`
	Reason     string `json:"reason,omitempty"`
}

// Validate validates the request.
func (req DecisionRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.ApproverID, validation.Required),
	)
}

// NewVersionRequest is the body of POST /api/v2/documents/{id}/versions.
type NewVersionRequest struct {
	PromoteToProduction bool `json:"promoteToProduction"`
}

// StatusOverrideRequest is the body of POST /api/v2/documents/{id}/status.
type StatusOverrideRequest struct {
	Status string `json:"status"`
}

// Validate validates the request.
func (req StatusOverrideRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Status, validation.Required),
	)
}

// documentResponse is a document with its aggregated file safety state.
type documentResponse struct {
	*models.Document
	Safety *lifecycle.SafetyState `json:"safety"`
}

// respondLifecycleError maps lifecycle errors to HTTP status codes.
func respondLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrDocumentNotFound),
		errors.Is(err, lifecycle.ErrApproverNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrNotInDraft),
		errors.Is(err, lifecycle.ErrNotInApproval),
		errors.Is(err, lifecycle.ErrNotReleased),
		errors.Is(err, lifecycle.ErrAlreadyTerminal),
		errors.Is(err, lifecycle.ErrNoApproversConfigured),
		errors.Is(err, lifecycle.ErrAlreadyDecided),
		errors.Is(err, lifecycle.ErrWorkInProgressExists),
		errors.Is(err, lifecycle.ErrBlockedFilesPresent):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// DocumentsHandler handles POST /api/v2/documents.
func DocumentsHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req DocumentCreateRequest
		if err := decodeRequest(r, &req); err != nil {
			srv.Logger.Error("error decoding document create request", "error", err)
			respondError(w, http.StatusBadRequest, "bad request")
			return
		}
		if err := req.Validate(); err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		doc, err := srv.Lifecycle.CreateDocument(r.Context(), lifecycle.CreateDocumentRequest{
			Title:        req.Title,
			DocType:      req.DocType,
			IsProduction: req.IsProduction,
			CreatedBy:    actorEmail(r),
			Approvers:    req.Approvers,
		})
		if err != nil {
			srv.Logger.Error("error creating document", "error", err)
			respondLifecycleError(w, err)
			return
		}

		if err := respondJSON(w, http.StatusCreated, doc); err != nil {
			srv.Logger.Error("error encoding document response", "error", err)
		}
	})
}

// DocumentHandler handles /api/v2/documents/{id} and its actions:
// approvers, submit, approve, reject, obsolete, versions, status, audit.
func DocumentHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, action, err := parseResourcePath(r.URL.Path, "documents")
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			getDocument(srv, w, r, id)
		case action == "audit" && r.Method == http.MethodGet:
			getAuditTrail(srv, w, r, id)
		case r.Method != http.MethodPost:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case action == "approvers":
			addApprover(srv, w, r, id)
		case action == "files":
			attachFile(srv, w, r, id)
		case action == "submit":
			submitDocument(srv, w, r, id)
		case action == "approve":
			approveDocument(srv, w, r, id)
		case action == "reject":
			rejectDocument(srv, w, r, id)
		case action == "obsolete":
			obsoleteDocument(srv, w, r, id)
		case action == "versions":
			createNewVersion(srv, w, r, id)
		case action == "status":
			overrideStatus(srv, w, r, id)
		default:
			respondError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		}
	})
}

func getDocument(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	doc, err := srv.Lifecycle.GetDocument(r.Context(), id)
	if err != nil {
		srv.Logger.Error("error getting document", "document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	safety, err := srv.Lifecycle.GetDocumentSafetyState(r.Context(), id)
	if err != nil {
		srv.Logger.Error("error getting safety state", "document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	if err := respondJSON(w, http.StatusOK, documentResponse{
		Document: doc,
		Safety:   safety,
	}); err != nil {
		srv.Logger.Error("error encoding document response", "error", err)
	}
}

func getAuditTrail(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	if _, err := srv.Lifecycle.GetDocument(r.Context(), id); err != nil {
		respondLifecycleError(w, err)
		return
	}

	entries, err := models.GetAuditEntries(srv.DB.WithContext(r.Context()), id)
	if err != nil {
		srv.Logger.Error("error getting audit trail", "document_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := respondJSON(w, http.StatusOK, entries); err != nil {
		srv.Logger.Error("error encoding audit response", "error", err)
	}
}

func addApprover(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	var req ApproverAddRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	approver, err := srv.Lifecycle.AddApprover(r.Context(), id, req.Email, actorEmail(r))
	if err != nil {
		srv.Logger.Error("error adding approver", "document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	if err := respondJSON(w, http.StatusCreated, approver); err != nil {
		srv.Logger.Error("error encoding approver response", "error", err)
	}
}

func submitDocument(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	result, err := srv.Lifecycle.SubmitForApproval(r.Context(), id, actorEmail(r))
	if err != nil {
		srv.Logger.Error("error submitting document", "document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	if err := respondJSON(w, http.StatusOK, result); err != nil {
		srv.Logger.Error("error encoding submit response", "error", err)
	}
}

func approveDocument(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	var req DecisionRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	result, err := srv.Lifecycle.Approve(r.Context(), id, req.ApproverID, actorEmail(r))
	if err != nil {
		srv.Logger.Error("error approving document", "document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	if err := respondJSON(w, http.StatusOK, result); err != nil {
		srv.Logger.Error("error encoding approval response", "error", err)
	}
}

func rejectDocument(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	var req DecisionRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := srv.Lifecycle.Reject(
		r.Context(), id, req.ApproverID, actorEmail(r), req.Reason,
	); err != nil {
		srv.Logger.Error("error rejecting document", "document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func obsoleteDocument(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	if err := srv.Lifecycle.Obsolete(r.Context(), id, actorEmail(r)); err != nil {
		srv.Logger.Error("error obsoleting document", "document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func createNewVersion(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	var req NewVersionRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	doc, err := srv.Lifecycle.CreateNewVersion(
		r.Context(), id, actorEmail(r), req.PromoteToProduction)
	if err != nil {
		srv.Logger.Error("error creating new version", "document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	if err := respondJSON(w, http.StatusCreated, doc); err != nil {
		srv.Logger.Error("error encoding version response", "error", err)
	}
}

func overrideStatus(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	var req StatusOverrideRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	target := models.DocumentStatus(req.Status)
	if !target.IsValid() {
		respondError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("invalid status %q", req.Status))
		return
	}

	if err := srv.Lifecycle.ForceStatus(r.Context(), id, target, actorEmail(r)); err != nil {
		srv.Logger.Error("error overriding document status",
			"document_id", id, "error", err)
		respondLifecycleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
