package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/docgate/internal/server"
	"github.com/hashicorp-forge/docgate/pkg/lifecycle"
	"github.com/hashicorp-forge/docgate/pkg/models"
	"github.com/hashicorp-forge/docgate/pkg/scanpipe"
	"github.com/hashicorp-forge/docgate/pkg/storage"
)

const (
	// maxUploadBytes caps one file upload.
	maxUploadBytes = 100 << 20

	// downloadURLTTL is the validity window of issued download links.
	downloadURLTTL = 15 * time.Minute
)

// BulkRescanRequest is the body of POST /api/v2/files/rescan.
type BulkRescanRequest struct {
	FileIDs []uint `json:"fileIds"`
}

// Validate validates the request.
func (req BulkRescanRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.FileIDs,
			validation.Required,
			validation.Length(1, scanpipe.MaxRescanBatchSize)),
	)
}

// downloadResponse carries the short-lived download URL for a safe file.
type downloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// attachFile handles POST /api/v2/documents/{id}/files: it stores the
// uploaded object and registers the file record, which enqueues the
// initial scan.
func attachFile(srv server.Server, w http.ResponseWriter, r *http.Request, docID uint) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	upload, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer upload.Close()

	content, err := io.ReadAll(io.LimitReader(upload, maxUploadBytes))
	if err != nil {
		srv.Logger.Error("error reading upload", "document_id", docID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	filename := path.Base(header.Filename)
	objectPath := fmt.Sprintf("documents/%d/%s/%s", docID, uuid.New().String(), filename)

	if err := srv.Store.Put(r.Context(), objectPath, content); err != nil {
		srv.Logger.Error("error storing upload",
			"document_id", docID, "path", objectPath, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	file, err := srv.Lifecycle.AttachFile(r.Context(), lifecycle.AttachFileRequest{
		DocumentID:       docID,
		FilePath:         objectPath,
		OriginalFileName: filename,
		Actor:            actorEmail(r),
	})
	if err != nil {
		if delErr := srv.Store.Delete(r.Context(), objectPath); delErr != nil {
			srv.Logger.Error("error removing orphaned upload",
				"path", objectPath, "error", delErr)
		}
		srv.Logger.Error("error attaching file", "document_id", docID, "error", err)
		respondLifecycleError(w, err)
		return
	}

	if err := respondJSON(w, http.StatusCreated, file); err != nil {
		srv.Logger.Error("error encoding file response", "error", err)
	}
}

// FilesHandler handles /api/v2/files/rescan (bulk) and
// /api/v2/files/{id}/{download,rescan}.
func FilesHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v2/files/"), "/") == "rescan" {
			bulkRescan(srv, w, r)
			return
		}

		id, action, err := parseResourcePath(r.URL.Path, "files")
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		switch {
		case action == "download" && r.Method == http.MethodGet:
			downloadFile(srv, w, r, id)
		case action == "rescan" && r.Method == http.MethodPost:
			rescanFile(srv, w, r, id)
		case action == "" && r.Method == http.MethodGet:
			getFile(srv, w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func getFile(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	file, err := models.GetDocumentFile(srv.DB.WithContext(r.Context()), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		srv.Logger.Error("error getting file", "file_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := respondJSON(w, http.StatusOK, file); err != nil {
		srv.Logger.Error("error encoding file response", "error", err)
	}
}

// downloadFile is the safety gate: only a file with a safe verdict is
// downloadable. Unresolved scans get 409, quarantined files get 403.
func downloadFile(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	file, err := models.GetDocumentFile(srv.DB.WithContext(r.Context()), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		srv.Logger.Error("error getting file", "file_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch file.ScanStatus {
	case models.ScanStatusSafe:
		// Eligible.
	case models.ScanStatusBlocked:
		respondError(w, http.StatusForbidden, "file is quarantined")
		return
	default:
		respondError(w, http.StatusConflict,
			fmt.Sprintf("file scan is unresolved (%s)", file.ScanStatus))
		return
	}

	url, err := srv.Store.SignedURL(r.Context(), file.FilePath, downloadURLTTL)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			srv.Logger.Error("safe file has no storage object",
				"file_id", id, "path", file.FilePath)
			respondError(w, http.StatusNotFound, "file object missing")
			return
		}
		srv.Logger.Error("error signing download URL", "file_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := respondJSON(w, http.StatusOK, downloadResponse{
		URL:       url,
		ExpiresAt: time.Now().Add(downloadURLTTL),
	}); err != nil {
		srv.Logger.Error("error encoding download response", "error", err)
	}
}

func rescanFile(srv server.Server, w http.ResponseWriter, r *http.Request, id uint) {
	err := srv.Dispatcher.TriggerRescan(r.Context(), id, actorEmail(r))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, scanpipe.ErrFileNotFound):
		respondError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, scanpipe.ErrInvalidScanState):
		respondError(w, http.StatusConflict, err.Error())
	default:
		srv.Logger.Error("error triggering rescan", "file_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func bulkRescan(srv server.Server, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req BulkRescanRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	eligible, err := srv.Dispatcher.TriggerRescanBulk(r.Context(), req.FileIDs, actorEmail(r))
	if err != nil {
		if errors.Is(err, scanpipe.ErrBatchTooLarge) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		srv.Logger.Error("error in bulk rescan", "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := respondJSON(w, http.StatusAccepted, map[string]int{
		"requested": len(req.FileIDs),
		"eligible":  eligible,
	}); err != nil {
		srv.Logger.Error("error encoding rescan response", "error", err)
	}
}
