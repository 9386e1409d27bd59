package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/docgate/pkg/docver"
	"github.com/hashicorp-forge/docgate/pkg/models"
	"github.com/hashicorp-forge/docgate/pkg/scanjobs"
)

// fakeEnqueuer captures enqueued scan jobs in memory.
type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []scanjobs.ScanJob
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job scanjobs.ScanJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))
	return db
}

func newTestService(t *testing.T) (*Service, *fakeEnqueuer, *gorm.DB) {
	db := setupTestDB(t)
	enq := &fakeEnqueuer{}
	svc, err := New(Config{DB: db, Enqueuer: enq})
	require.NoError(t, err)
	return svc, enq, db
}

func createDraft(t *testing.T, svc *Service, approvers ...string) *models.Document {
	doc, err := svc.CreateDocument(context.Background(), CreateDocumentRequest{
		Title:     "Mixing Vessel Assembly",
		DocType:   "DRW",
		CreatedBy: "alice@example.com",
		Approvers: approvers,
	})
	require.NoError(t, err)
	return doc
}

func TestCreateDocument(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	t.Run("mints sequential numbers per type", func(t *testing.T) {
		first := createDraft(t, svc)
		second := createDraft(t, svc)

		assert.Equal(t, "DRW-00001", first.DocumentNumber)
		assert.Equal(t, "DRW-00002", second.DocumentNumber)
		assert.Equal(t, "vA", first.Version)
		assert.Equal(t, models.StatusDraft, first.Status)

		spec, err := svc.CreateDocument(ctx, CreateDocumentRequest{
			Title:     "Vessel Spec",
			DocType:   "SPEC",
			CreatedBy: "alice@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "SPEC-00001", spec.DocumentNumber)
	})

	t.Run("production documents start at v1", func(t *testing.T) {
		doc, err := svc.CreateDocument(ctx, CreateDocumentRequest{
			Title:        "Released Procedure",
			DocType:      "SOP",
			IsProduction: true,
			CreatedBy:    "alice@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "v1", doc.Version)
	})

	t.Run("creates approvers with the document", func(t *testing.T) {
		doc := createDraft(t, svc, "bob@example.com", "carol@example.com")

		count, err := models.CountApprovers(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("writes a creation audit entry", func(t *testing.T) {
		doc := createDraft(t, svc)

		entries, err := models.GetAuditEntries(db, doc.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.AuditActionDocumentCreated, entries[0].Action)
		assert.Equal(t, "alice@example.com", entries[0].Actor)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		_, err := svc.CreateDocument(ctx, CreateDocumentRequest{DocType: "DRW", CreatedBy: "x"})
		assert.Error(t, err)
	})
}

func TestSubmitForApproval(t *testing.T) {
	ctx := context.Background()

	t.Run("moves draft with approvers to in_approval", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc, "bob@example.com")

		result, err := svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, result.NoFiles)

		updated, err := models.GetDocument(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInApproval, updated.Status)
	})

	t.Run("rejects submission without approvers", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		doc := createDraft(t, svc)

		_, err := svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		assert.ErrorIs(t, err, ErrNoApproversConfigured)
	})

	t.Run("rejects submission when not draft", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		doc := createDraft(t, svc, "bob@example.com")

		_, err := svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		require.NoError(t, err)

		_, err = svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		assert.ErrorIs(t, err, ErrNotInDraft)
	})

	t.Run("unknown document", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.SubmitForApproval(ctx, 9999, "alice@example.com")
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("files with unresolved scans do not block submission", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		doc := createDraft(t, svc, "bob@example.com")

		_, err := svc.AttachFile(ctx, AttachFileRequest{
			DocumentID:       doc.ID,
			FilePath:         "tenants/acme/docs/1/drawing.pdf",
			OriginalFileName: "drawing.pdf",
			Actor:            "alice@example.com",
		})
		require.NoError(t, err)

		result, err := svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		require.NoError(t, err)
		assert.False(t, result.NoFiles)
	})
}

func TestApprovalFlow(t *testing.T) {
	ctx := context.Background()

	submit := func(t *testing.T, svc *Service, db *gorm.DB, approverEmails ...string) (*models.Document, []models.DocumentApprover) {
		doc := createDraft(t, svc, approverEmails...)
		_, err := svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		require.NoError(t, err)
		approvers, err := models.GetApprovers(db, doc.ID)
		require.NoError(t, err)
		return doc, approvers
	}

	t.Run("partial approval stays in_approval", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc, approvers := submit(t, svc, db, "bob@example.com", "carol@example.com")

		result, err := svc.Approve(ctx, doc.ID, approvers[0].ID, "bob@example.com")
		require.NoError(t, err)
		assert.False(t, result.Released)
		assert.Equal(t, int64(1), result.Remaining)

		updated, err := models.GetDocument(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInApproval, updated.Status)
	})

	t.Run("final approval releases", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc, approvers := submit(t, svc, db, "bob@example.com", "carol@example.com")

		_, err := svc.Approve(ctx, doc.ID, approvers[0].ID, "bob@example.com")
		require.NoError(t, err)

		result, err := svc.Approve(ctx, doc.ID, approvers[1].ID, "carol@example.com")
		require.NoError(t, err)
		assert.True(t, result.Released)
		require.NotNil(t, result.SafetyState)
		assert.True(t, result.SafetyState.AllSafe)

		updated, err := models.GetDocument(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReleased, updated.Status)
		require.NotNil(t, updated.ReleasedBy)
		assert.Equal(t, "carol@example.com", *updated.ReleasedBy)
		assert.NotNil(t, updated.ReleasedAt)
	})

	t.Run("double approval by same approver", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc, approvers := submit(t, svc, db, "bob@example.com", "carol@example.com")

		_, err := svc.Approve(ctx, doc.ID, approvers[0].ID, "bob@example.com")
		require.NoError(t, err)

		_, err = svc.Approve(ctx, doc.ID, approvers[0].ID, "bob@example.com")
		assert.ErrorIs(t, err, ErrAlreadyDecided)
	})

	t.Run("approver from another document", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc, _ := submit(t, svc, db, "bob@example.com")
		_, otherApprovers := submit(t, svc, db, "dave@example.com")

		_, err := svc.Approve(ctx, doc.ID, otherApprovers[0].ID, "dave@example.com")
		assert.ErrorIs(t, err, ErrApproverNotFound)
	})

	t.Run("rejection returns document to draft", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc, approvers := submit(t, svc, db, "bob@example.com", "carol@example.com")

		_, err := svc.Approve(ctx, doc.ID, approvers[0].ID, "bob@example.com")
		require.NoError(t, err)

		err = svc.Reject(ctx, doc.ID, approvers[1].ID, "carol@example.com", "tolerance stack-up wrong")
		require.NoError(t, err)

		updated, err := models.GetDocument(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDraft, updated.Status)
	})

	t.Run("resubmission after rejection resets decisions", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc, approvers := submit(t, svc, db, "bob@example.com", "carol@example.com")

		_, err := svc.Approve(ctx, doc.ID, approvers[0].ID, "bob@example.com")
		require.NoError(t, err)
		require.NoError(t, svc.Reject(ctx, doc.ID, approvers[1].ID, "carol@example.com", "wrong rev"))

		_, err = svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		require.NoError(t, err)

		// Bob's earlier approval must not carry over.
		result, err := svc.Approve(ctx, doc.ID, approvers[1].ID, "carol@example.com")
		require.NoError(t, err)
		assert.False(t, result.Released)
		assert.Equal(t, int64(1), result.Remaining)

		result, err = svc.Approve(ctx, doc.ID, approvers[0].ID, "bob@example.com")
		require.NoError(t, err)
		assert.True(t, result.Released)
	})

	t.Run("approve outside in_approval", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		doc := createDraft(t, svc, "bob@example.com")

		_, err := svc.Approve(ctx, doc.ID, 1, "bob@example.com")
		assert.ErrorIs(t, err, ErrNotInApproval)
	})
}

func TestObsolete(t *testing.T) {
	ctx := context.Background()

	release := func(t *testing.T, svc *Service, db *gorm.DB) *models.Document {
		doc := createDraft(t, svc, "bob@example.com")
		_, err := svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		require.NoError(t, err)
		approvers, err := models.GetApprovers(db, doc.ID)
		require.NoError(t, err)
		_, err = svc.Approve(ctx, doc.ID, approvers[0].ID, "bob@example.com")
		require.NoError(t, err)
		return doc
	}

	t.Run("released document can be obsoleted", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := release(t, svc, db)

		require.NoError(t, svc.Obsolete(ctx, doc.ID, "alice@example.com"))

		updated, err := models.GetDocument(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusObsolete, updated.Status)
	})

	t.Run("obsolete is terminal", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := release(t, svc, db)
		require.NoError(t, svc.Obsolete(ctx, doc.ID, "alice@example.com"))

		err := svc.Obsolete(ctx, doc.ID, "alice@example.com")
		assert.ErrorIs(t, err, ErrAlreadyTerminal)
	})

	t.Run("draft cannot be obsoleted", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		doc := createDraft(t, svc)

		err := svc.Obsolete(ctx, doc.ID, "alice@example.com")
		assert.ErrorIs(t, err, ErrNotReleased)
	})
}

func TestCreateNewVersion(t *testing.T) {
	ctx := context.Background()

	release := func(t *testing.T, svc *Service, db *gorm.DB, doc *models.Document) {
		_, err := svc.SubmitForApproval(ctx, doc.ID, "alice@example.com")
		require.NoError(t, err)
		approvers, err := models.GetApprovers(db, doc.ID)
		require.NoError(t, err)
		for _, a := range approvers {
			_, err = svc.Approve(ctx, doc.ID, a.ID, a.UserEmail)
			require.NoError(t, err)
		}
	}

	t.Run("prototype advances to next letter", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc, "bob@example.com")
		release(t, svc, db, doc)

		next, err := svc.CreateNewVersion(ctx, doc.ID, "alice@example.com", false)
		require.NoError(t, err)
		assert.Equal(t, "vB", next.Version)
		assert.Equal(t, doc.DocumentNumber, next.DocumentNumber)
		assert.Equal(t, models.StatusDraft, next.Status)
		assert.Equal(t, doc.Title, next.Title)
		assert.False(t, next.IsProduction)
	})

	t.Run("promotion starts production line at v1", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc, "bob@example.com")
		release(t, svc, db, doc)

		next, err := svc.CreateNewVersion(ctx, doc.ID, "alice@example.com", true)
		require.NoError(t, err)
		assert.Equal(t, "v1", next.Version)
		assert.True(t, next.IsProduction)

		// Promoted draft has no approvers yet.
		_, err = svc.AddApprover(ctx, next.ID, "bob@example.com", "alice@example.com")
		require.NoError(t, err)
		release(t, svc, db, next)

		v2, err := svc.CreateNewVersion(ctx, next.ID, "alice@example.com", false)
		require.NoError(t, err)
		assert.Equal(t, "v2", v2.Version)
	})

	t.Run("refuses while work in progress exists", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc, "bob@example.com")
		release(t, svc, db, doc)

		_, err := svc.CreateNewVersion(ctx, doc.ID, "alice@example.com", false)
		require.NoError(t, err)

		_, err = svc.CreateNewVersion(ctx, doc.ID, "alice@example.com", false)
		assert.ErrorIs(t, err, ErrWorkInProgressExists)
	})

	t.Run("refuses for non-released document", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		doc := createDraft(t, svc)

		_, err := svc.CreateNewVersion(ctx, doc.ID, "alice@example.com", false)
		assert.ErrorIs(t, err, ErrNotReleased)
	})

	t.Run("version uniqueness is enforced by the schema", func(t *testing.T) {
		_, _, db := newTestService(t)

		first := models.Document{
			DocumentNumber: "DRW-00042",
			Version:        docver.Initial(false).String(),
			Status:         models.StatusReleased,
			Title:          "t",
			DocType:        "DRW",
			CreatedBy:      "alice@example.com",
		}
		require.NoError(t, db.Create(&first).Error)

		dup := first
		dup.ID = 0
		assert.Error(t, db.Create(&dup).Error)
	})
}

func TestAttachFile(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending file and enqueues scan", func(t *testing.T) {
		svc, enq, db := newTestService(t)
		doc := createDraft(t, svc)

		file, err := svc.AttachFile(ctx, AttachFileRequest{
			DocumentID:       doc.ID,
			FilePath:         "tenants/acme/docs/1/drawing.pdf",
			OriginalFileName: "drawing.pdf",
			Actor:            "alice@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, models.ScanStatusPending, file.ScanStatus)

		require.Equal(t, 1, enq.count())
		assert.Equal(t, file.ID, enq.jobs[0].FileID)
		assert.Equal(t, doc.ID, enq.jobs[0].DocumentID)

		entries, err := models.GetAuditEntries(db, doc.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
	})

	t.Run("enqueue failure leaves the file pending", func(t *testing.T) {
		svc, enq, db := newTestService(t)
		enq.err = assert.AnError
		doc := createDraft(t, svc)

		file, err := svc.AttachFile(ctx, AttachFileRequest{
			DocumentID:       doc.ID,
			FilePath:         "tenants/acme/docs/1/drawing.pdf",
			OriginalFileName: "drawing.pdf",
			Actor:            "alice@example.com",
		})
		require.NoError(t, err)

		stored, err := models.GetDocumentFile(db, file.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScanStatusPending, stored.ScanStatus)
	})

	t.Run("refuses on obsolete document", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc)
		require.NoError(t, models.ForceDocumentStatus(db, doc.ID, models.StatusObsolete))

		_, err := svc.AttachFile(ctx, AttachFileRequest{
			DocumentID:       doc.ID,
			FilePath:         "p",
			OriginalFileName: "n",
			Actor:            "alice@example.com",
		})
		assert.ErrorIs(t, err, ErrAlreadyTerminal)
	})
}

func TestForceStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("overrides any transition with an audit entry", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc)

		require.NoError(t, svc.ForceStatus(ctx, doc.ID, models.StatusReleased, "admin@example.com"))

		updated, err := models.GetDocument(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReleased, updated.Status)

		entries, err := models.GetAuditEntries(db, doc.ID)
		require.NoError(t, err)
		var found bool
		for _, e := range entries {
			if e.Action == models.AuditActionAdminStatusOverride {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("refuses released with blocked files", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc)

		file, err := svc.AttachFile(ctx, AttachFileRequest{
			DocumentID:       doc.ID,
			FilePath:         "p",
			OriginalFileName: "virus.exe",
			Actor:            "alice@example.com",
		})
		require.NoError(t, err)

		ok, err := models.MarkFileScanning(db, file.ID)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = models.SetFileScanOutcome(db, file.ID, models.ScanStatusBlocked, nil)
		require.NoError(t, err)
		require.True(t, ok)

		err = svc.ForceStatus(ctx, doc.ID, models.StatusReleased, "admin@example.com")
		assert.ErrorIs(t, err, ErrBlockedFilesPresent)

		// Other overrides still work on the same document.
		assert.NoError(t, svc.ForceStatus(ctx, doc.ID, models.StatusObsolete, "admin@example.com"))
	})

	t.Run("rejects invalid status", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		doc := createDraft(t, svc)

		err := svc.ForceStatus(ctx, doc.ID, models.DocumentStatus("banana"), "admin@example.com")
		assert.Error(t, err)
	})
}

func TestGetDocumentSafetyState(t *testing.T) {
	ctx := context.Background()

	attach := func(t *testing.T, svc *Service, docID uint, name string) *models.DocumentFile {
		file, err := svc.AttachFile(ctx, AttachFileRequest{
			DocumentID:       docID,
			FilePath:         "tenants/acme/docs/" + name,
			OriginalFileName: name,
			Actor:            "alice@example.com",
		})
		require.NoError(t, err)
		return file
	}

	settle := func(t *testing.T, db *gorm.DB, fileID uint, status models.FileScanStatus) {
		ok, err := models.MarkFileScanning(db, fileID)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = models.SetFileScanOutcome(db, fileID, status, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	t.Run("no files is vacuously safe", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		doc := createDraft(t, svc)

		state, err := svc.GetDocumentSafetyState(ctx, doc.ID)
		require.NoError(t, err)
		assert.True(t, state.AllSafe)
		assert.Zero(t, state.PendingCount)
		assert.Zero(t, state.BlockedCount)
	})

	t.Run("pending and errored files count as unresolved", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc)

		attach(t, svc, doc.ID, "pending.pdf")
		errored := attach(t, svc, doc.ID, "flaky.pdf")
		settle(t, db, errored.ID, models.ScanStatusError)
		safe := attach(t, svc, doc.ID, "clean.pdf")
		settle(t, db, safe.ID, models.ScanStatusSafe)

		state, err := svc.GetDocumentSafetyState(ctx, doc.ID)
		require.NoError(t, err)
		assert.False(t, state.AllSafe)
		assert.Equal(t, int64(2), state.PendingCount)
		assert.Zero(t, state.BlockedCount)
	})

	t.Run("blocked file flips the state", func(t *testing.T) {
		svc, _, db := newTestService(t)
		doc := createDraft(t, svc)

		blocked := attach(t, svc, doc.ID, "virus.exe")
		settle(t, db, blocked.ID, models.ScanStatusBlocked)

		state, err := svc.GetDocumentSafetyState(ctx, doc.ID)
		require.NoError(t, err)
		assert.False(t, state.AllSafe)
		assert.Equal(t, int64(1), state.BlockedCount)
	})
}
