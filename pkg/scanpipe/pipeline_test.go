package scanpipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/docgate/pkg/models"
	"github.com/hashicorp-forge/docgate/pkg/scanjobs"
	"github.com/hashicorp-forge/docgate/pkg/scanner"
	"github.com/hashicorp-forge/docgate/pkg/scanner/mock"
	"github.com/hashicorp-forge/docgate/pkg/storage/local"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))
	return db
}

type pipelineFixture struct {
	db       *gorm.DB
	store    *local.Store
	scanner  *mock.Scanner
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	db := setupTestDB(t)
	store := local.NewWithFs(afero.NewMemMapFs(), "/objects", nil)
	scn := mock.New()

	p, err := New(Config{
		DB:      db,
		Store:   store,
		Scanner: scn,
	})
	require.NoError(t, err)

	return &pipelineFixture{db: db, store: store, scanner: scn, pipeline: p}
}

// seedFile creates a document with one attached file and uploads its
// object.
func (f *pipelineFixture) seedFile(t *testing.T, name string, content []byte) *models.DocumentFile {
	doc := models.Document{
		DocumentNumber: "DRW-00001",
		Version:        "vA",
		Status:         models.StatusDraft,
		Title:          "Fixture",
		DocType:        "DRW",
		CreatedBy:      "alice@example.com",
	}
	require.NoError(t, f.db.Create(&doc).Error)

	path := "docs/" + name
	require.NoError(t, f.store.Put(context.Background(), path, content))

	file := models.DocumentFile{
		DocumentID:       doc.ID,
		FilePath:         path,
		OriginalFileName: name,
		ScanStatus:       models.ScanStatusPending,
	}
	require.NoError(t, f.db.Create(&file).Error)
	return &file
}

func (f *pipelineFixture) fileStatus(t *testing.T, id uint) models.FileScanStatus {
	file, err := models.GetDocumentFile(f.db, id)
	require.NoError(t, err)
	return file.ScanStatus
}

func TestBeginScan(t *testing.T) {
	ctx := context.Background()

	t.Run("moves pending file to scanning", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "drawing.pdf", []byte("content"))

		require.NoError(t, f.pipeline.BeginScan(ctx, file.ID))
		assert.Equal(t, models.ScanStatusScanning, f.fileStatus(t, file.ID))
	})

	t.Run("second begin for the same file loses", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "drawing.pdf", []byte("content"))

		require.NoError(t, f.pipeline.BeginScan(ctx, file.ID))

		err := f.pipeline.BeginScan(ctx, file.ID)
		assert.ErrorIs(t, err, ErrInvalidScanState)
	})

	t.Run("settled file is not eligible", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "drawing.pdf", []byte("content"))

		require.NoError(t, f.pipeline.BeginScan(ctx, file.ID))
		require.NoError(t, f.pipeline.RunScan(ctx, file.ID))
		require.Equal(t, models.ScanStatusSafe, f.fileStatus(t, file.ID))

		err := f.pipeline.BeginScan(ctx, file.ID)
		assert.ErrorIs(t, err, ErrInvalidScanState)
	})

	t.Run("missing file", func(t *testing.T) {
		f := newPipelineFixture(t)
		err := f.pipeline.BeginScan(ctx, 9999)
		assert.ErrorIs(t, err, ErrFileNotFound)
	})
}

func TestRunScan(t *testing.T) {
	ctx := context.Background()

	t.Run("clean verdict settles safe", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "drawing.pdf", []byte("content"))

		require.NoError(t, f.pipeline.BeginScan(ctx, file.ID))
		require.NoError(t, f.pipeline.RunScan(ctx, file.ID))

		stored, err := models.GetDocumentFile(f.db, file.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScanStatusSafe, stored.ScanStatus)
		assert.NotNil(t, stored.ScannedAt)

		verdict, err := scanner.UnmarshalVerdict([]byte(stored.ScanResult))
		require.NoError(t, err)
		assert.IsType(t, scanner.Safe{}, verdict)

		// The clean object stays in storage.
		exists, err := f.store.Exists(file.FilePath)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("malicious verdict quarantines the object", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "virus.exe", []byte("malware"))
		f.scanner.SetVerdict("virus.exe", scanner.Blocked{Malicious: 3, Suspicious: 1})

		require.NoError(t, f.pipeline.BeginScan(ctx, file.ID))
		require.NoError(t, f.pipeline.RunScan(ctx, file.ID))

		stored, err := models.GetDocumentFile(f.db, file.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScanStatusBlocked, stored.ScanStatus)

		verdict, err := scanner.UnmarshalVerdict([]byte(stored.ScanResult))
		require.NoError(t, err)
		blocked, ok := verdict.(scanner.Blocked)
		require.True(t, ok)
		assert.Equal(t, 3, blocked.Malicious)

		exists, err := f.store.Exists(file.FilePath)
		require.NoError(t, err)
		assert.False(t, exists, "quarantined object must be deleted")

		// Quarantine is audited.
		count, err := models.CountAuditEntries(f.db, file.DocumentID, models.AuditActionFileQuarantined)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("transport failure retries then settles error", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "flaky.pdf", []byte("content"))
		f.scanner.SetError("flaky.pdf", errors.New("connection reset"))

		require.NoError(t, f.pipeline.BeginScan(ctx, file.ID))
		require.NoError(t, f.pipeline.RunScan(ctx, file.ID))

		assert.Equal(t, models.ScanStatusError, f.fileStatus(t, file.ID))
		assert.Equal(t, 3, f.scanner.ScanCount())

		// The object is retained for a future rescan.
		exists, err := f.store.Exists(file.FilePath)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("missing object settles error without retrying", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "gone.pdf", []byte("content"))
		require.NoError(t, f.store.Delete(ctx, file.FilePath))

		require.NoError(t, f.pipeline.BeginScan(ctx, file.ID))
		require.NoError(t, f.pipeline.RunScan(ctx, file.ID))

		assert.Equal(t, models.ScanStatusError, f.fileStatus(t, file.ID))
		assert.Zero(t, f.scanner.ScanCount())
	})

	t.Run("refuses a file not in scanning", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "drawing.pdf", []byte("content"))

		err := f.pipeline.RunScan(ctx, file.ID)
		assert.ErrorIs(t, err, ErrInvalidScanState)
	})

	t.Run("expired deadline settles error", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "slow.pdf", []byte("content"))
		f.scanner.SetError("slow.pdf", errors.New("timeout"))

		p, err := New(Config{
			DB:          f.db,
			Store:       f.store,
			Scanner:     f.scanner,
			ScanTimeout: time.Nanosecond,
		})
		require.NoError(t, err)

		require.NoError(t, p.BeginScan(ctx, file.ID))
		require.NoError(t, p.RunScan(ctx, file.ID))

		assert.Equal(t, models.ScanStatusError, f.fileStatus(t, file.ID))
	})
}

func TestHandleScanJob(t *testing.T) {
	ctx := context.Background()

	t.Run("processes a job end to end", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "drawing.pdf", []byte("content"))

		err := f.pipeline.HandleScanJob(ctx, scanjobs.ScanJob{
			FileID:     file.ID,
			DocumentID: file.DocumentID,
		})
		require.NoError(t, err)
		assert.Equal(t, models.ScanStatusSafe, f.fileStatus(t, file.ID))
	})

	t.Run("duplicate delivery is absorbed", func(t *testing.T) {
		f := newPipelineFixture(t)
		file := f.seedFile(t, "drawing.pdf", []byte("content"))
		job := scanjobs.ScanJob{FileID: file.ID, DocumentID: file.DocumentID}

		require.NoError(t, f.pipeline.HandleScanJob(ctx, job))
		require.NoError(t, f.pipeline.HandleScanJob(ctx, job))

		assert.Equal(t, 1, f.scanner.ScanCount())
	})

	t.Run("missing file is absorbed", func(t *testing.T) {
		f := newPipelineFixture(t)
		assert.NoError(t, f.pipeline.HandleScanJob(ctx, scanjobs.ScanJob{FileID: 9999}))
	})
}
