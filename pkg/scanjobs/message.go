// Package scanjobs moves file-scan jobs through Kafka/Redpanda with
// at-least-once delivery.
//
// Duplicate delivery is expected and harmless: the pipeline's guarded
// begin-scan transition makes the second delivery of a job a no-op.
package scanjobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// EventFileScanRequested is the event name carried by scan job envelopes.
const EventFileScanRequested = "file.scan-requested"

// ScanJob identifies one file to scan.
type ScanJob struct {
	FileID      uint   `json:"file_id" mapstructure:"file_id"`
	DocumentID  uint   `json:"document_id" mapstructure:"document_id"`
	TriggeredBy string `json:"triggered_by" mapstructure:"triggered_by"`
}

// Envelope is the wire form of a queued job.
type Envelope struct {
	Event      string                 `json:"event"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// Enqueuer submits scan jobs for asynchronous processing. The dispatcher
// depends on this interface rather than on Kafka directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, job ScanJob) error
}

// EncodeJob wraps a job in an envelope and serializes it.
func EncodeJob(job ScanJob) ([]byte, error) {
	payload := map[string]interface{}{
		"file_id":      job.FileID,
		"document_id":  job.DocumentID,
		"triggered_by": job.TriggeredBy,
	}
	return json.Marshal(Envelope{
		Event:      EventFileScanRequested,
		EnqueuedAt: time.Now(),
		Payload:    payload,
	})
}

// DecodeJob parses an envelope and extracts the scan job payload.
func DecodeJob(data []byte) (ScanJob, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ScanJob{}, fmt.Errorf("failed to unmarshal job envelope: %w", err)
	}
	if env.Event != EventFileScanRequested {
		return ScanJob{}, fmt.Errorf("unexpected event %q", env.Event)
	}

	var job ScanJob
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &job,
		WeaklyTypedInput: true, // JSON numbers arrive as float64
	})
	if err != nil {
		return ScanJob{}, fmt.Errorf("failed to create payload decoder: %w", err)
	}
	if err := decoder.Decode(env.Payload); err != nil {
		return ScanJob{}, fmt.Errorf("failed to decode job payload: %w", err)
	}
	if job.FileID == 0 {
		return ScanJob{}, fmt.Errorf("job payload missing file_id")
	}
	return job, nil
}
