package scanjobs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// PublisherConfig holds Kafka producer configuration.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// Publisher publishes scan jobs to the file-scan topic.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger hclog.Logger
}

var _ Enqueuer = (*Publisher)(nil)

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(cfg PublisherConfig, logger hclog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "docgate.file-scans"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		// Scan jobs must not be lost
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Publisher{
		client: client,
		topic:  cfg.Topic,
		logger: logger.Named("scanjob-publisher"),
	}, nil
}

// Enqueue implements Enqueuer. The file ID keys the record so retriggers
// of the same file land on the same partition, preserving per-file order.
func (p *Publisher) Enqueue(ctx context.Context, job ScanJob) error {
	value, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("failed to encode scan job: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatUint(uint64(job.FileID), 10)),
		Value: value,
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce scan job: %w", err)
	}

	p.logger.Debug("scan job enqueued",
		"file_id", job.FileID,
		"document_id", job.DocumentID,
		"triggered_by", job.TriggeredBy,
	)
	return nil
}

// Close closes the underlying Kafka client.
func (p *Publisher) Close() {
	p.client.Close()
}
