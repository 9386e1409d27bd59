package scanjobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Handler processes one delivered scan job. Implementations must be
// idempotent: the queue delivers at least once.
type Handler interface {
	HandleScanJob(ctx context.Context, job ScanJob) error
}

// ConsumerConfig holds configuration for the scan job consumer.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string

	// ConsumeFromStart makes new consumer groups start at the earliest
	// offset. Useful for tests.
	ConsumeFromStart bool

	Handler Handler
	Logger  hclog.Logger
}

// Consumer consumes scan jobs and dispatches them to the handler.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  hclog.Logger
	stopCh  chan struct{}
}

// NewConsumer creates a scan job consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "docgate.file-scans"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "docgate-scan-workers"
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	offset := kgo.NewOffset().AtEnd()
	if cfg.ConsumeFromStart {
		offset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(offset),
		kgo.SessionTimeout(10*time.Second),
		kgo.RebalanceTimeout(30*time.Second),

		// Commit manually after successful processing
		kgo.DisableAutoCommit(),

		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Consumer{
		client:  client,
		handler: cfg.Handler,
		logger:  cfg.Logger.Named("scanjob-consumer"),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start runs the polling loop until the context is canceled or Stop is
// called.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting scan job consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("scan job consumer stopped by context")
			return ctx.Err()

		case <-c.stopCh:
			c.logger.Info("scan job consumer stopped")
			return nil

		default:
			fetches := c.client.PollFetches(ctx)

			if errs := fetches.Errors(); len(errs) > 0 {
				for _, err := range errs {
					c.logger.Error("kafka fetch error", "error", err.Err)
				}
				continue
			}

			fetches.EachPartition(func(p kgo.FetchTopicPartition) {
				for _, record := range p.Records {
					if err := c.processRecord(ctx, record); err != nil {
						c.logger.Error("failed to process scan job",
							"partition", record.Partition,
							"offset", record.Offset,
							"error", err,
						)
						// Continue processing other records; the
						// pipeline already settled this file's state.
						continue
					}

					if err := c.client.CommitRecords(ctx, record); err != nil {
						c.logger.Warn("failed to commit Kafka offset",
							"partition", record.Partition,
							"offset", record.Offset,
							"error", err,
						)
					}
				}
			})
		}
	}
}

// processRecord decodes one record and hands it to the handler.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	job, err := DecodeJob(record.Value)
	if err != nil {
		// Malformed records cannot be retried into correctness; log and
		// commit past them.
		c.logger.Error("dropping malformed scan job record",
			"partition", record.Partition,
			"offset", record.Offset,
			"error", err,
		)
		return nil
	}

	c.logger.Debug("processing scan job",
		"file_id", job.FileID,
		"document_id", job.DocumentID,
	)

	return c.handler.HandleScanJob(ctx, job)
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() {
	select {
	case <-c.stopCh:
		// Already stopped
	default:
		close(c.stopCh)
		c.client.Close()
	}
}
