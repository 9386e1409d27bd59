package scanworker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/docgate/internal/cmd/base"
	"github.com/hashicorp-forge/docgate/internal/cmd/commands/serve"
	"github.com/hashicorp-forge/docgate/internal/config"
	"github.com/hashicorp-forge/docgate/pkg/audit"
	"github.com/hashicorp-forge/docgate/pkg/database"
	"github.com/hashicorp-forge/docgate/pkg/scanjobs"
	"github.com/hashicorp-forge/docgate/pkg/scanner"
	"github.com/hashicorp-forge/docgate/pkg/scanpipe"
)

type Command struct {
	*base.Command

	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Run the file scan worker"
}

func (c *Command) Help() string {
	return `Usage: docgate scan-worker -config=config.hcl

  Consumes file scan jobs from Kafka, submits the objects to the
  scanning service, and records verdicts. Flagged files are
  quarantined.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("scan-worker", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to the config file",
	)

	return f
}

func (c *Command) Run(args []string) int {
	flags := c.Flags()
	if err := flags.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagConfig == "" {
		c.UI.Error("config flag is required")
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}

	log := c.Log
	log.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	db, err := database.Connect(*cfg.Database, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing database: %v", err))
		return 1
	}

	store, err := serve.BuildObjectStore(cfg.Storage, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing object store: %v", err))
		return 1
	}

	scn, err := scanner.NewHTTPScanner(*cfg.Scanner, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing scanner client: %v", err))
		return 1
	}

	pipeline, err := scanpipe.New(scanpipe.Config{
		DB:       db,
		Store:    store,
		Scanner:  scn,
		Recorder: audit.NewRecorder(db, log),
		Logger:   log,
	})
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing scan pipeline: %v", err))
		return 1
	}

	consumer, err := scanjobs.NewConsumer(scanjobs.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Kafka.Topic,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
		Handler:       pipeline,
		Logger:        log,
	})
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing consumer: %v", err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig)
		consumer.Stop()
		cancel()
	}()

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.UI.Error(fmt.Sprintf("consumer error: %v", err))
		return 1
	}

	return 0
}
