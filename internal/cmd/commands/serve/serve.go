package serve

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	apiv2 "github.com/hashicorp-forge/docgate/internal/api/v2"
	"github.com/hashicorp-forge/docgate/internal/cmd/base"
	"github.com/hashicorp-forge/docgate/internal/config"
	"github.com/hashicorp-forge/docgate/internal/server"
	"github.com/hashicorp-forge/docgate/pkg/audit"
	"github.com/hashicorp-forge/docgate/pkg/database"
	"github.com/hashicorp-forge/docgate/pkg/lifecycle"
	"github.com/hashicorp-forge/docgate/pkg/scanjobs"
	"github.com/hashicorp-forge/docgate/pkg/scanpipe"
	"github.com/hashicorp-forge/docgate/pkg/storage"
	"github.com/hashicorp-forge/docgate/pkg/storage/local"
	s3store "github.com/hashicorp-forge/docgate/pkg/storage/s3"
)

type Command struct {
	*base.Command

	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Run the API server"
}

func (c *Command) Help() string {
	return `Usage: docgate serve -config=config.hcl

  Runs the docgate API server.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("serve", flag.ExitOnError))

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

	store, err := BuildObjectStore(cfg.Storage, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing object store: %v", err))
		return 1
	}

	publisher, err := scanjobs.NewPublisher(scanjobs.PublisherConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	}, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing scan job publisher: %v", err))
		return 1
	}
	defer publisher.Close()

	recorder := audit.NewRecorder(db, log)

	svc, err := lifecycle.New(lifecycle.Config{
		DB:       db,
		Recorder: recorder,
		Enqueuer: publisher,
		Logger:   log,
	})
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing lifecycle service: %v", err))
		return 1
	}

	srv := server.Server{
		Config:     cfg,
		DB:         db,
		Lifecycle:  svc,
		Dispatcher: scanpipe.NewDispatcher(db, publisher, recorder, log),
		Store:      store,
		Logger:     log,
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v2/documents", apiv2.DocumentsHandler(srv))
	mux.Handle("/api/v2/documents/", apiv2.DocumentHandler(srv))
	mux.Handle("/api/v2/files/", apiv2.FilesHandler(srv))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			log.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting API server", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		c.UI.Error(fmt.Sprintf("server error: %v", err))
		return 1
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		c.UI.Error(fmt.Sprintf("error during shutdown: %v", err))
		return 1
	}

	return 0
}

// BuildObjectStore creates the configured object store backend. Shared
// with the scan worker command.
func BuildObjectStore(cfg *config.StorageConfig, log hclog.Logger) (storage.ObjectStore, error) {
	switch cfg.Provider {
	case "s3":
		return s3store.New(cfg.S3, log)
	case "local":
		return local.New(cfg.LocalDir, log)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %q", cfg.Provider)
	}
}
