package server

import (
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/docgate/internal/config"
	"github.com/hashicorp-forge/docgate/pkg/lifecycle"
	"github.com/hashicorp-forge/docgate/pkg/scanpipe"
	"github.com/hashicorp-forge/docgate/pkg/storage"
)

// Server bundles the dependencies shared by the API handlers.
type Server struct {
	// Config is the config for the server.
	Config *config.Config

	// DB is the database for the server.
	DB *gorm.DB

	// Lifecycle is the document state machine.
	Lifecycle *lifecycle.Service

	// Dispatcher triggers file rescans.
	Dispatcher *scanpipe.Dispatcher

	// Store is the object store holding uploaded files.
	Store storage.ObjectStore

	// Logger is the logger for the server.
	Logger hclog.Logger
}
