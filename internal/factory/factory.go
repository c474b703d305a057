package factory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"go-dimension-detective/internal/config"
	"go-dimension-detective/internal/engine"
	"go-dimension-detective/internal/logger"
	"go-dimension-detective/internal/storage"
	"go-dimension-detective/pkg/validation"
)

// StorageType represents the backends an export artifact can be written to
type StorageType string

const (
	// NoStorage keeps exports in memory only
	NoStorage StorageType = "none"
	// LocalStorage writes exports under a directory
	LocalStorage StorageType = "local"
	// AzureStorage uploads exports to a blob container
	AzureStorage StorageType = "azure"
)

// EngineFactory creates metrics engines
type EngineFactory interface {
	CreateEngine(name string, opts engine.Options) (engine.MetricsEngine, error)
	Engines() []string
}

// StorageFactory creates storage implementations
type StorageFactory interface {
	CreateBlobStorage(cfg *config.Config) (storage.BlobStorage, error)
	CreateArtifactStore(cfg *config.Config, blobs storage.BlobStorage) (storage.ArtifactStore, error)
	CreateImageFetcher(cfg *config.Config) storage.ImageFetcher
}

// engineFactory implements EngineFactory on top of the engine registry
type engineFactory struct {
	registry *engine.Registry
}

// NewEngineFactory creates an engine factory; a nil registry gets the default one
func NewEngineFactory(registry *engine.Registry) EngineFactory {
	if registry == nil {
		registry = engine.NewRegistry()
	}
	return &engineFactory{registry: registry}
}

// CreateEngine creates the engine registered under name
func (f *engineFactory) CreateEngine(name string, opts engine.Options) (engine.MetricsEngine, error) {
	eng, err := f.registry.Create(name, opts)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"engine": eng.Name(), "latency": opts.Latency}).Info("Metrics engine created")
	return eng, nil
}

func (f *engineFactory) Engines() []string {
	return f.registry.Names()
}

// storageFactory implements StorageFactory
type storageFactory struct{}

// NewStorageFactory creates a new storage factory
func NewStorageFactory() StorageFactory {
	return &storageFactory{}
}

// CreateBlobStorage connects to Azure when credentials are configured and
// returns nil otherwise
func (f *storageFactory) CreateBlobStorage(cfg *config.Config) (storage.BlobStorage, error) {
	if !cfg.AzureEnabled() {
		return nil, nil
	}
	blobs, err := storage.NewAzureStorage(cfg.AzureAccount, cfg.AzureKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure storage: %w", err)
	}
	return blobs, nil
}

// CreateArtifactStore picks where exports are persisted. A local directory
// wins over Azure; with neither configured exports are not persisted.
func (f *storageFactory) CreateArtifactStore(cfg *config.Config, blobs storage.BlobStorage) (storage.ArtifactStore, error) {
	switch ArtifactStorageType(cfg, blobs) {
	case LocalStorage:
		store, err := storage.NewLocalArtifactStore(cfg.ArtifactDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case AzureStorage:
		return storage.NewBlobArtifactStore(blobs, cfg.AzureContainer), nil
	default:
		return nil, nil
	}
}

// CreateImageFetcher returns the URL fetcher, or nil when the URL source is
// off. Redirects and dialed addresses are held to the public-host policy.
func (f *storageFactory) CreateImageFetcher(cfg *config.Config) storage.ImageFetcher {
	if !cfg.EnableURLSource {
		return nil
	}
	return storage.NewHTTPImageFetcher(cfg.ImageFetchTimeout, cfg.MaxImageBytes).
		WithPolicy(validation.NewURLValidator())
}

// ArtifactStorageType reports which backend CreateArtifactStore will use
func ArtifactStorageType(cfg *config.Config, blobs storage.BlobStorage) StorageType {
	switch {
	case strings.TrimSpace(cfg.ArtifactDir) != "":
		return LocalStorage
	case blobs != nil && cfg.AzureContainer != "":
		return AzureStorage
	default:
		return NoStorage
	}
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	EngineFactory  EngineFactory
	StorageFactory StorageFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory() *ComponentFactory {
	return &ComponentFactory{
		EngineFactory:  NewEngineFactory(nil),
		StorageFactory: NewStorageFactory(),
	}
}
