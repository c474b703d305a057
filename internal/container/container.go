package container

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"go-dimension-detective/internal/config"
	"go-dimension-detective/internal/controller"
	"go-dimension-detective/internal/engine"
	"go-dimension-detective/internal/export"
	"go-dimension-detective/internal/factory"
	"go-dimension-detective/internal/logger"
	"go-dimension-detective/internal/observer"
	"go-dimension-detective/internal/session"
	"go-dimension-detective/internal/source"
	"go-dimension-detective/internal/storage"
	"go-dimension-detective/internal/transport"
	"go-dimension-detective/pkg/validation"
)

// Version is reported by the health endpoint and the version command
const Version = "1.0.0"

// Container holds all application dependencies
type Container struct {
	config    *config.Config
	engine    engine.MetricsEngine
	pool      *engine.WorkerPool
	publisher *observer.EventPublisher
	metrics   *observer.MetricsObserver
	hub       *observer.Hub
	decoder   *source.Decoder
	blobs     storage.BlobStorage
	exporter  *export.Exporter
	sessions  *session.Registry
	handler   http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	return NewContainerWithFactory(cfg, factory.NewComponentFactory())
}

// NewContainerWithFactory builds the dependency graph with the given factories
func NewContainerWithFactory(cfg *config.Config, f *factory.ComponentFactory) (*Container, error) {
	logger.Configure(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	eng, err := f.EngineFactory.CreateEngine(cfg.Engine, engine.Options{Latency: cfg.StubLatency})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	blobs, err := f.StorageFactory.CreateBlobStorage(cfg)
	if err != nil {
		return nil, err
	}
	artifacts, err := f.StorageFactory.CreateArtifactStore(cfg, blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	pool := engine.NewWorkerPool(cfg.Workers)
	pool.Start()

	metrics := observer.NewMetricsObserver()
	hub := observer.NewHub()
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)
	publisher.Subscribe(hub)

	c := &Container{
		config:    cfg,
		engine:    eng,
		pool:      pool,
		publisher: publisher,
		metrics:   metrics,
		hub:       hub,
		decoder:   source.NewDecoder(cfg.MaxImageBytes, validation.NewImageValidator()),
		blobs:     blobs,
		exporter:  export.NewExporter(artifacts),
	}

	c.sessions = session.NewRegistry(session.Options{
		TTL:            cfg.SessionTTL,
		MaxSessions:    cfg.MaxSessions,
		NewController:  c.NewController,
		Decoder:        c.decoder,
		CaptureEnabled: cfg.CaptureEnabled,
		OnClose:        hub.CloseSession,
		InUse:          func(id string) bool { return hub.Subscribers(id) > 0 },
	})

	deps := transport.Dependencies{
		Config:   cfg,
		Version:  Version,
		Sessions: c.sessions,
		Decoder:  c.decoder,
		Exporter: c.exporter,
		Hub:      hub,
		Metrics:  metrics,
		Pool:     pool,
		Blobs:    blobs,
	}
	if fetcher := f.StorageFactory.CreateImageFetcher(cfg); fetcher != nil {
		deps.Fetcher = fetcher
		deps.URLs = validation.NewURLValidator()
	}
	c.handler = transport.NewHandler(deps)

	logger.WithFields(logrus.Fields{
		"engine":     eng.Name(),
		"workers":    pool.GetStats().Workers,
		"artifacts":  factory.ArtifactStorageType(cfg, blobs),
		"url_source": deps.Fetcher != nil,
		"blob":       blobs != nil,
		"capture":    cfg.CaptureEnabled,
	}).Info("Container initialized")

	return c, nil
}

// NewController builds a controller wired to the shared engine, pool and
// notification publisher
func (c *Container) NewController(sessionID string) *controller.Controller {
	return controller.New(controller.Options{
		SessionID:      sessionID,
		Engine:         c.engine,
		Pool:           c.pool,
		Publisher:      c.publisher,
		ComputeTimeout: c.config.ComputeTimeout,
	})
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Registry returns the session registry
func (c *Container) Registry() *session.Registry {
	return c.sessions
}

// Decoder returns the shared image decoder
func (c *Container) Decoder() *source.Decoder {
	return c.decoder
}

// Exporter returns the image exporter
func (c *Container) Exporter() *export.Exporter {
	return c.exporter
}

// Metrics returns the notification metrics observer
func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}

// Observe subscribes o to every controller notification
func (c *Container) Observe(o observer.Observer) {
	c.publisher.Subscribe(o)
}

// Close tears down every session and stops the worker pool
func (c *Container) Close() {
	c.sessions.CloseAll()
	c.pool.Close()
}
