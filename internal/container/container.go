package container

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/anime-shed/image-predictor-go/internal/config"
	"github.com/anime-shed/image-predictor-go/internal/factory"
	"github.com/anime-shed/image-predictor-go/internal/logger"
	"github.com/anime-shed/image-predictor-go/internal/observer"
	"github.com/anime-shed/image-predictor-go/internal/predictor"
	"github.com/anime-shed/image-predictor-go/internal/repository"
	"github.com/anime-shed/image-predictor-go/internal/service"
	"github.com/anime-shed/image-predictor-go/internal/transform"
	"github.com/anime-shed/image-predictor-go/internal/transport"
	"github.com/anime-shed/image-predictor-go/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config            *config.Config
	sources           factory.SourceFactory
	registry          *predictor.Registry
	transformer       transform.Transformer
	events            *observer.EventPublisher
	metrics           *observer.MetricsObserver
	imageRepository   repository.ImageRepository
	predictionService service.PredictionService
	handler           http.Handler
}

// NewContainer loads the model manifest named by cfg and builds the dependency graph
func NewContainer(cfg *config.Config) (*Container, error) {
	registry, err := loadRegistry(cfg.ModelsConfig)
	if err != nil {
		return nil, err
	}

	c, err := NewContainerWithRegistry(cfg, registry)
	if err != nil {
		registry.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithRegistry builds the dependency graph around an existing registry
func NewContainerWithRegistry(cfg *config.Config, registry *predictor.Registry) (*Container, error) {
	sources := factory.NewSourceFactory(cfg)
	imageFetcher, err := sources.CreateFetcher(factory.AutoSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create image fetcher: %w", err)
	}

	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	transformer := transform.NewTransformerWithMaxPixels(cfg.MaxImagePixels)
	validator := validation.NewURLValidatorWithOptions(cfg.AllowedURLSchemes, cfg.AllowedHosts)
	imageRepository := repository.NewURLImageRepository(imageFetcher, validator)
	predictionService := service.NewPredictionService(imageRepository, transformer, registry, service.Options{
		DefaultModel:   cfg.DefaultModel,
		PredictTimeout: cfg.PredictTimeout,
		Events:         events,
	})

	if len(registry.Names()) == 0 {
		logger.Warn("No models registered; every prediction will fail with unknown model")
	}

	return &Container{
		config:            cfg,
		sources:           sources,
		registry:          registry,
		transformer:       transformer,
		events:            events,
		metrics:           metrics,
		imageRepository:   imageRepository,
		predictionService: predictionService,
		handler:           transport.NewHandler(predictionService, metrics, cfg),
	}, nil
}

func loadRegistry(path string) (*predictor.Registry, error) {
	registry, err := predictor.LoadRegistry(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.WithField("path", path).Warn("Model manifest not found, starting without models")
		return predictor.NewRegistry()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	logger.WithField("models", registry.Names()).Info("Models loaded")
	return registry, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// PredictionService returns the URL backed prediction service
func (c *Container) PredictionService() service.PredictionService {
	return c.predictionService
}

// LocalPredictionService returns a prediction service that reads image names
// from the configured data directory instead of fetching URLs
func (c *Container) LocalPredictionService() (service.PredictionService, error) {
	fetcher, err := c.sources.CreateFetcher(factory.LocalSource)
	if err != nil {
		return nil, err
	}
	return service.NewPredictionService(repository.NewLocalImageRepository(fetcher), c.transformer, c.registry, service.Options{
		DefaultModel:   c.config.DefaultModel,
		PredictTimeout: c.config.PredictTimeout,
		Events:         c.events,
	}), nil
}

// Close waits for pending events, then releases the loaded models and the ONNX runtime
func (c *Container) Close() error {
	c.events.Wait()
	return errors.Join(c.registry.Close(), predictor.DestroyONNXEnvironment())
}
