package service

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/image-predictor-go/internal/errors"
	"github.com/anime-shed/image-predictor-go/internal/logger"
	"github.com/anime-shed/image-predictor-go/internal/observer"
	"github.com/anime-shed/image-predictor-go/internal/predictor"
	"github.com/anime-shed/image-predictor-go/internal/repository"
	"github.com/anime-shed/image-predictor-go/internal/storage"
	"github.com/anime-shed/image-predictor-go/internal/transform"
	"github.com/anime-shed/image-predictor-go/pkg/models"
)

type requestIDKey struct{}

// WithRequestID attaches a request ID that is copied into emitted events
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID stored by WithRequestID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// PredictionService runs the fetch, transform, predict pipeline
type PredictionService interface {
	Predict(ctx context.Context, req models.PredictRequest) (*models.PredictResponse, error)
	Models() []string
	DefaultModel() string
}

// Options configures a prediction service
type Options struct {
	DefaultModel   string
	PredictTimeout time.Duration
	Events         observer.Subject
}

type predictionService struct {
	imageRepo   repository.ImageRepository
	transformer transform.Transformer
	registry    *predictor.Registry
	opts        Options
}

// NewPredictionService creates a new prediction service
func NewPredictionService(
	imageRepository repository.ImageRepository,
	transformer transform.Transformer,
	registry *predictor.Registry,
	opts Options,
) PredictionService {
	if opts.DefaultModel == "" {
		opts.DefaultModel = "default"
	}
	return &predictionService{
		imageRepo:   imageRepository,
		transformer: transformer,
		registry:    registry,
		opts:        opts,
	}
}

func (s *predictionService) Models() []string {
	return s.registry.Names()
}

func (s *predictionService) DefaultModel() string {
	return s.opts.DefaultModel
}

func (s *predictionService) Predict(ctx context.Context, req models.PredictRequest) (*models.PredictResponse, error) {
	start := time.Now()
	modelName := req.ModelName(s.opts.DefaultModel)

	log := logger.WithFields(logrus.Fields{
		"url":        req.URL,
		"model":      modelName,
		"request_id": RequestIDFrom(ctx),
	})
	log.Info("Received prediction request")
	s.publish(ctx, observer.PredictionEvent{EventType: observer.PredictionStarted, ImageURL: req.URL, Model: modelName})

	resp, err := s.run(ctx, req.URL, modelName)
	if err != nil {
		appErr := toAppError(err)
		log.WithError(appErr).WithField("error_type", appErr.Type).Warn("Prediction request failed")
		s.publish(ctx, observer.PredictionEvent{
			EventType:      observer.PredictionFailed,
			ImageURL:       req.URL,
			Model:          modelName,
			ProcessingTime: time.Since(start),
			ErrorType:      string(appErr.Type),
			ErrorMessage:   appErr.Error(),
		})
		return nil, appErr
	}

	s.publish(ctx, observer.PredictionEvent{
		EventType:      observer.PredictionCompleted,
		ImageURL:       req.URL,
		Model:          modelName,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata:       map[string]interface{}{"category": resp.Category},
	})
	return resp, nil
}

func (s *predictionService) run(ctx context.Context, imageURL, modelName string) (*models.PredictResponse, error) {
	if err := s.imageRepo.ValidateImageURL(imageURL); err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.NewValidationError("invalid image URL", err)
	}

	// Resolve the model before touching the network
	model, err := s.registry.Get(modelName)
	if err != nil {
		return nil, apperrors.NewUnknownModelError("model not registered", err).WithDetails(modelName)
	}

	fetchStart := time.Now()
	obj, err := s.imageRepo.FetchImage(ctx, imageURL)
	if errors.Is(err, repository.ErrEmptyImage) {
		return nil, apperrors.NewDecodeError("fetched resource is not a valid image", err)
	}
	if err != nil {
		s.publish(ctx, observer.PredictionEvent{
			EventType:    observer.ImageFetchFailed,
			ImageURL:     imageURL,
			Model:        modelName,
			ErrorMessage: err.Error(),
		})
		return nil, fetchError(err)
	}
	s.publish(ctx, observer.PredictionEvent{
		EventType:      observer.ImageFetched,
		ImageURL:       imageURL,
		Model:          modelName,
		ProcessingTime: time.Since(fetchStart),
		Success:        true,
		Metadata: map[string]interface{}{
			"content_type": obj.ContentType,
			"bytes":        len(obj.Data),
		},
	})

	tensor, err := s.transformer.Transform(ctx, bytes.NewReader(obj.Data), model.InputSpec())
	if err != nil {
		var decodeErr *transform.DecodeError
		switch {
		case errors.Is(err, transform.ErrTooManyPixels):
			return nil, apperrors.NewDecodeError("image dimensions exceed limit", err)
		case errors.As(err, &decodeErr):
			return nil, apperrors.NewDecodeError("fetched resource is not a valid image", err)
		case isTimeout(err):
			return nil, apperrors.NewTimeoutError("request deadline exceeded during transform", err)
		default:
			return nil, apperrors.NewInternalError("failed to prepare image for model", err)
		}
	}

	predictCtx, cancel := context.WithTimeout(ctx, s.opts.predictTimeout())
	defer cancel()

	prediction, err := model.Predict(predictCtx, tensor)
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.NewTimeoutError("prediction timed out", err)
		}
		return nil, apperrors.NewInferenceError("prediction failed", err)
	}

	return toResponse(prediction, modelName), nil
}

func (o Options) predictTimeout() time.Duration {
	if o.PredictTimeout <= 0 {
		return 20 * time.Second
	}
	return o.PredictTimeout
}

func (s *predictionService) publish(ctx context.Context, event observer.PredictionEvent) {
	if s.opts.Events == nil {
		return
	}
	event.RequestID = RequestIDFrom(ctx)
	s.opts.Events.NotifyObservers(ctx, event)
}

// toResponse converts a prediction into JSON-ready arrays that are never nil
func toResponse(p *predictor.Prediction, modelName string) *models.PredictResponse {
	resp := &models.PredictResponse{
		Category:   make([]int, len(p.Category)),
		Prediction: make([]float32, len(p.Scores)),
		Model:      modelName,
	}
	copy(resp.Category, p.Category)
	copy(resp.Prediction, p.Scores)
	return resp
}

func fetchError(err error) *apperrors.AppError {
	if isTimeout(err) {
		return apperrors.NewTimeoutError("image fetch timed out", err)
	}

	appErr := apperrors.NewFetchError("failed to fetch image", err)
	var upstream *storage.FetchError
	if errors.As(err, &upstream) {
		return appErr.WithDetails("upstream status " + strconv.Itoa(upstream.StatusCode))
	}
	if errors.Is(err, storage.ErrImageTooLarge) {
		return appErr.WithDetails("image exceeds size limit")
	}
	return appErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	return apperrors.NewInternalError("unexpected error", err)
}
