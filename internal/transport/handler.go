package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-predictor-go/internal/config"
	apperrors "github.com/anime-shed/image-predictor-go/internal/errors"
	"github.com/anime-shed/image-predictor-go/internal/logger"
	"github.com/anime-shed/image-predictor-go/internal/service"
	"github.com/anime-shed/image-predictor-go/pkg/models"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	version         = "1.0.0"
)

// StatsProvider exposes collected counters for the stats endpoint
type StatsProvider interface {
	GetMetrics() map[string]interface{}
}

func NewHandler(svc service.PredictionService, stats StatsProvider, cfg *config.Config) http.Handler {
	r := gin.New()

	// Add middleware
	r.Use(
		requestID(),
		requestLogger(),
		gin.CustomRecovery(recoverPanic),
		corsMiddleware(cfg.CORSAllowedOrigins),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	predict := predictImage(svc, cfg)

	// Configure routes
	r.GET("/health", healthCheck)
	r.GET("/models", listModels(svc))
	r.GET("/stats", serveStats(stats))
	r.POST("/predict", predict)
	// The root path keeps the historical contract, including JSON bodies on GET
	r.GET("/", predict)
	r.POST("/", predict)

	return r
}

func predictImage(svc service.PredictionService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()
		ctx = service.WithRequestID(ctx, c.GetString(requestIDKey))

		var req models.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewValidationError("invalid request body", bindError(err)))
			return
		}

		resp, err := svc.Predict(ctx, req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func bindError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errors.New("request body too large")
	}
	return err
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func listModels(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.ModelsResponse{
			Models:  svc.Models(),
			Default: svc.DefaultModel(),
		})
	}
}

func serveStats(stats StatsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, stats.GetMetrics())
	}
}

// Middleware and helper functions
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
			"request_id":  c.GetString(requestIDKey),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request completed")
			return
		}
		entry.Info("Request completed")
	}
}

func recoverPanic(c *gin.Context, recovered interface{}) {
	logger.WithField("panic", recovered).WithField("request_id", c.GetString(requestIDKey)).Error("Handler panicked")
	respondError(c, apperrors.NewInternalError("internal server error", nil))
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			respondError(c, c.Errors.Last().Err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := determineStatusCode(err)

	body := models.ErrorResponse{
		Error:     http.StatusText(code),
		Message:   err.Error(),
		RequestID: c.GetString(requestIDKey),
	}
	if appErr, ok := apperrors.As(err); ok {
		body.Type = string(appErr.Type)
		body.Message = appErr.Message
		if appErr.Details != "" {
			body.Message += ": " + appErr.Details
		}
		if appErr.Cause != nil && code < http.StatusInternalServerError {
			body.Message += " (" + appErr.Cause.Error() + ")"
		}
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
		"request_id":  body.RequestID,
	}).Warn("Request failed")

	c.AbortWithStatusJSON(code, body)
}
