package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/anime-shed/image-predictor-go/internal/config"
	"github.com/anime-shed/image-predictor-go/internal/container"
	apperrors "github.com/anime-shed/image-predictor-go/internal/errors"
	"github.com/anime-shed/image-predictor-go/internal/logger"
	"github.com/anime-shed/image-predictor-go/internal/service"
	"github.com/anime-shed/image-predictor-go/pkg/models"
)

func main() {
	imageURL := flag.String("url", "", "image URL to classify")
	fileName := flag.String("file", "", "image file name under the data directory")
	modelName := flag.String("model", "", "model name (defaults to DEFAULT_MODEL)")
	manifest := flag.String("models", "", "model manifest path (defaults to MODELS_CONFIG)")
	dataDir := flag.String("data-dir", "", "image data directory (defaults to IMAGE_DATA_DIR)")
	flag.Parse()

	if (*imageURL == "") == (*fileName == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -url or -file is required")
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(*imageURL, *fileName, *modelName, *manifest, *dataDir))
}

func run(imageURL, fileName, modelName, manifest, dataDir string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	// Keep stdout for the JSON result
	logger.Logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.LogLevel)

	if manifest != "" {
		cfg.ModelsConfig = manifest
	}
	if dataDir != "" {
		cfg.ImageDataDir = dataDir
	}

	c, err := container.NewContainer(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize container")
		return 1
	}
	// Close drains pending event logs before the process exits
	defer func() {
		if err := c.Close(); err != nil {
			logger.WithError(err).Error("Failed to release models")
		}
	}()

	svc := c.PredictionService()
	locator := imageURL
	if fileName != "" {
		if svc, err = c.LocalPredictionService(); err != nil {
			logger.WithError(err).Error("Failed to open data directory")
			return 1
		}
		locator = fileName
	}

	req := models.PredictRequest{URL: locator}
	if modelName != "" {
		req.Model = models.ModelRef(modelName)
	}
	return classify(svc, req, cfg.RequestTimeout, os.Stdout)
}

// classify runs one prediction and writes the response, or the error body,
// as JSON to out. It returns the process exit code.
func classify(svc service.PredictionService, req models.PredictRequest, timeout time.Duration, out io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	enc := json.NewEncoder(out)
	resp, err := svc.Predict(ctx, req)
	if err != nil {
		body := models.ErrorResponse{Error: err.Error()}
		if appErr, ok := apperrors.As(err); ok {
			body.Error = http.StatusText(appErr.StatusCode)
			body.Type = string(appErr.Type)
			body.Message = appErr.Message
			if appErr.Details != "" {
				body.Message += ": " + appErr.Details
			}
		}
		if err := enc.Encode(body); err != nil {
			logger.WithError(err).Error("Failed to write error")
		}
		return 1
	}

	if err := enc.Encode(resp); err != nil {
		logger.WithError(err).Error("Failed to write result")
		return 1
	}
	return 0
}
