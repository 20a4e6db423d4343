package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/image-predictor-go/internal/config"
	"github.com/anime-shed/image-predictor-go/internal/observer"
	"github.com/anime-shed/image-predictor-go/internal/predictor"
	"github.com/anime-shed/image-predictor-go/internal/repository"
	"github.com/anime-shed/image-predictor-go/internal/service"
	"github.com/anime-shed/image-predictor-go/internal/storage"
	"github.com/anime-shed/image-predictor-go/internal/transform"
	"github.com/anime-shed/image-predictor-go/pkg/models"
	"github.com/anime-shed/image-predictor-go/pkg/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type catModel struct{}

func (catModel) Name() string                   { return "default" }
func (catModel) InputSpec() transform.InputSpec { return transform.InputSpec{Width: 2, Height: 2} }
func (catModel) Predict(ctx context.Context, input *transform.Tensor) (*predictor.Prediction, error) {
	return &predictor.Prediction{Category: []int{1}, Scores: []float32{0.1, 0.9}}, nil
}
func (catModel) Close() error { return nil }

type panicService struct{}

func (panicService) Predict(ctx context.Context, req models.PredictRequest) (*models.PredictResponse, error) {
	panic("unexpected")
}
func (panicService) Models() []string     { return nil }
func (panicService) DefaultModel() string { return "default" }

// imageHost serves a PNG at /cat.jpg and 404 everywhere else
func imageHost(t *testing.T) *httptest.Server {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 3, 3))))
	data := buf.Bytes()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cat.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	cfg.ImageFetchTimeout = 2 * time.Second
	return cfg
}

func newTestHandler(t *testing.T) (http.Handler, *observer.MetricsObserver) {
	t.Helper()
	cfg := testConfig(t)

	reg, err := predictor.NewRegistry(catModel{})
	require.NoError(t, err)

	metrics := observer.NewMetricsObserver()
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(metrics)

	repo := repository.NewURLImageRepository(
		storage.NewHTTPImageFetcher(cfg.ImageFetchTimeout, cfg.MaxImageSize),
		validation.NewURLValidator(),
	)
	svc := service.NewPredictionService(repo, transform.NewTransformer(), reg, service.Options{
		DefaultModel:   cfg.DefaultModel,
		PredictTimeout: cfg.PredictTimeout,
		Events:         publisher,
	})
	return NewHandler(svc, metrics, cfg), metrics
}

func doJSON(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPredict_DefaultModelResponse(t *testing.T) {
	h, _ := newTestHandler(t)
	host := imageHost(t)

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"`+host.URL+`/cat.jpg"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"category":[1],"prediction":[0.1,0.9],"model":"default"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPredict_LegacyRootRoute(t *testing.T) {
	h, _ := newTestHandler(t)
	host := imageHost(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := doJSON(h, method, "/", `{"url":"`+host.URL+`/cat.jpg","model":"default"}`)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", method, rec.Body.String())
		assert.JSONEq(t, `{"category":[1],"prediction":[0.1,0.9],"model":"default"}`, rec.Body.String())
	}
}

func TestPredict_UnknownModel(t *testing.T) {
	h, _ := newTestHandler(t)
	host := imageHost(t)

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"`+host.URL+`/cat.jpg","model":"v2"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "unknown_model", body.Type)
	assert.Contains(t, body.Message, "v2")
}

func TestPredict_MalformedRequests(t *testing.T) {
	h, _ := newTestHandler(t)

	bodies := map[string]string{
		"empty object": `{}`,
		"empty body":   ``,
		"invalid json": `{"url":`,
		"blank url":    `{"url":""}`,
		"wrong type":   `{"url":42}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(h, http.MethodPost, "/predict", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation", decodeError(t, rec).Type)
		})
	}
}

func TestPredict_UpstreamNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	host := imageHost(t)

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"`+host.URL+`/missing.jpg"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "fetch", body.Type)
	assert.Contains(t, body.Message, "upstream status 404")
}

func TestPredict_UnreachableHost(t *testing.T) {
	h, _ := newTestHandler(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	addr := dead.URL
	dead.Close()

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"`+addr+`/cat.jpg"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "fetch", decodeError(t, rec).Type)
}

func TestPredict_UnsupportedScheme(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"ftp://example.com/cat.jpg"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "fetch", decodeError(t, rec).Type)
}

func TestPredict_NotAnImage(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"`+srv.URL+`/page.html"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "decode", decodeError(t, rec).Type)
}

func TestPredict_EmptyImageBody(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"`+srv.URL+`/cat.jpg"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "decode", decodeError(t, rec).Type)
}

func TestPredict_OversizedCanvas(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2000, 2000))))
	data := buf.Bytes()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	reg, err := predictor.NewRegistry(catModel{})
	require.NoError(t, err)
	svc := service.NewPredictionService(
		repository.NewURLImageRepository(storage.NewHTTPImageFetcher(2*time.Second, cfg.MaxImageSize), validation.NewURLValidator()),
		transform.NewTransformerWithMaxPixels(1_000_000), reg, service.Options{},
	)
	h := NewHandler(svc, nil, cfg)

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"`+srv.URL+`/huge.png"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "decode", body.Type)
	assert.Contains(t, body.Message, "image dimensions exceed limit")
}

func TestPredict_ExplicitEmptyModel(t *testing.T) {
	h, _ := newTestHandler(t)
	host := imageHost(t)

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"`+host.URL+`/cat.jpg","model":""}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_model", decodeError(t, rec).Type)
}

func TestPredict_BodyTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRequestBodySize = 16
	reg, err := predictor.NewRegistry(catModel{})
	require.NoError(t, err)
	svc := service.NewPredictionService(
		repository.NewURLImageRepository(storage.NewHTTPImageFetcher(time.Second, 1024), validation.NewURLValidator()),
		transform.NewTransformer(), reg, service.Options{},
	)
	h := NewHandler(svc, nil, cfg)

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"http://example.com/a-very-long-path/cat.jpg"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "too large")
}

func TestPredict_RequestIDPropagation(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{}`))
	req.Header.Set("X-Request-ID", "client-supplied")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-supplied", decodeError(t, rec).RequestID)
}

func TestPanicRecovery(t *testing.T) {
	h := NewHandler(panicService{}, nil, testConfig(t))

	rec := doJSON(h, http.MethodPost, "/predict", `{"url":"http://example.com/cat.jpg"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Type)
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(h, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "available", body["status"])
	assert.Equal(t, version, body["version"])
}

func TestListModels(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(h, http.MethodGet, "/models", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"models":["default"],"default":"default"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	h, metrics := newTestHandler(t)
	host := imageHost(t)

	doJSON(h, http.MethodPost, "/predict", `{"url":"`+host.URL+`/cat.jpg"}`)
	assert.Eventually(t, func() bool {
		return metrics.GetMetrics()["successful_predictions"] == int64(1)
	}, time.Second, 5*time.Millisecond)

	rec := doJSON(h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["successful_predictions"])
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
