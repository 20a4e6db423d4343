package predictor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/anime-shed/image-predictor-go/internal/transform"
)

// ErrUnknownModel is returned when no model is registered under a name
var ErrUnknownModel = errors.New("unknown model")

// Prediction is the raw output of one model run
type Prediction struct {
	Category []int
	Scores   []float32
}

// Model is a named, loaded predictive model variant
type Model interface {
	Name() string
	InputSpec() transform.InputSpec
	Predict(ctx context.Context, input *transform.Tensor) (*Prediction, error)
	Close() error
}

// Registry holds the models available to the service, keyed by name
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

func NewRegistry(models ...Model) (*Registry, error) {
	r := &Registry{models: make(map[string]Model)}
	for _, m := range models {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds m. Names must be unique.
func (r *Registry) Register(m Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := m.Name()
	if name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if _, exists := r.models[name]; exists {
		return fmt.Errorf("model %q already registered", name)
	}
	r.models[name] = m
	return nil
}

// Get looks a model up by name
func (r *Registry) Get(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return m, nil
}

// Names returns the registered model names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every model and empties the registry
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, m := range r.models {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close model %q: %w", name, err))
		}
	}
	r.models = make(map[string]Model)
	return errors.Join(errs...)
}
