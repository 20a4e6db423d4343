package predictor

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/anime-shed/image-predictor-go/internal/transform"
)

// Manifest lists the models to load at startup
type Manifest struct {
	SharedLibrary string      `yaml:"shared_library"`
	Models        []ModelSpec `yaml:"models"`
}

// ModelSpec describes one ONNX model file and how to feed it
type ModelSpec struct {
	Name       string              `yaml:"name"`
	Path       string              `yaml:"path"`
	InputName  string              `yaml:"input_name"`
	OutputName string              `yaml:"output_name"`
	NumClasses int                 `yaml:"num_classes"`
	Softmax    bool                `yaml:"softmax"`
	Input      transform.InputSpec `yaml:"input"`
}

// ParseManifest decodes and validates a manifest. Relative model paths are
// resolved against baseDir.
func ParseManifest(data []byte, baseDir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Models))
	for i := range m.Models {
		spec := &m.Models[i]
		if spec.Name == "" {
			return nil, fmt.Errorf("model #%d: name is required", i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("model %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = true

		if spec.Path == "" {
			return nil, fmt.Errorf("model %q: path is required", spec.Name)
		}
		if !filepath.IsAbs(spec.Path) {
			spec.Path = filepath.Join(baseDir, spec.Path)
		}
		if spec.InputName == "" {
			spec.InputName = "input"
		}
		if spec.OutputName == "" {
			spec.OutputName = "output"
		}
		if spec.NumClasses <= 0 {
			return nil, fmt.Errorf("model %q: num_classes must be > 0", spec.Name)
		}

		input, err := spec.Input.Normalize()
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", spec.Name, err)
		}
		spec.Input = input
	}
	return &m, nil
}

// ReadManifest loads a manifest file from disk
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model manifest: %w", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

// LoadRegistry opens every model in the manifest at path with ONNX Runtime
func LoadRegistry(path string) (*Registry, error) {
	manifest, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	if len(manifest.Models) == 0 {
		return NewRegistry()
	}

	if err := InitONNXEnvironment(manifest.SharedLibrary); err != nil {
		return nil, err
	}

	registry, _ := NewRegistry()
	for _, spec := range manifest.Models {
		model, err := NewONNXModel(spec)
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("failed to load model %q: %w", spec.Name, err)
		}
		if err := registry.Register(model); err != nil {
			model.Close()
			registry.Close()
			return nil, err
		}
	}
	return registry, nil
}
