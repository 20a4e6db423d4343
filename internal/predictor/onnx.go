package predictor

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/anime-shed/image-predictor-go/internal/transform"
)

var (
	envOnce sync.Once
	envErr  error
)

// InitONNXEnvironment initializes ONNX Runtime once per process
func InitONNXEnvironment(sharedLibrary string) error {
	envOnce.Do(func() {
		if sharedLibrary != "" {
			ort.SetSharedLibraryPath(sharedLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return envErr
}

// DestroyONNXEnvironment releases ONNX Runtime after all models are closed
func DestroyONNXEnvironment() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXModel runs one ONNX graph with preallocated input and output tensors.
// The tensors are shared, so runs are serialized.
type ONNXModel struct {
	spec ModelSpec

	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXModel opens spec.Path. InitONNXEnvironment must have succeeded.
func NewONNXModel(spec ModelSpec) (*ONNXModel, error) {
	input, err := spec.Input.Normalize()
	if err != nil {
		return nil, err
	}
	spec.Input = input

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(input.Shape()...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(spec.NumClasses)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(spec.Path,
		[]string{spec.InputName}, []string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{
		spec:         spec,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (m *ONNXModel) Name() string {
	return m.spec.Name
}

func (m *ONNXModel) InputSpec() transform.InputSpec {
	return m.spec.Input
}

func (m *ONNXModel) Predict(ctx context.Context, input *transform.Tensor) (*Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, fmt.Errorf("model %q is closed", m.spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := m.inputTensor.GetData()
	if len(input.Data) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(input.Data))
	}
	copy(dst, input.Data)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return Postprocess(m.outputTensor.GetData(), m.spec.NumClasses, m.spec.Softmax)
}

func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inputTensor != nil {
		m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		return err
	}
	return nil
}
