package models

// PredictRequest is the body of a prediction call. Model is nil when the
// field was omitted.
type PredictRequest struct {
	URL   string  `json:"url" binding:"required"`
	Model *string `json:"model,omitempty"`
}

// ModelName returns the requested model verbatim, or defaultModel when the
// field was omitted
func (r PredictRequest) ModelName(defaultModel string) string {
	if r.Model == nil {
		return defaultModel
	}
	return *r.Model
}

// ModelRef returns a pointer to name for building a PredictRequest
func ModelRef(name string) *string {
	return &name
}

// PredictResponse carries the model output. Category and Prediction are
// always serialized as arrays, never null.
type PredictResponse struct {
	Category   []int     `json:"category"`
	Prediction []float32 `json:"prediction"`
	Model      string    `json:"model"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Type      string `json:"type,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ModelsResponse lists the models a client may request
type ModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}
