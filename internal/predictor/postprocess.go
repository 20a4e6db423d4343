package predictor

import (
	"fmt"
	"math"
)

// Softmax converts logits into probabilities
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// ArgMax returns the index of the largest score, -1 for an empty slice
func ArgMax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	maxIdx := 0
	for i, v := range scores {
		if v > scores[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

// Postprocess turns raw model output into a Prediction. numClasses > 0 trims
// padded outputs.
func Postprocess(output []float32, numClasses int, applySoftmax bool) (*Prediction, error) {
	if numClasses > 0 {
		if len(output) < numClasses {
			return nil, fmt.Errorf("model produced %d scores, expected %d", len(output), numClasses)
		}
		output = output[:numClasses]
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("model produced no scores")
	}

	scores := make([]float32, len(output))
	copy(scores, output)
	if applySoftmax {
		scores = Softmax(scores)
	}
	for i, v := range scores {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("model produced non-finite score at index %d", i)
		}
	}

	return &Prediction{
		Category: []int{ArgMax(scores)},
		Scores:   scores,
	}, nil
}
