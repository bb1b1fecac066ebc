// Package smoothing computes moving averages over chronologically ordered
// measurement values.
package smoothing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInsufficientHistory is returned when a sequence is shorter than the
// smoothing window.
var ErrInsufficientHistory = errors.New("insufficient history")

// Algorithm names a smoothing scheme.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmSMA         Algorithm = "sma"
	AlgorithmEMA         Algorithm = "ema"
	AlgorithmHoltWinters Algorithm = "holt_winters"
)

// ParseAlgorithm resolves a configured algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case AlgorithmSMA:
		return AlgorithmSMA, nil
	case AlgorithmEMA, "":
		return AlgorithmEMA, nil
	case AlgorithmHoltWinters:
		return AlgorithmHoltWinters, nil
	default:
		return "", fmt.Errorf("unknown smoothing algorithm %q", name)
	}
}

// Smoother turns raw values into a smoothed sequence.
type Smoother interface {
	Smooth(values []float64) ([]float64, error)
}

// New builds the smoother selected by configuration. beta is only used by
// Holt-Winters, where window is the span.
func New(algo Algorithm, window int, beta float64) (Smoother, error) {
	if window <= 0 {
		return nil, fmt.Errorf("smoothing window must be positive, got %d", window)
	}
	switch algo {
	case AlgorithmSMA:
		return SimpleMovingAverage{Window: window}, nil
	case AlgorithmEMA:
		return ExponentialMovingAverage{Window: window}, nil
	case AlgorithmHoltWinters:
		if beta <= 0 || beta > 1 {
			return nil, fmt.Errorf("holt-winters beta must be in (0, 1], got %g", beta)
		}
		return HoltWinters{Span: window, Beta: beta}, nil
	default:
		return nil, fmt.Errorf("unknown smoothing algorithm %q", algo)
	}
}

// SimpleMovingAverage applies uniform 1/Window weights with valid
// convolution semantics: len(out) == len(values) - Window + 1.
type SimpleMovingAverage struct {
	Window int
}

// Smooth implements Smoother.
func (s SimpleMovingAverage) Smooth(values []float64) ([]float64, error) {
	if err := checkWindow(s.Window, len(values)); err != nil {
		return nil, err
	}
	weights := make([]float64, s.Window)
	for i := range weights {
		weights[i] = 1 / float64(s.Window)
	}
	return convolveValid(values, weights), nil
}

// ExponentialMovingAverage weights a window with exp(linspace(-0.5, 0, Window))
// normalised to 1. The newest sample of each window gets the largest weight.
type ExponentialMovingAverage struct {
	Window int
}

// Smooth implements Smoother.
func (e ExponentialMovingAverage) Smooth(values []float64) ([]float64, error) {
	if err := checkWindow(e.Window, len(values)); err != nil {
		return nil, err
	}
	return convolveValid(values, ExponentialWeights(e.Window)), nil
}

// ExponentialWeights returns the normalised EMA kernel, oldest sample first.
func ExponentialWeights(window int) []float64 {
	if window <= 0 {
		return nil
	}
	weights := make([]float64, window)
	sum := 0.0
	for i := range weights {
		weights[i] = math.Exp(linspace(-0.5, 0, window, i))
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// HoltWinters is the second order exponentially weighted moving average.
// It keeps a level and a slope; alpha is derived from Span.
type HoltWinters struct {
	Span int
	Beta float64
}

// Alpha returns the level smoothing factor 2/(1+span).
func (h HoltWinters) Alpha() float64 {
	return 2 / (1 + float64(h.Span))
}

// Smooth implements Smoother. The output has one value per input sample.
func (h HoltWinters) Smooth(values []float64) ([]float64, error) {
	if len(values) == 0 || len(values) < h.Span {
		return nil, fmt.Errorf("%w: %d samples, window %d", ErrInsufficientHistory, len(values), h.Span)
	}

	alpha := h.Alpha()
	level := make([]float64, len(values))
	level[0] = values[0]
	slope := 0.0
	for i := 1; i < len(values); i++ {
		// Incremental form of alpha*x + (1-alpha)*prev; a flat input stays exactly flat.
		prev := level[i-1] + slope
		level[i] = prev + alpha*(values[i]-prev)
		slope += h.Beta * ((level[i] - level[i-1]) - slope)
	}
	return level, nil
}

func checkWindow(window, n int) error {
	if window <= 0 {
		return fmt.Errorf("smoothing window must be positive, got %d", window)
	}
	if n < window {
		return fmt.Errorf("%w: %d samples, window %d", ErrInsufficientHistory, n, window)
	}
	return nil
}

// convolveValid slides weights (oldest first) over values and sums the
// products in window order.
func convolveValid(values, weights []float64) []float64 {
	w := len(weights)
	out := make([]float64, len(values)-w+1)
	for k := range out {
		acc := 0.0
		for j, weight := range weights {
			acc += values[k+j] * weight
		}
		out[k] = acc
	}
	return out
}

func linspace(start, stop float64, n, i int) float64 {
	if n == 1 {
		return start
	}
	return start + (stop-start)*float64(i)/float64(n-1)
}
