// Package optimizer implements the gradient-descent update rules used by
// embedding sessions. An optimizer consumes current embedding values and the
// gradients reported by trainers, and produces the updated values to write
// back to the knowledge bank.
package optimizer

import (
	"fmt"
	"math"
	"sync"
)

// Optimizer applies one gradient step to a batch of embeddings. keys,
// embeddings and gradients are parallel slices; the returned slice holds the
// updated values in the same order.
type Optimizer interface {
	Apply(keys []string, embeddings [][]float32, gradients [][]float32) ([][]float32, error)
}

// Config selects an update rule. Exactly one algorithm must be set.
type Config struct {
	LearningRate float32        `json:"learning_rate"`
	SGD          *SGDConfig     `json:"sgd,omitempty"`
	AdaGrad      *AdaGradConfig `json:"adagrad,omitempty"`
}

// SGDConfig selects plain stochastic gradient descent. It carries no
// parameters beyond the shared learning rate.
type SGDConfig struct{}

// AdaGradConfig selects AdaGrad with per-key gradient accumulators.
type AdaGradConfig struct {
	InitAccumulatorValue float32 `json:"init_accumulator_value,omitempty"`
}

// New constructs the optimizer described by cfg for embeddings of the given
// dimension.
func New(dim int, cfg Config) (Optimizer, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", cfg.LearningRate)
	}
	if cfg.SGD != nil && cfg.AdaGrad != nil {
		return nil, fmt.Errorf("at most one optimizer algorithm may be configured")
	}
	switch {
	case cfg.SGD != nil:
		return &sgd{lr: cfg.LearningRate}, nil
	case cfg.AdaGrad != nil:
		initAcc := cfg.AdaGrad.InitAccumulatorValue
		if initAcc < 0 {
			return nil, fmt.Errorf("init accumulator value must not be negative, got %v", initAcc)
		}
		return &adaGrad{
			lr:           cfg.LearningRate,
			dim:          dim,
			initAcc:      initAcc,
			accumulators: make(map[string][]float32),
		}, nil
	default:
		return nil, fmt.Errorf("no optimizer algorithm configured")
	}
}

func checkBatch(keys []string, embeddings, gradients [][]float32) error {
	if len(embeddings) != len(keys) || len(gradients) != len(keys) {
		return fmt.Errorf("inconsistent batch: %d keys, %d embeddings, %d gradients",
			len(keys), len(embeddings), len(gradients))
	}
	for i := range embeddings {
		if len(embeddings[i]) != len(gradients[i]) {
			return fmt.Errorf("inconsistent gradient dimension for key %q, got %d expect %d",
				keys[i], len(gradients[i]), len(embeddings[i]))
		}
	}
	return nil
}

type sgd struct {
	lr float32
}

func (s *sgd) Apply(keys []string, embeddings, gradients [][]float32) ([][]float32, error) {
	if err := checkBatch(keys, embeddings, gradients); err != nil {
		return nil, err
	}
	updated := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		out := make([]float32, len(e))
		for j, v := range e {
			out[j] = v - s.lr*gradients[i][j]
		}
		updated[i] = out
	}
	return updated, nil
}

// adaGrad keeps one accumulator vector per key across calls, so repeated
// updates to the same key take progressively smaller steps.
type adaGrad struct {
	lr      float32
	dim     int
	initAcc float32

	mu           sync.Mutex
	accumulators map[string][]float32
}

func (a *adaGrad) Apply(keys []string, embeddings, gradients [][]float32) ([][]float32, error) {
	if err := checkBatch(keys, embeddings, gradients); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	updated := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		if len(e) != a.dim {
			return nil, fmt.Errorf("inconsistent embedding dimension for key %q, got %d expect %d",
				keys[i], len(e), a.dim)
		}
		acc, ok := a.accumulators[keys[i]]
		if !ok {
			acc = make([]float32, a.dim)
			for j := range acc {
				acc[j] = a.initAcc
			}
			a.accumulators[keys[i]] = acc
		}
		out := make([]float32, len(e))
		for j, v := range e {
			g := gradients[i][j]
			acc[j] += g * g
			out[j] = v - a.lr*g/float32(math.Sqrt(float64(acc[j])))
		}
		updated[i] = out
	}
	return updated, nil
}
