package knowledgebank

import (
	"fmt"
	"math/rand"
)

// Initializer produces the starting values for embeddings created by a
// lazy-initializing lookup.
type Initializer interface {
	Initialize() []float32
}

func newInitializer(cfg InitializerConfig, dim int) (Initializer, error) {
	if cfg.Zero != nil && cfg.RandomUniform != nil {
		return nil, fmt.Errorf("multiple initializers configured")
	}
	if cfg.RandomUniform != nil {
		if cfg.RandomUniform.High <= cfg.RandomUniform.Low {
			return nil, fmt.Errorf("invalid random_uniform range [%v, %v)",
				cfg.RandomUniform.Low, cfg.RandomUniform.High)
		}
		return &randomUniformInitializer{
			dim:  dim,
			low:  cfg.RandomUniform.Low,
			high: cfg.RandomUniform.High,
		}, nil
	}
	// Zero initialization is the default.
	return &zeroInitializer{dim: dim}, nil
}

type zeroInitializer struct {
	dim int
}

func (z *zeroInitializer) Initialize() []float32 {
	return make([]float32, z.dim)
}

type randomUniformInitializer struct {
	dim  int
	low  float32
	high float32
}

func (r *randomUniformInitializer) Initialize() []float32 {
	out := make([]float32, r.dim)
	for i := range out {
		out[i] = r.low + rand.Float32()*(r.high-r.low)
	}
	return out
}
