package kbservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/knowledgebank"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/optimizer"
)

func TestConfigValidate(t *testing.T) {
	cfg := DynamicEmbeddingConfig{EmbeddingDimension: 4}
	assert.NoError(t, cfg.Validate())

	cfg = DynamicEmbeddingConfig{}
	assert.Error(t, cfg.Validate())

	cfg = DynamicEmbeddingConfig{
		EmbeddingDimension: 4,
		GradientDescent:    &optimizer.Config{SGD: &optimizer.SGDConfig{}},
	}
	assert.Error(t, cfg.Validate(), "learning rate must be positive")
}

func TestSessionHandle_Deterministic(t *testing.T) {
	req := StartSessionRequest{
		Name:   "emb",
		Config: DynamicEmbeddingConfig{EmbeddingDimension: 4},
	}

	h1, err := req.SessionHandle()
	require.NoError(t, err)
	h2, err := req.SessionHandle()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestSessionHandle_DistinguishesConfigs(t *testing.T) {
	a := StartSessionRequest{Name: "emb", Config: DynamicEmbeddingConfig{EmbeddingDimension: 4}}
	b := StartSessionRequest{Name: "emb", Config: DynamicEmbeddingConfig{EmbeddingDimension: 8}}

	ha, err := a.SessionHandle()
	require.NoError(t, err)
	hb, err := b.SessionHandle()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestParseSessionHandle_RoundTrip(t *testing.T) {
	req := StartSessionRequest{
		Name: "emb",
		Config: DynamicEmbeddingConfig{
			EmbeddingDimension: 4,
			KnowledgeBank:      knowledgebank.Config{Type: knowledgebank.TypeInMemory},
			GradientDescent:    &optimizer.Config{LearningRate: 0.1, SGD: &optimizer.SGDConfig{}},
		},
	}

	handle, err := req.SessionHandle()
	require.NoError(t, err)

	parsed, err := ParseSessionHandle(handle)
	require.NoError(t, err)
	assert.Equal(t, req, parsed)
}

func TestParseSessionHandle_Malformed(t *testing.T) {
	_, err := ParseSessionHandle("not-a-handle!!")
	assert.Error(t, err)

	_, err = ParseSessionHandle("bm90IGpzb24")
	assert.Error(t, err)
}
