package kbservice

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/knowledgebank"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/optimizer"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(zerolog.Nop())
	t.Cleanup(func() { svc.Close() })
	return svc
}

func startTestSession(t *testing.T, svc *Service, cfg DynamicEmbeddingConfig) string {
	t.Helper()
	handle, err := svc.StartSession(StartSessionRequest{Name: "emb", Config: cfg})
	require.NoError(t, err)
	return handle
}

func sgdConfig(dim int) DynamicEmbeddingConfig {
	return DynamicEmbeddingConfig{
		EmbeddingDimension: dim,
		GradientDescent:    &optimizer.Config{LearningRate: 0.1, SGD: &optimizer.SGDConfig{}},
	}
}

func TestStartSession_EmptyName(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.StartSession(StartSessionRequest{
		Config: DynamicEmbeddingConfig{EmbeddingDimension: 2},
	})
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
	assert.EqualError(t, err, "name is empty")
}

func TestStartSession_Idempotent(t *testing.T) {
	svc := newTestService(t)
	cfg := DynamicEmbeddingConfig{EmbeddingDimension: 2}

	h1 := startTestSession(t, svc, cfg)
	h2 := startTestSession(t, svc, cfg)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, svc.SessionCount())
}

func TestStartSession_DistinctConfigsGetDistinctSessions(t *testing.T) {
	svc := newTestService(t)

	h1 := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})
	h2 := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 4})
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, svc.SessionCount())
}

func TestLookup_EmptyHandle(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Lookup(LookupRequest{Keys: []string{"cat"}})
	require.Error(t, err)
	assert.EqualError(t, err, "session handle is empty")
}

func TestLookup_EmptyKeys(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	_, err := svc.Lookup(LookupRequest{SessionHandle: handle})
	require.Error(t, err)
	assert.EqualError(t, err, "empty input keys")
}

func TestLookup_StartsSessionFromHandle(t *testing.T) {
	// A handle minted by one server instance works on a fresh one.
	req := StartSessionRequest{Name: "emb", Config: DynamicEmbeddingConfig{EmbeddingDimension: 2}}
	handle, err := req.SessionHandle()
	require.NoError(t, err)

	svc := newTestService(t)
	out, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat"}, Update: true})
	require.NoError(t, err)
	assert.Contains(t, out, "cat")
	assert.Equal(t, 1, svc.SessionCount())
}

func TestLookup_MissingKeysOmitted(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	require.NoError(t, svc.Update(UpdateRequest{
		SessionHandle: handle,
		Values:        map[string][]float32{"cat": {1, 2}},
	}))

	out, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat", "dog"}})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, []float32{1, 2}, out["cat"].Values)
}

func TestLookup_PaddingKeyResolvesToZero(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	out, err := svc.Lookup(LookupRequest{
		SessionHandle: handle,
		Keys:          []string{"", "cat"},
		Update:        true,
	})
	require.NoError(t, err)

	require.Contains(t, out, "")
	assert.Equal(t, []float32{0, 0}, out[""].Values)

	// The padding key is never stored.
	size, err := svc.KnowledgeBankSize(handle)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestLookup_LazyCreateOnlyWithUpdate(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	out, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat"}})
	require.NoError(t, err)
	assert.Empty(t, out)

	size, err := svc.KnowledgeBankSize(handle)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	out, err = svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat"}, Update: true})
	require.NoError(t, err)
	assert.Contains(t, out, "cat")

	size, err = svc.KnowledgeBankSize(handle)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestUpdate_EmptyInput(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	err := svc.Update(UpdateRequest{SessionHandle: handle})
	require.Error(t, err)
	assert.EqualError(t, err, "input is empty")
}

func TestUpdate_ValuesSkipPaddingKey(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	require.NoError(t, svc.Update(UpdateRequest{
		SessionHandle: handle,
		Values: map[string][]float32{
			"":    {9, 9},
			"cat": {1, 2},
		},
	}))

	size, err := svc.KnowledgeBankSize(handle)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestUpdate_GradientsWithoutOptimizer(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	err := svc.Update(UpdateRequest{
		SessionHandle: handle,
		Gradients:     map[string][]float32{"cat": {1, 1}},
	})
	require.Error(t, err)
	assert.EqualError(t, err, "optimizer is not created, did you forget to set gradient_descent in the embedding config?")
}

func TestUpdate_GradientPipeline(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, sgdConfig(3))

	// Initialize two entries at zero.
	_, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat", "dog"}, Update: true})
	require.NoError(t, err)

	require.NoError(t, svc.Update(UpdateRequest{
		SessionHandle: handle,
		Gradients: map[string][]float32{
			"cat": {1, 2, 3},
			"dog": {4, 5, 6},
		},
	}))

	out, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat", "dog"}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-0.1, -0.2, -0.3}, out["cat"].Values, 1e-6)
	assert.InDeltaSlice(t, []float32{-0.4, -0.5, -0.6}, out["dog"].Values, 1e-6)
}

func TestUpdate_ValuesAndGradientsInOneCall(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, sgdConfig(2))

	_, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"b"}, Update: true})
	require.NoError(t, err)

	// Values are applied before gradients, so the gradient step for "a"
	// sees the value written in the same call.
	require.NoError(t, svc.Update(UpdateRequest{
		SessionHandle: handle,
		Values:        map[string][]float32{"a": {3, 4}},
		Gradients: map[string][]float32{
			"a": {1, 2},
			"b": {1, 2},
		},
	}))

	out, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"a", "b"}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2.9, 3.8}, out["a"].Values, 1e-6)
	assert.InDeltaSlice(t, []float32{-0.1, -0.2}, out["b"].Values, 1e-6)
}

func TestUpdate_GradientsPreserveWeight(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, sgdConfig(2))

	_, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat"}, Update: true})
	require.NoError(t, err)
	_, err = svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat"}, Update: true})
	require.NoError(t, err)

	require.NoError(t, svc.Update(UpdateRequest{
		SessionHandle: handle,
		Gradients:     map[string][]float32{"cat": {1, 1}},
	}))

	out, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat"}})
	require.NoError(t, err)
	assert.Equal(t, float32(2), out["cat"].Weight)
}

func TestUpdate_GradientsForUnknownKeysOnly(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, sgdConfig(2))

	err := svc.Update(UpdateRequest{
		SessionHandle: handle,
		Gradients:     map[string][]float32{"ghost": {1, 1}},
	})
	require.Error(t, err)
	assert.EqualError(t, err, "no valid keys for gradient update")
}

func TestUpdate_GradientsPaddingOnly(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, sgdConfig(2))

	err := svc.Update(UpdateRequest{
		SessionHandle: handle,
		Gradients:     map[string][]float32{"": {1, 1}},
	})
	require.Error(t, err)
	assert.EqualError(t, err, "no valid keys for gradient update")
}

func TestExportImport(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	require.NoError(t, svc.Update(UpdateRequest{
		SessionHandle: handle,
		Values:        map[string][]float32{"cat": {0.1, -0.2}},
	}))

	metaPath, err := svc.Export(handle, t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, metaPath)

	require.NoError(t, svc.Update(UpdateRequest{
		SessionHandle: handle,
		Values:        map[string][]float32{"dog": {7, 7}},
	}))

	require.NoError(t, svc.Import(handle, metaPath))
	size, err := svc.KnowledgeBankSize(handle)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	out, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat"}})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, -0.2}, out["cat"].Values)
}

func TestNearest_UnsupportedBank(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	_, err := svc.Nearest(handle, []float32{1, 0}, 3)
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
}

func TestConcurrentLazyLookups(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Lookup(LookupRequest{
				SessionHandle: handle,
				Keys:          []string{"cat"},
				Update:        true,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	size, err := svc.KnowledgeBankSize(handle)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	out, err := svc.Lookup(LookupRequest{SessionHandle: handle, Keys: []string{"cat"}})
	require.NoError(t, err)
	assert.Equal(t, float32(workers), out["cat"].Weight)
}

func TestSnapshotExporter_ExportAll(t *testing.T) {
	svc := newTestService(t)
	handle := startTestSession(t, svc, DynamicEmbeddingConfig{EmbeddingDimension: 2})

	require.NoError(t, svc.Update(UpdateRequest{
		SessionHandle: handle,
		Values:        map[string][]float32{"cat": {1, 2}},
	}))

	dir := t.TempDir()
	exporter, err := NewSnapshotExporter(svc, dir, "0 * * * *", zerolog.Nop())
	require.NoError(t, err)

	exporter.ExportAll()

	entries, err := knowledgebank.New(knowledgebank.Config{}, 2)
	require.NoError(t, err)
	defer entries.Close()
	require.NoError(t, entries.Import(filepath.Join(dir, "emb", knowledgebank.MetadataFileName)))
	assert.Equal(t, 1, entries.Size())
}

func TestSnapshotExporter_InvalidSchedule(t *testing.T) {
	svc := newTestService(t)
	_, err := NewSnapshotExporter(svc, t.TempDir(), "not a schedule", zerolog.Nop())
	assert.Error(t, err)
}
