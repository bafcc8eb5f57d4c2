package knowledgebank

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBank(t *testing.T) KnowledgeBank {
	t.Helper()
	bank, err := New(Config{Type: TypeInMemory}, 2)
	require.NoError(t, err)
	t.Cleanup(func() { bank.Close() })
	return bank
}

func TestNew_UnsupportedType(t *testing.T) {
	_, err := New(Config{Type: "redis"}, 2)
	assert.ErrorContains(t, err, `unsupported knowledge bank type "redis"`)
}

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New(Config{}, 0)
	assert.Error(t, err)
}

func TestNew_DefaultsToInMemory(t *testing.T) {
	bank, err := New(Config{}, 4)
	require.NoError(t, err)
	defer bank.Close()

	assert.Equal(t, 0, bank.Size())
}

func TestNew_InitializerConflicts(t *testing.T) {
	_, err := New(Config{
		Initializer: InitializerConfig{
			Zero:          &ZeroInitializerConfig{},
			RandomUniform: &RandomUniformInitializerConfig{Low: -1, High: 1},
		},
	}, 2)
	assert.Error(t, err)

	_, err = New(Config{
		Initializer: InitializerConfig{
			RandomUniform: &RandomUniformInitializerConfig{Low: 1, High: -1},
		},
	}, 2)
	assert.Error(t, err)
}

func TestBatchLookup_MissingKeys(t *testing.T) {
	bank := newTestBank(t)

	results := bank.BatchLookup([]string{"cat", "dog"})
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, ErrNotFound)
	assert.ErrorIs(t, results[1].Err, ErrNotFound)
}

func TestBatchLookupWithUpdate_CreatesAndCounts(t *testing.T) {
	bank := newTestBank(t)

	results := bank.BatchLookupWithUpdate([]string{"cat"})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "cat", results[0].Embedding.Tag)
	assert.Equal(t, []float32{0, 0}, results[0].Embedding.Values)
	assert.Equal(t, float32(1), results[0].Embedding.Weight)

	// Weight counts every lazy-initializing fetch.
	results = bank.BatchLookupWithUpdate([]string{"cat"})
	require.NoError(t, results[0].Err)
	assert.Equal(t, float32(2), results[0].Embedding.Weight)

	assert.Equal(t, 1, bank.Size())
}

func TestBatchLookupWithUpdate_RandomInitializer(t *testing.T) {
	bank, err := New(Config{
		Initializer: InitializerConfig{
			RandomUniform: &RandomUniformInitializerConfig{Low: 0.5, High: 1.5},
		},
	}, 8)
	require.NoError(t, err)
	defer bank.Close()

	results := bank.BatchLookupWithUpdate([]string{"cat"})
	require.NoError(t, results[0].Err)
	for _, v := range results[0].Embedding.Values {
		assert.GreaterOrEqual(t, v, float32(0.5))
		assert.Less(t, v, float32(1.5))
	}
}

func TestBatchUpdate(t *testing.T) {
	bank := newTestBank(t)

	err := bank.BatchUpdate(
		[]string{"cat", "dog"},
		[]Embedding{
			{Values: []float32{1, 2}},
			{Values: []float32{3, 4}},
		},
	)
	require.NoError(t, err)

	results := bank.BatchLookup([]string{"cat", "dog"})
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, []float32{1, 2}, results[0].Embedding.Values)
	assert.Equal(t, []float32{3, 4}, results[1].Embedding.Values)
}

func TestBatchUpdate_DimensionMismatch(t *testing.T) {
	bank := newTestBank(t)

	err := bank.BatchUpdate([]string{"cat"}, []Embedding{{Values: []float32{1, 2, 3}}})
	assert.ErrorContains(t, err, `inconsistent embedding dimension for key "cat", got 3 expect 2`)
}

func TestBatchUpdate_LengthMismatch(t *testing.T) {
	bank := newTestBank(t)

	err := bank.BatchUpdate([]string{"cat", "dog"}, []Embedding{{Values: []float32{1, 2}}})
	assert.Error(t, err)
}

func TestBatchUpdate_SkipsEmptyKeys(t *testing.T) {
	bank := newTestBank(t)

	err := bank.BatchUpdate(
		[]string{"", "cat"},
		[]Embedding{
			{Values: []float32{9, 9}},
			{Values: []float32{1, 2}},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, bank.Size())
	assert.Equal(t, []string{"cat"}, bank.Keys())
}

func TestExportImport_RoundTrip(t *testing.T) {
	bank := newTestBank(t)

	require.NoError(t, bank.BatchUpdate(
		[]string{"cat", "dog"},
		[]Embedding{
			{Values: []float32{0.125, -3.5}, Weight: 2},
			{Values: []float32{1e-7, 42}},
		},
	))

	metaPath, err := bank.Export(t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, metaPath)

	// Mutate, then restore from the snapshot.
	require.NoError(t, bank.BatchUpdate([]string{"bird"}, []Embedding{{Values: []float32{7, 7}}}))
	require.Equal(t, 3, bank.Size())

	require.NoError(t, bank.Import(metaPath))
	assert.Equal(t, 2, bank.Size())
	assert.Equal(t, []string{"cat", "dog"}, bank.Keys())

	results := bank.BatchLookup([]string{"cat"})
	require.NoError(t, results[0].Err)
	assert.Equal(t, []float32{0.125, -3.5}, results[0].Embedding.Values)
	assert.Equal(t, float32(2), results[0].Embedding.Weight)
}

func TestImport_DimensionMismatch(t *testing.T) {
	bank := newTestBank(t)
	require.NoError(t, bank.BatchUpdate([]string{"cat"}, []Embedding{{Values: []float32{1, 2}}}))

	metaPath, err := bank.Export(t.TempDir())
	require.NoError(t, err)

	other, err := New(Config{}, 3)
	require.NoError(t, err)
	defer other.Close()

	assert.Error(t, other.Import(metaPath))
}

func TestConcurrentLookupWithUpdate(t *testing.T) {
	bank := newTestBank(t)

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			results := bank.BatchLookupWithUpdate([]string{"cat"})
			assert.NoError(t, results[0].Err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, bank.Size())
	results := bank.BatchLookup([]string{"cat"})
	require.NoError(t, results[0].Err)
	assert.Equal(t, float32(workers), results[0].Embedding.Weight)
}
