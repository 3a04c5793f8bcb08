package graph

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetCompilesOnce(t *testing.T) {
	cache := NewCache(slog.Default(), CompileOptions{})

	first, err := cache.Get(t.Context(), []byte(validDefinition))
	require.NoError(t, err)

	second, err := cache.Get(t.Context(), []byte(validDefinition))
	require.NoError(t, err)

	// Identical payload resolves to the identical cached graph.
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_WhitespaceVariantsShareEntry(t *testing.T) {
	cache := NewCache(slog.Default(), CompileOptions{})

	compact := `{"workflow_id":"w","version":1,"execution":{"nodes":[{"id":"a","type":"start"}],"edges":[]}}`
	spaced := `{
		"workflow_id": "w",
		"version": 1,
		"execution": {"nodes": [{"id": "a", "type": "start"}], "edges": []}
	}`

	first, err := cache.Get(t.Context(), []byte(compact))
	require.NoError(t, err)

	second, err := cache.Get(t.Context(), []byte(spaced))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_FailedCompilationNotCached(t *testing.T) {
	cache := NewCache(slog.Default(), CompileOptions{})

	broken := `{"workflow_id": "w", "version": 1}`

	_, err := cache.Get(t.Context(), []byte(broken))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingExecutionSection)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_ConcurrentGets(t *testing.T) {
	cache := NewCache(slog.Default(), CompileOptions{})

	var wg sync.WaitGroup

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := cache.Get(t.Context(), []byte(validDefinition))
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, cache.Len())
}

func TestCache_GetByHashWithoutRedis(t *testing.T) {
	cache := NewCache(slog.Default(), CompileOptions{})

	compiled, err := cache.Get(t.Context(), []byte(validDefinition))
	require.NoError(t, err)

	byHash, err := cache.GetByHash(t.Context(), compiled.Hash)
	require.NoError(t, err)
	assert.Same(t, compiled, byHash)

	_, err = cache.GetByHash(t.Context(), "unknown-hash")
	assert.ErrorIs(t, err, ErrNotCached)
}
