package embedding

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewOpenAIProvider("test-key", "text-embedding-3-small", 5*time.Second, 3)
	p.baseURL = srv.URL
	return p
}

func vectorOf(dim int, fill float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func embedResponseBody(t *testing.T, vecs ...[]float32) []byte {
	t.Helper()
	resp := map[string]any{"data": []any{}}
	data := make([]map[string]any, len(vecs))
	for i, v := range vecs {
		data[i] = map[string]any{"embedding": v, "index": i}
	}
	resp["data"] = data
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	return b
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"first text", "second text"}, req.Input)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Write(embedResponseBody(t, vectorOf(1536, 0.1), vectorOf(1536, 0.2)))
	})

	vecs, err := p.EmbedBatch(t.Context(), []string{"first text", "second text"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(0.1), vecs[0].Slice()[0])
	assert.Equal(t, float32(0.2), vecs[1].Slice()[0])
}

func TestEmbedBatchStripsNewlinesAndSkipsEmpties(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Only the non-empty input is sent, with newlines flattened.
		assert.Equal(t, []string{"line one line two"}, req.Input)

		w.Write(embedResponseBody(t, vectorOf(1536, 0.5)))
	})

	vecs, err := p.EmbedBatch(t.Context(), []string{"", "line one\nline two", "  "})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Empty(t, vecs[0].Slice())
	assert.Len(t, vecs[1].Slice(), 1536)
	assert.Empty(t, vecs[2].Slice())
}

func TestEmbedEmptyTextMakesNoCall(t *testing.T) {
	called := false
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	vec, err := p.Embed(t.Context(), "")
	require.NoError(t, err)
	assert.Empty(t, vec.Slice())
	assert.False(t, called)
}

func TestEmbedRetriesTransientErrors(t *testing.T) {
	calls := 0
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(embedResponseBody(t, vectorOf(1536, 1.0)))
	})

	vec, err := p.Embed(t.Context(), "retry me")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, vec.Slice(), 1536)
}

func TestEmbedPermanentErrorDoesNotRetry(t *testing.T) {
	calls := 0
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key", "type": "auth"}}`))
	})

	_, err := p.Embed(t.Context(), "nope")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestEmbedRejectsWrongDimensions(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(embedResponseBody(t, vectorOf(8, 0.1)))
	})

	_, err := p.Embed(t.Context(), "short vector")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "8-dim")
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider()
	vecs, err := p.EmbedBatch(t.Context(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Empty(t, vecs[0].Slice())
	assert.Equal(t, 1536, p.Dimensions())
}
