package schemaresolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-oss/enrich/internal/platform/resilience"
)

func writeResolverConfig(t *testing.T, repos []repository) string {
	t.Helper()
	file := resolverFile{Repositories: repos}
	raw, err := json.Marshal(file)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "resolver.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestNewWithEmptyPathAlwaysNotFound(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)

	doc, found, err := r.Resolve(context.Background(), "iglu:com.acme/event/jsonschema/1-0-0")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func TestResolveRejectsMalformedSchemaKey(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)

	_, found, err := r.Resolve(context.Background(), "not-an-iglu-key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestResolveLocalRepository(t *testing.T) {
	schemaDir := t.TempDir()
	schemaPath := filepath.Join(schemaDir, "schemas", "com.acme", "event", "jsonschema", "1-0-0")
	require.NoError(t, os.MkdirAll(filepath.Dir(schemaPath), 0o755))
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type":"object"}`), 0o644))

	path := writeResolverConfig(t, []repository{
		{Name: "local", Priority: 0, Connection: connection{Local: &localConnection{Path: schemaDir}}},
	})

	r, err := New(path)
	require.NoError(t, err)

	doc, found, err := r.Resolve(context.Background(), "iglu:com.acme/event/jsonschema/1-0-0")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"type":"object"}`, string(doc))
}

func TestResolveLocalRepositoryNotFound(t *testing.T) {
	schemaDir := t.TempDir()
	path := writeResolverConfig(t, []repository{
		{Name: "local", Priority: 0, Connection: connection{Local: &localConnection{Path: schemaDir}}},
	})

	r, err := New(path)
	require.NoError(t, err)

	_, found, err := r.Resolve(context.Background(), "iglu:com.acme/missing/jsonschema/1-0-0")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestResolveHTTPRepository(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/schemas/com.acme/event/jsonschema/1-0-0" {
			w.Write([]byte(`{"type":"object"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	path := writeResolverConfig(t, []repository{
		{Name: "remote", Priority: 0, Connection: connection{HTTP: &httpConnection{URI: srv.URL}}},
	})

	r, err := New(path)
	require.NoError(t, err)

	doc, found, err := r.Resolve(context.Background(), "iglu:com.acme/event/jsonschema/1-0-0")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"type":"object"}`, string(doc))
}

func TestResolveHTTPRepositoryTripsCircuitBreakerAfterRepeatedFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := writeResolverConfig(t, []repository{
		{Name: "remote", Priority: 0, Connection: connection{HTTP: &httpConnection{URI: srv.URL}}},
	})

	r, err := New(path)
	require.NoError(t, err)

	maxFailures := resilience.DefaultConfig().MaxFailures
	for i := 0; i < maxFailures; i++ {
		_, found, err := r.Resolve(context.Background(), "iglu:com.acme/event/jsonschema/1-0-0")
		assert.False(t, found)
		assert.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, r.breaker.State())

	_, found, err := r.Resolve(context.Background(), "iglu:com.acme/event/jsonschema/1-0-0")
	assert.False(t, found)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(maxFailures), atomic.LoadInt32(&hits), "the breaker must short-circuit the last call without hitting the server")
}

func TestResolveTriesRepositoriesInPriorityOrder(t *testing.T) {
	lowPrioDir := t.TempDir()
	highPrioDir := t.TempDir()

	schemaRel := filepath.Join("schemas", "com.acme", "event", "jsonschema", "1-0-0")
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(highPrioDir, schemaRel)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(highPrioDir, schemaRel), []byte(`{"from":"high"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(lowPrioDir, schemaRel)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(lowPrioDir, schemaRel), []byte(`{"from":"low"}`), 0o644))

	path := writeResolverConfig(t, []repository{
		{Name: "low", Priority: 10, Connection: connection{Local: &localConnection{Path: lowPrioDir}}},
		{Name: "high", Priority: 0, Connection: connection{Local: &localConnection{Path: highPrioDir}}},
	})

	r, err := New(path)
	require.NoError(t, err)

	doc, found, err := r.Resolve(context.Background(), "iglu:com.acme/event/jsonschema/1-0-0")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"from":"high"}`, string(doc))
}
