package apirequest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-oss/enrich/internal/model"
)

func TestBuildRequiresURL(t *testing.T) {
	_, err := build(model.EnrichmentConf{Name: "x"}, nil)
	assert.Error(t, err)
}

func TestRunAppendsResponseAsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tier": "gold"}`))
	}))
	defer srv.Close()

	inst, err := build(model.EnrichmentConf{
		Name: "lookup",
		Parameters: map[string]any{
			"url": srv.URL,
		},
	}, nil)
	require.NoError(t, err)
	defer inst.Close()

	outcome, err := inst.Run(context.Background(), &model.RawEvent{}, &model.EnrichedEvent{Fields: map[string]any{}})
	require.NoError(t, err)
	require.Len(t, outcome.Contexts, 1)
	assert.Equal(t, ContextSchema, outcome.Contexts[0].Schema)
	assert.Equal(t, "gold", outcome.Contexts[0].Data["tier"])
}

func TestRunTreatsClientErrorAsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	inst, err := build(model.EnrichmentConf{Name: "lookup", Parameters: map[string]any{"url": srv.URL}}, nil)
	require.NoError(t, err)
	defer inst.Close()

	outcome, err := inst.Run(context.Background(), &model.RawEvent{}, &model.EnrichedEvent{Fields: map[string]any{}})
	require.NoError(t, err)
	assert.Empty(t, outcome.Contexts)
}

func TestRunRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	inst, err := build(model.EnrichmentConf{Name: "lookup", Parameters: map[string]any{"url": srv.URL}}, nil)
	require.NoError(t, err)
	defer inst.Close()

	outcome, err := inst.Run(context.Background(), &model.RawEvent{}, &model.EnrichedEvent{Fields: map[string]any{}})
	require.NoError(t, err)
	require.Len(t, outcome.Contexts, 1)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestResolveInputReadsFieldsPath(t *testing.T) {
	partial := &model.EnrichedEvent{Fields: map[string]any{"user_id": "u-42"}}
	v, err := resolveInput("$.Fields.user_id", partial)
	require.NoError(t, err)
	assert.Equal(t, "u-42", v)
}
