package javascript

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-oss/enrich/internal/model"
)

func TestBuildRequiresScript(t *testing.T) {
	_, err := build(model.EnrichmentConf{Name: "x"}, nil)
	assert.Error(t, err)
}

func TestRunReturnsScriptObjectAsContext(t *testing.T) {
	inst, err := build(model.EnrichmentConf{
		Name: "tagger",
		Parameters: map[string]any{
			"script": `return {tag: input.fields.e === "pv" ? "pageview" : "other"};`,
		},
	}, nil)
	require.NoError(t, err)

	partial := &model.EnrichedEvent{Fields: map[string]any{"e": "pv"}}
	outcome, err := inst.Run(context.Background(), &model.RawEvent{Params: map[string]string{"e": "pv"}}, partial)
	require.NoError(t, err)
	require.Len(t, outcome.Contexts, 1)
	assert.Equal(t, ContextSchema, outcome.Contexts[0].Schema)
	assert.Equal(t, "pageview", outcome.Contexts[0].Data["tag"])
}

func TestRunWithNoReturnValueYieldsNoContext(t *testing.T) {
	inst, err := build(model.EnrichmentConf{
		Name:       "noop",
		Parameters: map[string]any{"script": `var x = 1;`},
	}, nil)
	require.NoError(t, err)

	outcome, err := inst.Run(context.Background(), &model.RawEvent{}, &model.EnrichedEvent{Fields: map[string]any{}})
	require.NoError(t, err)
	assert.Empty(t, outcome.Contexts)
}

func TestRunPropagatesScriptError(t *testing.T) {
	inst, err := build(model.EnrichmentConf{
		Name:       "broken",
		Parameters: map[string]any{"script": `throw new Error("boom");`},
	}, nil)
	require.NoError(t, err)

	_, err = inst.Run(context.Background(), &model.RawEvent{}, &model.EnrichedEvent{Fields: map[string]any{}})
	assert.Error(t, err)
}

func TestRunTimesOutOnInfiniteLoop(t *testing.T) {
	inst, err := build(model.EnrichmentConf{
		Name: "hang",
		Parameters: map[string]any{
			"script":         `while (true) {}`,
			"timeoutSeconds": float64(1),
		},
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = inst.Run(context.Background(), &model.RawEvent{}, &model.EnrichedEvent{Fields: map[string]any{}})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
