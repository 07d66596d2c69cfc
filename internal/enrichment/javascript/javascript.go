// Package javascript implements a per-event JavaScript enrichment. Each
// invocation runs in a fresh goja.Runtime, one per call, for isolation —
// grounded on the teacher's gojaScriptEngine, which makes the same
// one-runtime-per-call trade-off for the same reason: a script must
// never observe state left behind by a previous event.
package javascript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"

	"github.com/flowmesh-oss/enrich/internal/enrichment"
	"github.com/flowmesh-oss/enrich/internal/model"
)

func init() {
	enrichment.Register("javascript", build)
}

// ContextSchema is the derived-context schema key this enrichment emits.
const ContextSchema = "iglu:com.enrich/javascript_context/jsonschema/1-0-0"

// builtinPreamble is evaluated in every fresh runtime before the
// user-supplied script runs, providing a small compatibility surface
// (console.log bridging; everything else is intentionally absent — this
// enrichment has no network or filesystem access).
const builtinPreamble = `
var console = { log: function() { __log(JSON.stringify(Array.prototype.slice.call(arguments))); } };
`

type javascriptEnrichment struct {
	name    string
	source  string
	timeout time.Duration
}

func build(conf model.EnrichmentConf, _ map[string]string) (enrichment.Enrichment, error) {
	source, _ := conf.Parameters["script"].(string)
	if source == "" {
		return nil, fmt.Errorf("javascript %q: missing script parameter", conf.Name)
	}
	timeout := 10 * time.Second
	if t, ok := conf.Parameters["timeoutSeconds"].(float64); ok && t > 0 {
		timeout = time.Duration(t) * time.Second
	}
	return &javascriptEnrichment{name: conf.Name, source: source, timeout: timeout}, nil
}

func (j *javascriptEnrichment) Name() string { return j.name }

func (j *javascriptEnrichment) Run(ctx context.Context, raw *model.RawEvent, partial *model.EnrichedEvent) (enrichment.Outcome, error) {
	inputJSON, err := json.Marshal(struct {
		Params map[string]string `json:"params"`
		Fields map[string]any    `json:"fields"`
	}{Params: raw.Params, Fields: partial.Fields})
	if err != nil {
		return enrichment.Outcome{}, fmt.Errorf("javascript %s: marshal input: %w", j.name, err)
	}

	vm := goja.New()
	done := make(chan struct{})
	var runErr error
	var outputJSON string

	vm.Set("__log", func(s string) {})

	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	go func() {
		defer close(done)
		if _, err := vm.RunString(builtinPreamble); err != nil {
			runErr = err
			return
		}
		vm.Set("input", gjson.Parse(string(inputJSON)).Value())

		script := "(function(input) {\n" + j.source + "\n})(input)"
		value, err := vm.RunString(script)
		if err != nil {
			runErr = err
			return
		}
		exported := value.Export()
		out, err := json.Marshal(exported)
		if err != nil {
			runErr = err
			return
		}
		outputJSON = string(out)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		vm.Interrupt("enrichment timeout")
		<-done
		return enrichment.Outcome{}, fmt.Errorf("javascript %s: timed out after %s", j.name, j.timeout)
	}

	if runErr != nil {
		return enrichment.Outcome{}, fmt.Errorf("javascript %s: %w", j.name, runErr)
	}
	if outputJSON == "" || outputJSON == "null" {
		return enrichment.Outcome{}, nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(outputJSON), &data); err != nil {
		return enrichment.Outcome{}, fmt.Errorf("javascript %s: script did not return an object: %w", j.name, err)
	}

	return enrichment.Outcome{
		Contexts: []model.DerivedContext{{Schema: ContextSchema, Data: data}},
	}, nil
}

func (j *javascriptEnrichment) Close() error { return nil }
