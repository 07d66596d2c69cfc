// Package apirequest implements an HTTP-lookup enrichment: it templates
// a request from the partially-enriched event via JSONPath, calls a
// configured API, and appends the JSON response as a derived context.
package apirequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"golang.org/x/time/rate"

	"github.com/flowmesh-oss/enrich/internal/enrichment"
	"github.com/flowmesh-oss/enrich/internal/model"
	"github.com/flowmesh-oss/enrich/internal/platform/resilience"
)

func init() {
	enrichment.Register("apirequest", build)
}

// ContextSchema is the derived-context schema key this enrichment emits.
const ContextSchema = "iglu:com.enrich/api_request_context/jsonschema/1-0-0"

type apiRequest struct {
	name       string
	url        string
	method     string
	inputPath  string // jsonpath into the partial event, e.g. "$.Fields.user_id"
	client     *http.Client
	limiter    *rate.Limiter
	retryConf  resilience.RetryConfig
	timeout    time.Duration
}

func build(conf model.EnrichmentConf, _ map[string]string) (enrichment.Enrichment, error) {
	url, _ := conf.Parameters["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("apirequest %q: missing url parameter", conf.Name)
	}
	method, _ := conf.Parameters["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	inputPath, _ := conf.Parameters["inputPath"].(string)
	qps, _ := conf.Parameters["qps"].(float64)
	if qps <= 0 {
		qps = 10
	}
	timeout := 5 * time.Second
	if t, ok := conf.Parameters["timeoutSeconds"].(float64); ok && t > 0 {
		timeout = time.Duration(t) * time.Second
	}

	return &apiRequest{
		name:      conf.Name,
		url:       url,
		method:    method,
		inputPath: inputPath,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(qps), int(qps)+1),
		retryConf: resilience.DefaultRetryConfig(),
		timeout:   timeout,
	}, nil
}

func (a *apiRequest) Name() string { return a.name }

func (a *apiRequest) Run(ctx context.Context, raw *model.RawEvent, partial *model.EnrichedEvent) (enrichment.Outcome, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return enrichment.Outcome{}, fmt.Errorf("rate limit: %w", err)
	}

	target := a.url
	if a.inputPath != "" {
		if v, err := resolveInput(a.inputPath, partial); err == nil && v != "" {
			target = target + "?q=" + v
		}
	}

	var body []byte
	err := resilience.Retry(ctx, a.retryConf, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, a.method, target, nil)
		if err != nil {
			return err
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("apirequest %s: status %d", a.name, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			// Client errors are not retried, and not enrichment failures
			// either — an empty context is a legitimate "no data" outcome.
			body = nil
			return nil
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return enrichment.Outcome{}, fmt.Errorf("apirequest %s: %w", a.name, err)
	}
	if len(body) == 0 {
		return enrichment.Outcome{}, nil
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return enrichment.Outcome{}, fmt.Errorf("apirequest %s: decode response: %w", a.name, err)
	}

	return enrichment.Outcome{
		Contexts: []model.DerivedContext{{Schema: ContextSchema, Data: data}},
	}, nil
}

func (a *apiRequest) Close() error { return nil }

// resolveInput extracts a string value from the partial event using a
// JSONPath expression evaluated against its Fields bag.
func resolveInput(path string, partial *model.EnrichedEvent) (string, error) {
	doc := map[string]any{"Fields": partial.Fields}
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		b, _ := json.Marshal(t)
		return string(bytes.TrimSpace(b)), nil
	}
}
