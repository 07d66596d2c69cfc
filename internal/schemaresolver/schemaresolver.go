// Package schemaresolver implements validator.Resolver against a local
// Iglu resolver configuration file: an ordered list of repositories,
// each either a local directory of schema JSON files or an HTTP schema
// registry. Remote Iglu registry transport itself is out of scope (see
// spec.md §1's non-goals); this package only needs to satisfy the
// resolve(schema_key) -> found|not_found|transport_error contract spec.md
// §9 describes, using whatever repositories the operator configured.
package schemaresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flowmesh-oss/enrich/internal/platform/resilience"
)

type localConnection struct {
	Path string `json:"path"`
}

type httpConnection struct {
	URI string `json:"uri"`
}

type connection struct {
	Local *localConnection `json:"local,omitempty"`
	HTTP  *httpConnection  `json:"http,omitempty"`
}

type repository struct {
	Name       string     `json:"name"`
	Priority   int        `json:"priority"`
	Connection connection `json:"connection"`
}

type resolverFile struct {
	Repositories []repository `json:"repositories"`
}

// Resolver resolves schema keys against a priority-ordered list of local
// directories and HTTP endpoints.
type Resolver struct {
	repos   []repository
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// New reads the resolver configuration at path (a JSON file in the shape
// documented above) and builds a Resolver. An empty path yields a
// Resolver with zero repositories — every Resolve call reports not
// found, which is valid when the deployment declares no schema
// constraints for the event stream being processed.
//
// HTTP repository fetches run behind a CircuitBreaker: a schema registry
// that is down fails every in-flight validate call's bounded retry
// (spec.md §4.7) independently, so without a breaker a sustained outage
// re-runs the full retry/backoff sequence once per event. The breaker
// trips after repeated transport failures and fails fast until its
// timeout elapses, per spec.md §7 kind 4's "distinct error class" for a
// persistently unreachable registry.
func New(path string) (*Resolver, error) {
	breaker := resilience.New(resilience.DefaultConfig())

	if path == "" {
		return &Resolver{client: http.DefaultClient, breaker: breaker}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read iglu resolver config %s: %w", path, err)
	}

	var file resolverFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse iglu resolver config %s: %w", path, err)
	}

	repos := file.Repositories
	sort.SliceStable(repos, func(i, j int) bool { return repos[i].Priority < repos[j].Priority })

	return &Resolver{repos: repos, client: http.DefaultClient, breaker: breaker}, nil
}

// Resolve implements validator.Resolver.
func (r *Resolver) Resolve(ctx context.Context, schemaKey string) ([]byte, bool, error) {
	relPath, err := schemaPath(schemaKey)
	if err != nil {
		return nil, false, nil
	}

	for _, repo := range r.repos {
		switch {
		case repo.Connection.Local != nil:
			doc, found, err := r.resolveLocal(repo.Connection.Local.Path, relPath)
			if err != nil {
				return nil, false, err
			}
			if found {
				return doc, true, nil
			}
		case repo.Connection.HTTP != nil:
			doc, found, err := r.resolveHTTP(ctx, repo.Connection.HTTP.URI, relPath)
			if err != nil {
				return nil, false, err
			}
			if found {
				return doc, true, nil
			}
		}
	}

	return nil, false, nil
}

func (r *Resolver) resolveLocal(base, relPath string) ([]byte, bool, error) {
	doc, err := os.ReadFile(filepath.Join(base, relPath))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read schema %s: %w", relPath, err)
	}
	return doc, true, nil
}

func (r *Resolver) resolveHTTP(ctx context.Context, base, relPath string) ([]byte, bool, error) {
	url := strings.TrimRight(base, "/") + "/" + relPath

	var body []byte
	var found bool
	err := r.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch schema %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch schema %s: status %d", url, resp.StatusCode)
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read schema body %s: %w", url, err)
		}
		body, found = b, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return body, found, nil
}

// schemaPath converts "iglu:vendor/name/format/version" into the
// Iglu-convention relative path "schemas/vendor/name/format/version".
func schemaPath(schemaKey string) (string, error) {
	rest := strings.TrimPrefix(schemaKey, "iglu:")
	if rest == schemaKey {
		return "", fmt.Errorf("not an iglu schema key: %s", schemaKey)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		return "", fmt.Errorf("malformed iglu schema key: %s", schemaKey)
	}
	return filepath.Join(append([]string{"schemas"}, parts...)...), nil
}
