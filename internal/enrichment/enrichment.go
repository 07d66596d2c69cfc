// Package enrichment defines the Enrichment contract every concrete
// enrichment kind (apirequest, sqlquery, javascript, uaparser, geoip)
// implements, plus a build-function registry so internal/registry can
// construct instances from EnrichmentConf without importing every
// concrete package directly.
package enrichment

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowmesh-oss/enrich/internal/model"
)

// Outcome is what a successful enrichment run contributes to the
// in-progress EnrichedEvent: zero or more derived contexts and zero or
// more pii field updates.
type Outcome struct {
	Contexts []model.DerivedContext
	PII      []model.PIIField
}

// Enrichment is the per-event contract every enrichment kind implements.
// Run must not retain raw or partial beyond the call.
type Enrichment interface {
	// Name is the configured instance name, used in metrics and
	// EnrichmentFailure.
	Name() string
	// Run executes the enrichment for one event against the
	// already-partially-enriched event. Implementations performing I/O
	// must honor ctx cancellation/deadline.
	Run(ctx context.Context, raw *model.RawEvent, partial *model.EnrichedEvent) (Outcome, error)
	// Close releases any resources (DB pool, file handle, HTTP client)
	// this instance owns. Called once, when the Registry snapshot that
	// built it is fully released.
	Close() error
}

// Builder constructs one Enrichment instance from its static config and
// the resolved local paths of its declared assets (keyed by AssetRef.URI).
type Builder func(conf model.EnrichmentConf, assetPaths map[string]string) (Enrichment, error)

var (
	buildersMu sync.RWMutex
	builders   = map[string]Builder{}
)

// Register associates a builder with an EnrichmentConf.Type name. Concrete
// enrichment packages call this from an init() func, mirroring the
// database/sql driver-registration pattern.
func Register(typeName string, builder Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	if builder == nil {
		panic("enrichment: Register builder is nil")
	}
	if _, dup := builders[typeName]; dup {
		panic("enrichment: Register called twice for type " + typeName)
	}
	builders[typeName] = builder
}

// Build looks up the builder registered for conf.Type and invokes it.
func Build(conf model.EnrichmentConf, assetPaths map[string]string) (Enrichment, error) {
	buildersMu.RLock()
	builder, ok := builders[conf.Type]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("enrichment: no builder registered for type %q", conf.Type)
	}
	return builder(conf, assetPaths)
}
