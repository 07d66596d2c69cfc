// Package registry holds the currently-active set of enrichment
// instances behind an atomically-swappable, reference-counted snapshot.
// Readers capture a Snapshot at the start of an event's processing and
// hold it for that event's whole lifetime; the underlying enrichments
// (and their asset handles — open file descriptors, DB pools, HTTP
// clients) are only closed once every reader that captured a given
// snapshot has released it.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/flowmesh-oss/enrich/internal/enrichment"
	"github.com/flowmesh-oss/enrich/internal/model"
)

// LegacyOrder runs PII-affecting enrichment types before context-only
// ones. This is a documented, explicit reordering decision (see
// DESIGN.md) rather than a rediscovered legacy order.
var LegacyOrder = []string{"uaparser", "geoip", "apirequest", "sqlquery", "javascript"}

// Snapshot is an immutable view of the active enrichment set. Readers
// must call Release exactly once when done with it.
type Snapshot struct {
	enrichments []enrichment.Enrichment
	configs     []model.EnrichmentConf
	reg         *Registry
}

// Enrichments returns the enrichments in their effective run order.
func (s *Snapshot) Enrichments() []enrichment.Enrichment { return s.enrichments }

// Configs returns the static configuration the snapshot was built from.
func (s *Snapshot) Configs() []model.EnrichmentConf { return s.configs }

// Release drops this reader's hold on the snapshot. Once every reader of
// a superseded snapshot has released it, its enrichments are closed.
func (s *Snapshot) Release() {
	s.reg.release(s)
}

// Registry is the single-writer, many-reader cell holding the active
// Snapshot. The zero value is not usable; use New.
type Registry struct {
	cell atomic.Pointer[entry]

	mu      sync.Mutex
	pending []*entry // superseded entries awaiting drain to zero refs
}

type entry struct {
	snap     *Snapshot
	refs     atomic.Int64
	draining atomic.Bool
}

// New builds a Registry from the given enrichment configs, constructing
// each enabled enrichment via enrichment.Build. assetPaths maps asset
// URI to its resolved local file path (see internal/assets). Construction
// failure of any single enrichment fails the whole build, per spec.
func New(configs []model.EnrichmentConf, assetPaths map[string]string, legacyOrder bool) (*Registry, error) {
	r := &Registry{}
	snap, err := build(configs, assetPaths, legacyOrder)
	if err != nil {
		return nil, err
	}
	e := &entry{snap: snap}
	snap.reg = r
	r.cell.Store(e)
	return r, nil
}

func build(configs []model.EnrichmentConf, assetPaths map[string]string, legacyOrder bool) (*Snapshot, error) {
	ordered := orderConfigs(configs, legacyOrder)

	instances := make([]enrichment.Enrichment, 0, len(ordered))
	var buildErr *multierror.Error
	for _, conf := range ordered {
		if !conf.Enabled {
			continue
		}
		inst, err := enrichment.Build(conf, assetPaths)
		if err != nil {
			buildErr = multierror.Append(buildErr, fmt.Errorf("enrichment %q: %w", conf.Name, err))
			continue
		}
		instances = append(instances, inst)
	}
	if buildErr.ErrorOrNil() != nil {
		for _, inst := range instances {
			_ = inst.Close()
		}
		return nil, buildErr
	}

	return &Snapshot{enrichments: instances, configs: ordered}, nil
}

func orderConfigs(configs []model.EnrichmentConf, legacyOrder bool) []model.EnrichmentConf {
	if !legacyOrder {
		out := make([]model.EnrichmentConf, len(configs))
		copy(out, configs)
		return out
	}

	rank := make(map[string]int, len(LegacyOrder))
	for i, t := range LegacyOrder {
		rank[t] = i
	}
	out := make([]model.EnrichmentConf, len(configs))
	copy(out, configs)

	// stable insertion sort by legacy rank; unknown types keep their
	// relative position after all ranked types.
	sorted := make([]model.EnrichmentConf, 0, len(out))
	for _, t := range LegacyOrder {
		for _, c := range out {
			if c.Type == t {
				sorted = append(sorted, c)
			}
		}
	}
	for _, c := range out {
		if _, known := rank[c.Type]; !known {
			sorted = append(sorted, c)
		}
	}
	return sorted
}

// Snapshot returns the currently active Snapshot, incrementing its
// reader refcount. The caller must call Release when done.
func (r *Registry) Snapshot() *Snapshot {
	e := r.cell.Load()
	e.refs.Add(1)
	return e.snap
}

// Swap rebuilds the registry from newConfigs/newAssetPaths and, on
// success, atomically publishes the new snapshot. The previous snapshot
// is retained until every reader that captured it releases it.
func (r *Registry) Swap(newConfigs []model.EnrichmentConf, newAssetPaths map[string]string, legacyOrder bool) error {
	newSnap, err := build(newConfigs, newAssetPaths, legacyOrder)
	if err != nil {
		return err
	}
	newSnap.reg = r
	newEntry := &entry{snap: newSnap}

	// The pointer swap and the pending registration must happen as one
	// step: a Release racing between them would find its entry in
	// neither r.pending nor the (already-replaced) live cell and leak
	// the snapshot's enrichments forever.
	r.mu.Lock()
	old := r.cell.Swap(newEntry)
	r.pending = append(r.pending, old)
	r.mu.Unlock()

	r.tryDrain(old)
	return nil
}

func (r *Registry) release(s *Snapshot) {
	r.mu.Lock()
	var match *entry
	for _, e := range r.pending {
		if e.snap == s {
			match = e
			break
		}
	}
	r.mu.Unlock()

	if match != nil {
		if match.refs.Add(-1) <= 0 {
			r.tryDrain(match)
		}
		return
	}

	// Might be the current live entry; refcount underflow here is
	// harmless since live entries are never drained.
	current := r.cell.Load()
	if current.snap == s {
		current.refs.Add(-1)
	}
}

func (r *Registry) tryDrain(e *entry) {
	if e.refs.Load() > 0 {
		return
	}
	if !e.draining.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	for i, p := range r.pending {
		if p == e {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	for _, inst := range e.snap.enrichments {
		_ = inst.Close()
	}
}

// Close releases the currently-live snapshot's enrichments. Called once
// during Runtime shutdown after the pipeline has fully drained.
func (r *Registry) Close() error {
	e := r.cell.Load()
	var merr *multierror.Error
	for _, inst := range e.snap.enrichments {
		if err := inst.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
