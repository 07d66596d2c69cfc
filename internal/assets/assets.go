// Package assets implements AssetManager: the periodic loop that
// re-downloads remote reference data (GeoIP DBs, IAB lists, ...) and
// atomically swaps the Registry once every changed asset has landed, per
// spec.md §4.4. The pause/rename/rebuild/swap dance exists because these
// files back mmap-sensitive readers (GeoIP); partial reads during a
// rewrite would be an anomaly worth avoiding entirely rather than
// detecting after the fact.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/flowmesh-oss/enrich/internal/model"
	"github.com/flowmesh-oss/enrich/internal/pausegate"
	"github.com/flowmesh-oss/enrich/internal/platform/logging"
	"github.com/flowmesh-oss/enrich/internal/platform/metrics"
	"github.com/flowmesh-oss/enrich/internal/registry"
)

// Fetcher retrieves the content of an asset URI. The default
// implementation uses net/http; tests substitute a fake.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// httpFetcher is the default Fetcher, backed by a shared *http.Client.
type httpFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a Fetcher using client (or http.DefaultClient if
// nil).
func NewHTTPFetcher(client *http.Client) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpFetcher{client: client}
}

func (f *httpFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Manager periodically refreshes the union of asset URIs declared across
// all enrichment configs and swaps the Registry when any of them change.
type Manager struct {
	cacheDir string
	configs  []model.EnrichmentConf
	fetcher  Fetcher
	gate     *pausegate.Gate
	reg      *registry.Registry
	logger   *logging.Logger
	metrics  *metrics.Metrics
	legacyOrder bool

	state map[string]model.AssetState // keyed by URI

	cron *cron.Cron

	lastErrMu sync.Mutex
	lastErr   error
}

// New builds a Manager. cacheDir is the configurable directory each
// asset is materialized under, named by a deterministic hash of its URI
// (spec.md §6 "Persisted state").
func New(cacheDir string, configs []model.EnrichmentConf, fetcher Fetcher, gate *pausegate.Gate, reg *registry.Registry, logger *logging.Logger, m *metrics.Metrics, legacyOrder bool) *Manager {
	return &Manager{
		cacheDir:    cacheDir,
		configs:     configs,
		fetcher:     fetcher,
		gate:        gate,
		reg:         reg,
		logger:      logger,
		metrics:     m,
		legacyOrder: legacyOrder,
		state:       make(map[string]model.AssetState),
	}
}

// SetRegistry binds the Registry this Manager swaps on refresh. Callers
// build the Manager before the Registry exists (Bootstrap must run first
// to produce the asset paths registry.New needs), so the two are wired
// together in two steps.
func (m *Manager) SetRegistry(reg *registry.Registry) {
	m.reg = reg
}

// localPath deterministically derives an asset's on-disk path from its
// URI, per spec.md §6.
func (m *Manager) localPath(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return filepath.Join(m.cacheDir, hex.EncodeToString(sum[:]))
}

// assetURIs returns the de-duplicated union of asset URIs across configs.
func assetURIs(configs []model.EnrichmentConf) []string {
	seen := map[string]bool{}
	var uris []string
	for _, c := range configs {
		for _, a := range c.Assets {
			if !seen[a.URI] {
				seen[a.URI] = true
				uris = append(uris, a.URI)
			}
		}
	}
	return uris
}

// AssetPaths returns the current local-path mapping for every tracked
// asset URI, suitable for registry.New/registry.Swap.
func (m *Manager) AssetPaths() map[string]string {
	paths := make(map[string]string, len(m.state))
	for uri, st := range m.state {
		paths[uri] = st.LocalPath
	}
	return paths
}

// Bootstrap performs the initial synchronous download of every declared
// asset before the Registry is first built; failure here is a startup
// failure per spec.md §7 kind 8.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	var merr *multierror.Error
	for _, uri := range assetURIs(m.configs) {
		if err := m.downloadTo(ctx, uri, m.localPath(uri)); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("asset %s: %w", uri, err))
			continue
		}
		hash, err := hashFile(m.localPath(uri))
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		m.state[uri] = model.AssetState{
			URI:           uri,
			LocalPath:     m.localPath(uri),
			LastFetchedAt: time.Now().UTC(),
			ContentHash:   hash,
		}
	}
	return merr.ErrorOrNil()
}

func (m *Manager) downloadTo(ctx context.Context, uri, dest string) error {
	data, err := m.fetcher.Fetch(ctx, uri)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StartPeriodicRefresh schedules RefreshOnce every period using
// robfig/cron's constant-delay schedule. If period is zero, the manager
// stays inert after Bootstrap, matching spec.md §4.4's "if unset, manager
// is inert".
func (m *Manager) StartPeriodicRefresh(ctx context.Context, period time.Duration) {
	if period <= 0 {
		return
	}
	m.cron = cron.New()
	m.cron.Schedule(cron.ConstantDelaySchedule{Delay: period}, cron.FuncJob(func() {
		if err := m.RefreshOnce(ctx); err != nil {
			m.logger.LogAssetSwap(ctx, "", "failed", err)
		}
	}))
	m.cron.Start()
}

// Stop halts the periodic refresh schedule, if running.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// RefreshOnce runs one refresh cycle: re-fetch every asset, hash-compare,
// and if anything changed, pause the pipeline, atomically rename the new
// files into place, rebuild the Registry, swap, then resume. All-or-
// nothing per spec.md §4.4/§9: any failure in the download or rebuild
// phase discards the temp files and leaves the old Registry untouched.
func (m *Manager) RefreshOnce(ctx context.Context) error {
	start := time.Now()
	uris := assetURIs(m.configs)

	type fetched struct {
		uri, tempPath, hash string
	}
	var changed []fetched
	discardChanged := func() {
		for _, f := range changed {
			os.Remove(f.tempPath)
		}
	}

	for _, uri := range uris {
		tempPath := m.localPath(uri) + ".tmp"
		if err := m.downloadTo(ctx, uri, tempPath); err != nil {
			os.Remove(tempPath)
			discardChanged()
			m.recordOutcome("failed", start)
			return fmt.Errorf("download %s: %w", uri, err)
		}
		newHash, err := hashFile(tempPath)
		if err != nil {
			os.Remove(tempPath)
			discardChanged()
			m.recordOutcome("failed", start)
			return err
		}
		if st, ok := m.state[uri]; ok && st.ContentHash == newHash {
			os.Remove(tempPath) // unchanged
			continue
		}
		changed = append(changed, fetched{uri: uri, tempPath: tempPath, hash: newHash})
	}

	if len(changed) == 0 {
		m.recordOutcome("unchanged", start)
		return nil
	}

	m.gate.Close()
	gateClosedAt := time.Now()
	defer func() {
		m.gate.Open()
		if m.metrics != nil {
			m.metrics.RecordPauseGateClosed(time.Since(gateClosedAt))
		}
	}()

	for _, f := range changed {
		if err := os.Rename(f.tempPath, m.localPath(f.uri)); err != nil {
			discardChanged()
			m.recordOutcome("failed", start)
			return fmt.Errorf("rename %s: %w", f.uri, err)
		}
	}

	if err := m.reg.Swap(m.configs, m.AssetPaths(), m.legacyOrder); err != nil {
		m.recordOutcome("failed", start)
		return fmt.Errorf("registry swap: %w", err)
	}

	for _, f := range changed {
		m.state[f.uri] = model.AssetState{
			URI:           f.uri,
			LocalPath:     m.localPath(f.uri),
			LastFetchedAt: time.Now().UTC(),
			ContentHash:   f.hash,
		}
	}

	m.recordOutcome("swapped", start)
	m.logger.LogAssetSwap(ctx, "", "swapped", nil)
	return nil
}

func (m *Manager) recordOutcome(outcome string, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordAssetRefresh(outcome, time.Since(start))
	}
	m.lastErrMu.Lock()
	defer m.lastErrMu.Unlock()
	if outcome == "failed" {
		m.lastErr = fmt.Errorf("last asset refresh failed")
	} else {
		m.lastErr = nil
	}
}

// Healthy reports the outcome of the most recent refresh cycle, for
// wiring into an operator-facing health check; nil before any refresh
// has run or once one has since succeeded.
func (m *Manager) Healthy() error {
	m.lastErrMu.Lock()
	defer m.lastErrMu.Unlock()
	return m.lastErr
}
