package enrichment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-oss/enrich/internal/model"
)

type noopEnrichment struct{ name string }

func (n *noopEnrichment) Name() string { return n.name }
func (n *noopEnrichment) Run(ctx context.Context, raw *model.RawEvent, partial *model.EnrichedEvent) (Outcome, error) {
	return Outcome{}, nil
}
func (n *noopEnrichment) Close() error { return nil }

func TestRegisterAndBuildRoundTrip(t *testing.T) {
	Register("enrichment_pkg_test_kind", func(conf model.EnrichmentConf, assetPaths map[string]string) (Enrichment, error) {
		return &noopEnrichment{name: conf.Name}, nil
	})

	inst, err := Build(model.EnrichmentConf{Name: "inst1", Type: "enrichment_pkg_test_kind"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "inst1", inst.Name())
}

func TestBuildFailsForUnregisteredType(t *testing.T) {
	_, err := Build(model.EnrichmentConf{Name: "x", Type: "enrichment_pkg_test_kind_unregistered"}, nil)
	assert.Error(t, err)
}

func TestRegisterPanicsOnNilBuilder(t *testing.T) {
	assert.Panics(t, func() {
		Register("enrichment_pkg_test_kind_nilbuilder", nil)
	})
}

func TestRegisterPanicsOnDuplicateType(t *testing.T) {
	Register("enrichment_pkg_test_kind_dup", func(conf model.EnrichmentConf, assetPaths map[string]string) (Enrichment, error) {
		return &noopEnrichment{name: conf.Name}, nil
	})
	assert.Panics(t, func() {
		Register("enrichment_pkg_test_kind_dup", func(conf model.EnrichmentConf, assetPaths map[string]string) (Enrichment, error) {
			return &noopEnrichment{name: conf.Name}, nil
		})
	})
}
