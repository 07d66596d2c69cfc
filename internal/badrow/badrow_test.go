package badrow

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-oss/enrich/internal/model"
)

func TestAdapterFailureEncodesPayloadAndCause(t *testing.T) {
	b := New("enrich", "1.2.3")
	row := b.AdapterFailure([]byte("not thrift"), errors.New("short buffer"))

	assert.Equal(t, "iglu:com.enrich/adapter_failure/jsonschema/1-0-0", row.Schema)
	assert.Equal(t, "enrich", row.Data.Processor.Artifact)
	assert.Equal(t, "1.2.3", row.Data.Processor.Version)
	require.Len(t, row.Data.Failure.Messages, 1)
	assert.Contains(t, row.Data.Failure.Messages[0], "short buffer")

	decoded, err := base64.StdEncoding.DecodeString(row.Data.Payload)
	require.NoError(t, err)
	assert.Equal(t, "not thrift", string(decoded))
}

func TestSizeViolationTruncatesPreview(t *testing.T) {
	b := New("enrich", "dev")
	big := make([]byte, maxPreviewBytes+500)
	for i := range big {
		big[i] = 'a'
	}

	row := b.SizeViolation(big, 1024)

	assert.Equal(t, model.BadRowSizeViolation, model.BadRowClass("size_violation"))
	decoded, err := base64.StdEncoding.DecodeString(row.Data.Payload)
	require.NoError(t, err)
	assert.Len(t, decoded, maxPreviewBytes)
	require.Len(t, row.Data.Failure.Messages, 1)
}

func TestEnrichmentFailureJoinsPerFailureMessages(t *testing.T) {
	b := New("enrich", "dev")
	failures := []model.EnrichmentFailure{
		{Enrichment: "geoip", Message: "db not loaded"},
		{Enrichment: "javascript", Message: "timeout", Timeout: true},
	}
	row := b.EnrichmentFailure([]byte("payload"), failures)

	require.Len(t, row.Data.Failure.Messages, 2)
	assert.Equal(t, "geoip: db not loaded", row.Data.Failure.Messages[0])
	assert.Equal(t, "javascript: timeout", row.Data.Failure.Messages[1])
}

func TestSchemaViolationCombinesSchemaAndEnrichmentFailures(t *testing.T) {
	b := New("enrich", "dev")
	schemaFailures := []model.SchemaFailure{
		{SchemaKey: "iglu:com.acme/event/jsonschema/1-0-0", Message: "missing field x"},
		{SchemaKey: "iglu:com.acme/event/jsonschema/1-0-0", Message: "resolver down", ResolutionError: true},
	}
	enrichmentFailures := []model.EnrichmentFailure{
		{Enrichment: "apirequest", Message: "connection refused"},
	}

	row := b.SchemaViolation([]byte("payload"), schemaFailures, enrichmentFailures)

	require.Len(t, row.Data.Failure.Messages, 3)
	assert.Contains(t, row.Data.Failure.Messages[0], "schema_violation")
	assert.Contains(t, row.Data.Failure.Messages[1], "resolution_error")
	assert.Contains(t, row.Data.Failure.Messages[2], "enrichment_failure apirequest")
}

func TestGenericBuildsCatchAllBadRow(t *testing.T) {
	b := New("enrich", "dev")
	row := b.Generic([]byte("payload"), "unexpected panic recovered")

	assert.Equal(t, "iglu:com.enrich/generic_error/jsonschema/1-0-0", row.Schema)
	require.Len(t, row.Data.Failure.Messages, 1)
	assert.Equal(t, "unexpected panic recovered", row.Data.Failure.Messages[0])
}

func TestNewFailureIDIsUniqueAndNonEmpty(t *testing.T) {
	a := NewFailureID()
	b := NewFailureID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
