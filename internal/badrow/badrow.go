// Package badrow constructs the canonical self-describing JSON failure
// records routed to the bad sink: processor identity, timestamped
// failure messages, and the original payload (always base64-encoded,
// text payloads included).
package badrow

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh-oss/enrich/internal/model"
)

// schemaKeys is the fixed table mapping failure class to schema key.
var schemaKeys = map[model.BadRowClass]string{
	model.BadRowAdapterFailure:    "iglu:com.enrich/adapter_failure/jsonschema/1-0-0",
	model.BadRowSizeViolation:     "iglu:com.enrich/size_violation/jsonschema/1-0-0",
	model.BadRowEnrichmentFailure: "iglu:com.enrich/enrichment_failure/jsonschema/1-0-0",
	model.BadRowSchemaViolation:   "iglu:com.enrich/schema_violation/jsonschema/1-0-0",
	model.BadRowGeneric:           "iglu:com.enrich/generic_error/jsonschema/1-0-0",
}

// maxPreviewBytes bounds the truncated payload preview attached to a
// size_violation BadRow (spec.md §4.2, SPEC_FULL.md §10).
const maxPreviewBytes = 1024

// Builder constructs BadRow values, stamping each with a fixed processor
// identity.
type Builder struct {
	artifact string
	version  string
}

// New returns a Builder identifying this process as artifact/version in
// every BadRow it produces.
func New(artifact, version string) *Builder {
	return &Builder{artifact: artifact, version: version}
}

func (b *Builder) processor() model.BadRowProcessor {
	return model.BadRowProcessor{Artifact: b.artifact, Version: b.version}
}

// AdapterFailure builds a BadRow for a decode failure: the whole raw
// payload is carried, base64-encoded.
func (b *Builder) AdapterFailure(payload []byte, cause error) model.BadRow {
	return b.build(model.BadRowAdapterFailure, payload, []string{cause.Error()})
}

// SizeViolation builds a BadRow for a payload exceeding maxRecordSize,
// carrying only a truncated, base64-encoded preview of the body.
func (b *Builder) SizeViolation(payload []byte, maxRecordSize int64) model.BadRow {
	preview := payload
	if int64(len(preview)) > maxPreviewBytes {
		preview = preview[:maxPreviewBytes]
	}
	msg := "payload size exceeds maxRecordSize"
	row := b.build(model.BadRowSizeViolation, preview, []string{msg})
	return row
}

// EnrichmentFailure builds a BadRow for one or more per-event enrichment
// failures, carrying the original decoded event's source bytes.
func (b *Builder) EnrichmentFailure(payload []byte, failures []model.EnrichmentFailure) model.BadRow {
	msgs := make([]string, 0, len(failures))
	for _, f := range failures {
		msgs = append(msgs, f.Enrichment+": "+f.Message)
	}
	return b.build(model.BadRowEnrichmentFailure, payload, msgs)
}

// SchemaViolation builds a BadRow for one or more schema validation or
// resolution failures. Schema failures take precedence over enrichment
// failures per spec.md §4.6 step 7; callers combine both message sets
// when both occurred.
func (b *Builder) SchemaViolation(payload []byte, schemaFailures []model.SchemaFailure, enrichmentFailures []model.EnrichmentFailure) model.BadRow {
	msgs := make([]string, 0, len(schemaFailures)+len(enrichmentFailures))
	for _, f := range schemaFailures {
		prefix := "schema_violation"
		if f.ResolutionError {
			prefix = "resolution_error"
		}
		msgs = append(msgs, prefix+" "+f.SchemaKey+": "+f.Message)
	}
	for _, f := range enrichmentFailures {
		msgs = append(msgs, "enrichment_failure "+f.Enrichment+": "+f.Message)
	}
	return b.build(model.BadRowSchemaViolation, payload, msgs)
}

// Generic builds a catch-all BadRow for failures not covered by a more
// specific class.
func (b *Builder) Generic(payload []byte, message string) model.BadRow {
	return b.build(model.BadRowGeneric, payload, []string{message})
}

func (b *Builder) build(class model.BadRowClass, payload []byte, messages []string) model.BadRow {
	return model.BadRow{
		Schema: schemaKeys[class],
		Data: model.BadRowData{
			Processor: b.processor(),
			Failure: model.BadRowFailure{
				Timestamp: time.Now().UTC(),
				Messages:  messages,
			},
			Payload: base64.StdEncoding.EncodeToString(payload),
		},
	}
}

// NewFailureID mints a unique identifier for correlating a failure
// across logs and metrics (not part of the BadRow wire shape itself).
func NewFailureID() string {
	return uuid.NewString()
}
