// Package model defines the core data types that flow through the
// enrichment runtime: records pulled from the source, the decoded
// collector payload and its raw events, the enriched output, and the
// self-describing bad-row shape emitted on failure.
package model

import "time"

// Record is an opaque element pulled from the source. The core never
// inspects AckHandle; it is only ever returned to the Checkpointer that
// produced it.
type Record struct {
	Bytes       []byte
	PartitionID string
	AckHandle   any
}

// RawEvent is the unenriched per-event structure decoded from a
// CollectorPayload: an HTTP-form-like parameter map plus envelope fields
// shared with its siblings from the same payload.
type RawEvent struct {
	Params map[string]string

	CollectorTstamp time.Time
	UserAgent       string
	RemoteIP        string
	CollectorName   string
	NetworkUserID   string
}

// CollectorPayload is the decoded form of one source record's payload
// bytes: the shared envelope plus zero or more RawEvents.
type CollectorPayload struct {
	CollectorTstamp time.Time
	UserAgent       string
	RemoteIP        string
	CollectorName   string
	NetworkUserID   string

	Events []RawEvent
}

// DerivedContext is a self-describing JSON entity appended to an
// EnrichedEvent's derived_contexts list by an enrichment.
type DerivedContext struct {
	Schema string
	Data   map[string]any
}

// PIIField is one pseudonymised field update contributed by an
// enrichment; its presence on an EnrichedEvent determines whether a PII
// twin is emitted alongside the primary good-sink record.
type PIIField struct {
	FieldName    string
	OriginalHash string
}

// EnrichedEvent is the flat output record produced by the pipeline: the
// envelope fields from RawEvent, the fields enrichments derive, and the
// two structurally significant sub-structures (derived_contexts, pii).
type EnrichedEvent struct {
	// Envelope / identity
	EventID         string
	CollectorTstamp time.Time
	DerivedTstamp   time.Time
	DVCETstamp      time.Time
	ETLTstamp       time.Time

	UserAgent     string
	RemoteIP      string
	CollectorName string
	NetworkUserID string

	// Populated by individual enrichments
	GeoCountry string
	GeoCity    string
	GeoLatitude  float64
	GeoLongitude float64

	OSName        string
	DeviceFamily  string
	BrowserFamily string

	// Arbitrary field bag for the remainder of the ~130-field schema not
	// modeled as dedicated struct fields; enrichments and the decoder both
	// write into this using their own field-name conventions.
	Fields map[string]any

	DerivedContexts []DerivedContext
	PII             []PIIField

	// Diagnostic context appended when acceptInvalid lets an otherwise
	// invalid event through to good.
	ValidationDiagnostics []string
}

// EnrichmentFailure records one enrichment's failure for one event.
type EnrichmentFailure struct {
	Enrichment string
	Message    string
	Timeout    bool
}

// SchemaFailure records one schema-validation or schema-resolution
// failure for one event.
type SchemaFailure struct {
	SchemaKey        string
	Message          string
	ResolutionError  bool
}

// BadRowClass identifies the failure-class schema of a BadRow.
type BadRowClass string

const (
	BadRowAdapterFailure    BadRowClass = "adapter_failure"
	BadRowSizeViolation     BadRowClass = "size_violation"
	BadRowEnrichmentFailure BadRowClass = "enrichment_failure"
	BadRowSchemaViolation   BadRowClass = "schema_violation"
	BadRowGeneric           BadRowClass = "generic"
)

// BadRow is the self-describing JSON document routed to the bad sink.
type BadRow struct {
	Schema string       `json:"schema"`
	Data   BadRowData   `json:"data"`
}

// BadRowData is the payload of a BadRow.
type BadRowData struct {
	Processor BadRowProcessor `json:"processor"`
	Failure   BadRowFailure   `json:"failure"`
	Payload   string          `json:"payload"`
}

// BadRowProcessor identifies the component that produced a BadRow.
type BadRowProcessor struct {
	Artifact string `json:"artifact"`
	Version  string `json:"version"`
}

// BadRowFailure is the structured failure detail embedded in a BadRow.
type BadRowFailure struct {
	Timestamp time.Time `json:"timestamp"`
	Messages  []string  `json:"messages"`
}

// AssetRef is one asset URI declared by an EnrichmentConf, with its
// expected local path.
type AssetRef struct {
	URI       string
	LocalName string
}

// EnrichmentConf is the static configuration for one enrichment
// instance: its type, its parameters, and its declared assets.
type EnrichmentConf struct {
	Name       string
	Type       string
	Enabled    bool
	Parameters map[string]any
	Assets     []AssetRef
}

// AssetState is the tuple AssetManager tracks for one asset URI.
type AssetState struct {
	URI            string
	LocalPath      string
	LastFetchedAt  time.Time
	ContentHash    string
}
