// Package pipeline implements EnrichmentPipeline: the per-event
// orchestration that awaits the PauseGate, captures a Registry
// snapshot, runs every enrichment in declared order, validates the
// result, and classifies it to good, pii, or bad, per spec.md §4.6.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowmesh-oss/enrich/internal/badrow"
	"github.com/flowmesh-oss/enrich/internal/enrichment"
	"github.com/flowmesh-oss/enrich/internal/model"
	"github.com/flowmesh-oss/enrich/internal/pausegate"
	"github.com/flowmesh-oss/enrich/internal/platform/logging"
	"github.com/flowmesh-oss/enrich/internal/platform/metrics"
	"github.com/flowmesh-oss/enrich/internal/registry"
	"github.com/flowmesh-oss/enrich/internal/validator"
)

// FeatureFlags are the per-event behavior toggles from spec.md §4.6.
type FeatureFlags struct {
	AcceptInvalid       bool
	LegacyEnrichmentOrder bool
}

// Sink is where Pipeline routes its classified output.
type Sink string

const (
	SinkGood Sink = "good"
	SinkPII  Sink = "pii"
	SinkBad  Sink = "bad"
)

// Outcome is one classified output of processing a single RawEvent.
type Outcome struct {
	Sink       Sink
	Bytes      []byte
	Attributes map[string]string
}

// Pipeline wires PauseGate, Registry, and SchemaValidator together to
// process one RawEvent at a time.
type Pipeline struct {
	gate              *pausegate.Gate
	reg               *registry.Registry
	validator         *validator.Validator
	badrow            *badrow.Builder
	flags             FeatureFlags
	enrichmentTimeout time.Duration
	logger            *logging.Logger
	metrics           *metrics.Metrics
	eventSchemaKey    string
}

// Config collects Pipeline's dependencies and tunables.
type Config struct {
	Gate              *pausegate.Gate
	Registry          *registry.Registry
	Validator         *validator.Validator
	BadRow            *badrow.Builder
	Flags             FeatureFlags
	EnrichmentTimeout time.Duration // default 10s per spec.md §5
	Logger            *logging.Logger
	Metrics           *metrics.Metrics
	EventSchemaKey    string
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	timeout := cfg.EnrichmentTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pipeline{
		gate:              cfg.Gate,
		reg:               cfg.Registry,
		validator:         cfg.Validator,
		badrow:            cfg.BadRow,
		flags:             cfg.Flags,
		enrichmentTimeout: timeout,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		eventSchemaKey:    cfg.EventSchemaKey,
	}
}

// Process runs the full per-event algorithm (spec.md §4.6 steps 1-7) on
// one RawEvent, whose original source bytes (for bad-row payloads) are
// rawPayload. It returns one or two Outcomes: a single good/bad outcome,
// or a good outcome plus a pii twin when the event carries pii updates
// and is not routed to bad (SPEC_FULL.md §9 decision 2).
func (p *Pipeline) Process(ctx context.Context, raw model.RawEvent, rawPayload []byte) ([]Outcome, error) {
	if err := p.gate.Await(ctx); err != nil {
		return nil, err
	}

	snap := p.reg.Snapshot()
	defer snap.Release()

	partial := &model.EnrichedEvent{
		CollectorTstamp: raw.CollectorTstamp,
		UserAgent:       raw.UserAgent,
		RemoteIP:        raw.RemoteIP,
		CollectorName:   raw.CollectorName,
		NetworkUserID:   raw.NetworkUserID,
		Fields:          map[string]any{},
	}
	for k, v := range raw.Params {
		partial.Fields[k] = v
	}

	var failures []model.EnrichmentFailure

	for _, inst := range snap.Enrichments() {
		outcome, err := p.runOne(ctx, inst, &raw, partial)
		if err != nil {
			failures = append(failures, model.EnrichmentFailure{
				Enrichment: inst.Name(),
				Message:    err.Error(),
				Timeout:    err == context.DeadlineExceeded,
			})
			if p.logger != nil {
				p.logger.LogEnrichmentFailure(ctx, inst.Name(), err)
			}
			continue
		}
		partial.DerivedContexts = append(partial.DerivedContexts, outcome.Contexts...)
		partial.PII = append(partial.PII, outcome.PII...)
	}

	p.populateDerivedTimestamps(partial)

	validationFailures := p.validate(ctx, partial)

	return p.classify(partial, failures, validationFailures, rawPayload), nil
}

func (p *Pipeline) runOne(ctx context.Context, inst enrichment.Enrichment, raw *model.RawEvent, partial *model.EnrichedEvent) (enrichment.Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.enrichmentTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := inst.Run(runCtx, raw, partial)
	if p.metrics != nil {
		p.metrics.RecordEnrichment(inst.Name(), time.Since(start), err != nil)
	}
	if runCtx.Err() == context.DeadlineExceeded && err != nil {
		return enrichment.Outcome{}, context.DeadlineExceeded
	}
	return outcome, err
}

func (p *Pipeline) populateDerivedTimestamps(e *model.EnrichedEvent) {
	now := time.Now().UTC()
	e.DerivedTstamp = now
	e.ETLTstamp = now
	if e.DVCETstamp.IsZero() {
		e.DVCETstamp = e.CollectorTstamp
	}
}

func (p *Pipeline) validate(ctx context.Context, e *model.EnrichedEvent) []model.SchemaFailure {
	var failures []model.SchemaFailure

	if p.eventSchemaKey != "" && p.validator != nil {
		data, _ := json.Marshal(e.Fields)
		if ok, fail := p.validator.Validate(ctx, p.eventSchemaKey, data); !ok && fail != nil {
			failures = append(failures, *fail)
			p.recordSchemaOutcome(fail)
		} else if ok {
			p.recordSchemaOutcome(nil)
		}
	}

	for _, dc := range e.DerivedContexts {
		if p.validator == nil {
			continue
		}
		data, _ := json.Marshal(dc.Data)
		if ok, fail := p.validator.Validate(ctx, dc.Schema, data); !ok && fail != nil {
			failures = append(failures, *fail)
			p.recordSchemaOutcome(fail)
		} else if ok {
			p.recordSchemaOutcome(nil)
		}
	}

	return failures
}

func (p *Pipeline) recordSchemaOutcome(fail *model.SchemaFailure) {
	if p.metrics == nil {
		return
	}
	switch {
	case fail == nil:
		p.metrics.RecordSchemaValidation("ok")
	case fail.ResolutionError:
		p.metrics.RecordSchemaValidation("resolution_error")
	default:
		p.metrics.RecordSchemaValidation("invalid")
	}
}

func (p *Pipeline) classify(e *model.EnrichedEvent, failures []model.EnrichmentFailure, validationFailures []model.SchemaFailure, rawPayload []byte) []Outcome {
	hasValidationFailures := len(validationFailures) > 0
	hasEnrichmentFailures := len(failures) > 0

	if hasValidationFailures && p.flags.AcceptInvalid {
		for _, f := range validationFailures {
			e.ValidationDiagnostics = append(e.ValidationDiagnostics, fmt.Sprintf("%s: %s", f.SchemaKey, f.Message))
		}
		hasValidationFailures = false
	}

	if !hasValidationFailures && !hasEnrichmentFailures {
		return p.emitGood(e)
	}

	var row model.BadRow
	switch {
	case hasValidationFailures:
		row = p.badrow.SchemaViolation(rawPayload, validationFailures, failures)
	default:
		row = p.badrow.EnrichmentFailure(rawPayload, failures)
	}

	data, _ := json.Marshal(row)
	if p.metrics != nil {
		p.metrics.RecordRouted("bad")
	}
	return []Outcome{{Sink: SinkBad, Bytes: data}}
}

func (p *Pipeline) emitGood(e *model.EnrichedEvent) []Outcome {
	data, _ := json.Marshal(e)
	outcomes := []Outcome{{Sink: SinkGood, Bytes: data, Attributes: attributesFor(e)}}

	if len(e.PII) > 0 {
		twin := pseudonymize(e)
		piiData, _ := json.Marshal(twin)
		outcomes = append(outcomes, Outcome{Sink: SinkPII, Bytes: piiData, Attributes: attributesFor(e)})
	}

	if p.metrics != nil {
		p.metrics.RecordRouted("good")
		if len(e.PII) > 0 {
			p.metrics.RecordRouted("pii")
		}
	}
	return outcomes
}

// pseudonymize builds the "hashed/pseudonymised twin" spec.md §1/§3
// describes for the pii sink: a copy of e with every field named in
// e.PII replaced by its enrichment-computed hash, so the pii twin never
// carries the same raw values as the good record.
func pseudonymize(e *model.EnrichedEvent) *model.EnrichedEvent {
	twin := *e
	twin.Fields = make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		twin.Fields[k] = v
	}

	for _, f := range e.PII {
		switch f.FieldName {
		case "remote_ip", "ip_address":
			twin.RemoteIP = f.OriginalHash
		case "useragent", "user_agent":
			twin.UserAgent = f.OriginalHash
		case "network_userid", "domain_userid":
			twin.NetworkUserID = f.OriginalHash
		default:
			twin.Fields[f.FieldName] = f.OriginalHash
		}
	}
	return &twin
}

// attributesFor returns the routing attributes attached to good and pii
// outcomes: geo_country and collector, as string values. The attribute
// set is fixed in code; it is not read from configuration.
func attributesFor(e *model.EnrichedEvent) map[string]string {
	return map[string]string{
		"geo_country": e.GeoCountry,
		"collector":   e.CollectorName,
	}
}
