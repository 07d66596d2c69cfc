// Package uaparser implements the user-agent enrichment: it parses
// CollectorPayload.UserAgent and emits the os/device/useragent derived
// contexts the pipeline's "contexts scenario" expects from a UA-class
// enrichment.
package uaparser

import (
	"context"
	"fmt"

	uaparser "github.com/ua-parser/uap-go/uaparser"

	"github.com/flowmesh-oss/enrich/internal/enrichment"
	"github.com/flowmesh-oss/enrich/internal/model"
)

func init() {
	enrichment.Register("uaparser", build)
}

// Schema keys for each derived context this enrichment emits.
const (
	OSSchema        = "iglu:com.enrich/os_context/jsonschema/1-0-0"
	DeviceSchema    = "iglu:com.enrich/device_context/jsonschema/1-0-0"
	UserAgentSchema = "iglu:com.enrich/useragent_context/jsonschema/1-0-0"
)

type uaEnrichment struct {
	name   string
	parser *uaparser.Parser
}

func build(conf model.EnrichmentConf, assetPaths map[string]string) (enrichment.Enrichment, error) {
	var regexesPath string
	for _, a := range conf.Assets {
		regexesPath = assetPaths[a.URI]
	}

	var parser *uaparser.Parser
	var err error
	if regexesPath != "" {
		parser, err = uaparser.New(regexesPath)
	} else {
		parser = uaparser.NewFromSaved()
	}
	if err != nil {
		return nil, fmt.Errorf("uaparser %q: %w", conf.Name, err)
	}

	return &uaEnrichment{name: conf.Name, parser: parser}, nil
}

func (u *uaEnrichment) Name() string { return u.name }

func (u *uaEnrichment) Run(ctx context.Context, raw *model.RawEvent, partial *model.EnrichedEvent) (enrichment.Outcome, error) {
	ua := partial.UserAgent
	if ua == "" {
		ua = raw.UserAgent
	}
	if ua == "" {
		return enrichment.Outcome{}, nil
	}

	client := u.parser.Parse(ua)

	partial.OSName = client.Os.Family
	partial.DeviceFamily = client.Device.Family
	partial.BrowserFamily = client.UserAgent.Family

	return enrichment.Outcome{
		Contexts: []model.DerivedContext{
			{Schema: OSSchema, Data: map[string]any{
				"family": client.Os.Family, "major": client.Os.Major, "minor": client.Os.Minor,
			}},
			{Schema: DeviceSchema, Data: map[string]any{
				"family": client.Device.Family, "brand": client.Device.Brand, "model": client.Device.Model,
			}},
			{Schema: UserAgentSchema, Data: map[string]any{
				"family": client.UserAgent.Family, "major": client.UserAgent.Major, "minor": client.UserAgent.Minor,
			}},
		},
	}, nil
}

func (u *uaEnrichment) Close() error { return nil }
