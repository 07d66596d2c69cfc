// Package geoip implements the GeoIP enrichment: looks up the envelope
// remote IP in an MMDB asset. The open *maxminddb.Reader is exactly the
// mmap-sensitive asset handle spec.md §4.4's pause/rename/rebuild dance
// exists to protect — the Registry owns it for the lifetime of the
// snapshot that built it.
package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"github.com/flowmesh-oss/enrich/internal/enrichment"
	"github.com/flowmesh-oss/enrich/internal/model"
)

func init() {
	enrichment.Register("geoip", build)
}

// ContextSchema is the derived-context schema key this enrichment emits.
const ContextSchema = "iglu:com.enrich/geoip_context/jsonschema/1-0-0"

type mmdbRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

type geoIPEnrichment struct {
	name   string
	reader *maxminddb.Reader
}

func build(conf model.EnrichmentConf, assetPaths map[string]string) (enrichment.Enrichment, error) {
	var path string
	for _, a := range conf.Assets {
		path = assetPaths[a.URI]
	}
	if path == "" {
		return nil, fmt.Errorf("geoip %q: no asset path resolved", conf.Name)
	}

	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip %q: open mmdb: %w", conf.Name, err)
	}

	return &geoIPEnrichment{name: conf.Name, reader: reader}, nil
}

func (g *geoIPEnrichment) Name() string { return g.name }

func (g *geoIPEnrichment) Run(ctx context.Context, raw *model.RawEvent, partial *model.EnrichedEvent) (enrichment.Outcome, error) {
	ipStr := partial.RemoteIP
	if ipStr == "" {
		ipStr = raw.RemoteIP
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return enrichment.Outcome{}, nil
	}

	var rec mmdbRecord
	if err := g.reader.Lookup(ip, &rec); err != nil {
		return enrichment.Outcome{}, fmt.Errorf("geoip %s: lookup: %w", g.name, err)
	}

	partial.GeoCountry = rec.Country.ISOCode
	partial.GeoCity = rec.City.Names["en"]
	partial.GeoLatitude = rec.Location.Latitude
	partial.GeoLongitude = rec.Location.Longitude

	return enrichment.Outcome{
		Contexts: []model.DerivedContext{{Schema: ContextSchema, Data: map[string]any{
			"country_iso_code": rec.Country.ISOCode,
			"city":             rec.City.Names["en"],
			"latitude":         rec.Location.Latitude,
			"longitude":        rec.Location.Longitude,
		}}},
	}, nil
}

func (g *geoIPEnrichment) Close() error {
	return g.reader.Close()
}
