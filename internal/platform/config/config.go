package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gurkankaymak/hocon"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/flowmesh-oss/enrich/internal/model"
)

// envScalars holds the handful of settings that are only ever sourced
// from the environment (never the HOCON file): process-level knobs read
// once at startup, decoded with envdecode's struct-tag convention.
type envScalars struct {
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// FeatureFlags mirrors spec.md §4.6/§6's featureFlags.* config block.
type FeatureFlags struct {
	AcceptInvalid         bool
	LegacyEnrichmentOrder bool
	TryBase64Decoding     bool
}

// DriverConfig is the generic {type, parameters} shape for input/output
// driver selection; concrete driver wiring is out of scope per spec.md
// §1 — the core only needs to know which sourcesink implementation to
// construct. Load reads only Type from the file; Parameters is always
// an empty map.
type DriverConfig struct {
	Type       string
	Parameters map[string]string
}

// Monitoring mirrors spec.md §6's monitoring.* config block.
type Monitoring struct {
	MetricsEnabled bool
	SentryDSN      string
}

// Config is the fully-resolved, typed configuration for one enrich
// process.
type Config struct {
	Input      DriverConfig
	OutputGood DriverConfig
	OutputPII  DriverConfig
	OutputBad  DriverConfig

	ConcurrencyEnrich int
	ConcurrencySink   int

	AssetsUpdatePeriod time.Duration
	CacheDir           string
	MaxRecordSize      int64

	FeatureFlags FeatureFlags
	Monitoring   Monitoring

	AdminAddr string
	LogLevel  string
	LogFormat string

	LicenseAccepted bool

	Enrichments []model.EnrichmentConf

	IgluResolverPath string
}

// candidateParameterKeys is the union of every string-valued parameter
// name consulted by a built-in enrichment kind (apirequest, sqlquery,
// javascript), plus regexesPath, which no built-in kind reads (uaparser
// takes its regexes file from its declared assets). Unused keys for a
// given enrichment's type are simply absent from its section and left
// out of the resulting map.
var candidateParameterKeys = []string{
	"url", "method", "inputPath", "dsn", "query", "script", "regexesPath",
}

var candidateIntParameterKeys = []string{"qps", "timeoutSeconds"}

// Load reads configPath (HOCON), records igluPath, layers environment
// variables over file values (env wins when present: the file value is
// passed to EnvOrFile as its default), and applies defaults.
func Load(configPath, igluPath string) (*Config, error) {
	_ = godotenv.Load() // best-effort; a missing .env is not an error

	root, err := hocon.ParseResource(configPath)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	// Defaults cover every field, so a decode error here only indicates a
	// malformed override value already present in the environment.
	var scalars envScalars
	if err := envdecode.Decode(&scalars); err != nil {
		return nil, fmt.Errorf("decode env scalars: %w", err)
	}

	cfg := &Config{
		LogLevel:   scalars.LogLevel,
		LogFormat:  scalars.LogFormat,
		Input:      driverConfig(root, "input"),
		OutputGood: driverConfig(root, "output.good"),
		OutputPII:  driverConfig(root, "output.pii"),
		OutputBad:  driverConfig(root, "output.bad"),

		ConcurrencyEnrich: GetEnvInt("CONCURRENCY_ENRICH", intOrDefault(root, "concurrency.enrich", 8)),
		ConcurrencySink:   GetEnvInt("CONCURRENCY_SINK", intOrDefault(root, "concurrency.sink", 8)),

		AssetsUpdatePeriod: ParseDurationOrDefault(EnvOrFile(nil, "ASSETS_UPDATE_PERIOD", root.GetString("assetsUpdatePeriod")), 0),
		CacheDir:           EnvOrFile(nil, "CACHE_DIR", root.GetString("cacheDir")),
		MaxRecordSize:      parseByteSizeOrDefault(EnvOrFile(nil, "MAX_RECORD_SIZE", root.GetString("maxRecordSize")), 1<<20),

		FeatureFlags: FeatureFlags{
			AcceptInvalid:         GetEnvBool("FEATURE_ACCEPT_INVALID", root.GetBoolean("featureFlags.acceptInvalid")),
			LegacyEnrichmentOrder: GetEnvBool("FEATURE_LEGACY_ENRICHMENT_ORDER", root.GetBoolean("featureFlags.legacyEnrichmentOrder")),
			TryBase64Decoding:     GetEnvBool("FEATURE_TRY_BASE64_DECODING", root.GetBoolean("featureFlags.tryBase64Decoding")),
		},

		Monitoring: Monitoring{
			MetricsEnabled: GetEnvBool("METRICS_ENABLED", boolOrDefault(root, "monitoring.metrics", true)),
			SentryDSN:      EnvOrFile(nil, "SENTRY_DSN", root.GetString("monitoring.sentry.dsn")),
		},

		AdminAddr: EnvOrFile(nil, "ADMIN_ADDR", root.GetString("adminAddr")),

		IgluResolverPath: igluPath,
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = "./enrich-assets"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":8080"
	}

	cfg.LicenseAccepted = GetEnvBool("ACCEPT_LIMITED_USE_LICENSE", root.GetBoolean("license.accept"))

	cfg.Enrichments = loadEnrichments(root)

	return cfg, nil
}

func driverConfig(root *hocon.Config, prefix string) DriverConfig {
	return DriverConfig{
		Type:       root.GetString(prefix + ".type"),
		Parameters: map[string]string{},
	}
}

func intOrDefault(root *hocon.Config, path string, def int) int {
	v := root.GetInt(path)
	if v == 0 {
		return def
	}
	return v
}

func boolOrDefault(root *hocon.Config, path string, def bool) bool {
	if root.Get(path) == nil {
		return def
	}
	return root.GetBoolean(path)
}

func parseByteSizeOrDefault(raw string, def int64) int64 {
	if raw == "" {
		return def
	}
	v, err := ParseByteSize(raw)
	if err != nil {
		return def
	}
	return v
}

// loadEnrichments reads the "enrichments" string array — the declared
// enrichment names — then, for each name, the sub-section of the same
// name holding its type, enabled flag, parameters, and assets.
//
// A section is shaped like:
//
//	enrichments = ["uaparser", "geoip"]
//	uaparser { type = "uaparser", enabled = true }
//	geoip {
//	  type = "geoip"
//	  assetUris = ["https://example.com/GeoLite2-City.mmdb"]
//	  assetLocalNames = ["GeoLite2-City.mmdb"]
//	}
func loadEnrichments(root *hocon.Config) []model.EnrichmentConf {
	names := root.GetStringArray("enrichments")
	if len(names) == 0 {
		return nil
	}

	confs := make([]model.EnrichmentConf, 0, len(names))
	for _, name := range names {
		sub := root.GetConfig(name)
		if sub == nil {
			continue
		}

		conf := model.EnrichmentConf{
			Name:       name,
			Type:       sub.GetString("type"),
			Enabled:    boolOrDefault(sub, "enabled", true),
			Parameters: map[string]any{},
		}

		for _, key := range candidateParameterKeys {
			if v := sub.GetString("parameters." + key); v != "" {
				conf.Parameters[key] = v
			}
		}
		for _, key := range candidateIntParameterKeys {
			if v := sub.GetInt("parameters." + key); v != 0 {
				conf.Parameters[key] = float64(v)
			}
		}

		uris := sub.GetStringArray("assetUris")
		localNames := sub.GetStringArray("assetLocalNames")
		for i, uri := range uris {
			ref := model.AssetRef{URI: uri}
			if i < len(localNames) {
				ref.LocalName = localNames[i]
			}
			conf.Assets = append(conf.Assets, ref)
		}

		confs = append(confs, conf)
	}
	return confs
}

// RequireLicense enforces spec.md §6's license gate.
func RequireLicense(cfg *Config) error {
	if cfg.LicenseAccepted {
		return nil
	}
	if os.Getenv("ACCEPT_LIMITED_USE_LICENSE") == "1" {
		return nil
	}
	return fmt.Errorf("limited use license not accepted: set ACCEPT_LIMITED_USE_LICENSE=1 or config license.accept=true")
}
