// Package validator implements SchemaValidator: schema resolution
// through a pluggable resolver, two bounded LRU caches (schema documents
// and recent validation outcomes), and bounded-retry handling of
// resolver failures, per spec.md §4.7.
package validator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowmesh-oss/enrich/internal/model"
	"github.com/flowmesh-oss/enrich/internal/platform/resilience"
)

// Resolver fetches a schema document by key. It returns (doc, true, nil)
// on success, (nil, false, nil) when not found, and a non-nil error for
// transport failures — the distinct "resolution error" class spec.md
// §4.7/§7 calls out for retry.
type Resolver interface {
	Resolve(ctx context.Context, schemaKey string) (doc []byte, found bool, err error)
}

// Config tunes the validator's cache sizes and retry behavior.
type Config struct {
	SchemaCacheSize int // default 10_000
	ResultCacheSize int // default 10_000
	Retry           resilience.RetryConfig

	// Redis, if non-nil, backs the result cache as an optional
	// cross-process second tier (SPEC_FULL.md §4'). The in-process LRU is
	// always consulted first and is authoritative for process lifetime.
	Redis *redis.Client
}

// DefaultConfig returns the spec-recommended cache sizes and the
// teacher-derived retry policy (3 attempts, 100ms, x2).
func DefaultConfig() Config {
	return Config{
		SchemaCacheSize: 10_000,
		ResultCacheSize: 10_000,
		Retry:           resilience.DefaultRetryConfig(),
	}
}

// result is cached for a (schemaKey, dataHash) pair.
type result struct {
	Valid bool
	Msg   string
}

// Validator implements SchemaValidator.
type Validator struct {
	resolver Resolver
	cfg      Config

	schemaCache *lru.Cache[string, *jsonschema.Schema]
	resultCache *lru.Cache[string, result]
}

// New builds a Validator against resolver using cfg.
func New(resolver Resolver, cfg Config) (*Validator, error) {
	if cfg.SchemaCacheSize <= 0 {
		cfg.SchemaCacheSize = 10_000
	}
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = 10_000
	}

	schemaCache, err := lru.New[string, *jsonschema.Schema](cfg.SchemaCacheSize)
	if err != nil {
		return nil, fmt.Errorf("schema cache: %w", err)
	}
	resultCache, err := lru.New[string, result](cfg.ResultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}

	return &Validator{
		resolver:    resolver,
		cfg:         cfg,
		schemaCache: schemaCache,
		resultCache: resultCache,
	}, nil
}

// Validate checks jsonData against the schema identified by schemaKey.
// On success it returns (true, nil); on a data-mismatch it returns
// (false, a SchemaFailure); resolver failures after retry are also
// reported as a SchemaFailure with ResolutionError set, never as a
// returned Go error (per spec.md §4.7: "not as a runtime panic").
func (v *Validator) Validate(ctx context.Context, schemaKey string, jsonData []byte) (bool, *model.SchemaFailure) {
	dataHash := hashData(jsonData)
	cacheKey := schemaKey + "|" + dataHash

	if cached, ok := v.resultCache.Get(cacheKey); ok {
		if cached.Valid {
			return true, nil
		}
		return false, &model.SchemaFailure{SchemaKey: schemaKey, Message: cached.Msg}
	}
	if v.cfg.Redis != nil {
		if cached, ok := v.redisGet(ctx, cacheKey); ok {
			v.resultCache.Add(cacheKey, cached)
			if cached.Valid {
				return true, nil
			}
			return false, &model.SchemaFailure{SchemaKey: schemaKey, Message: cached.Msg}
		}
	}

	schema, err := v.schemaFor(ctx, schemaKey)
	if err != nil {
		return false, &model.SchemaFailure{SchemaKey: schemaKey, Message: err.Error(), ResolutionError: true}
	}
	if schema == nil {
		return false, &model.SchemaFailure{SchemaKey: schemaKey, Message: "schema not found"}
	}

	var decoded any
	if err := json.Unmarshal(jsonData, &decoded); err != nil {
		return false, &model.SchemaFailure{SchemaKey: schemaKey, Message: "invalid json: " + err.Error()}
	}

	if err := schema.Validate(decoded); err != nil {
		res := result{Valid: false, Msg: err.Error()}
		v.resultCache.Add(cacheKey, res)
		v.redisSet(ctx, cacheKey, res)
		return false, &model.SchemaFailure{SchemaKey: schemaKey, Message: err.Error()}
	}

	res := result{Valid: true}
	v.resultCache.Add(cacheKey, res)
	v.redisSet(ctx, cacheKey, res)
	return true, nil
}

func (v *Validator) schemaFor(ctx context.Context, schemaKey string) (*jsonschema.Schema, error) {
	if cached, ok := v.schemaCache.Get(schemaKey); ok {
		return cached, nil
	}

	var doc []byte
	var found bool
	err := resilience.Retry(ctx, v.cfg.Retry, func() error {
		d, f, rErr := v.resolver.Resolve(ctx, schemaKey)
		if rErr != nil {
			return rErr
		}
		doc, found = d, f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", schemaKey, err)
	}
	if !found {
		return nil, nil
	}

	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema doc: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaKey, decoded); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaKey)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.schemaCache.Add(schemaKey, schema)
	return schema, nil
}

func hashData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (v *Validator) redisGet(ctx context.Context, key string) (result, bool) {
	raw, err := v.cfg.Redis.Get(ctx, "enrich:schemaresult:"+key).Bytes()
	if err != nil {
		return result{}, false
	}
	var r result
	if err := json.Unmarshal(raw, &r); err != nil {
		return result{}, false
	}
	return r, true
}

func (v *Validator) redisSet(ctx context.Context, key string, r result) {
	if v.cfg.Redis == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	v.cfg.Redis.Set(ctx, "enrich:schemaresult:"+key, raw, 24*time.Hour)
}
