// Package sqlquery implements a blocking SQL-lookup enrichment over a
// shared *sqlx.DB pool, binding its input column from the
// partially-enriched event via JSONPath, mirroring apirequest's
// templating approach.
package sqlquery

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/flowmesh-oss/enrich/internal/enrichment"
	"github.com/flowmesh-oss/enrich/internal/model"
)

func init() {
	enrichment.Register("sqlquery", build)
}

// ContextSchema is the derived-context schema key this enrichment emits.
const ContextSchema = "iglu:com.enrich/sql_query_context/jsonschema/1-0-0"

type sqlQuery struct {
	name      string
	db        *sqlx.DB
	query     string
	inputPath string
}

func build(conf model.EnrichmentConf, _ map[string]string) (enrichment.Enrichment, error) {
	dsn, _ := conf.Parameters["dsn"].(string)
	query, _ := conf.Parameters["query"].(string)
	inputPath, _ := conf.Parameters["inputPath"].(string)
	if dsn == "" || query == "" {
		return nil, fmt.Errorf("sqlquery %q: dsn and query parameters are required", conf.Name)
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlquery %q: connect: %w", conf.Name, err)
	}

	return &sqlQuery{name: conf.Name, db: db, query: query, inputPath: inputPath}, nil
}

func (s *sqlQuery) Name() string { return s.name }

func (s *sqlQuery) Run(ctx context.Context, raw *model.RawEvent, partial *model.EnrichedEvent) (enrichment.Outcome, error) {
	var key any = ""
	if s.inputPath != "" {
		doc := map[string]any{"Fields": partial.Fields}
		if v, err := jsonpath.Get(s.inputPath, doc); err == nil {
			key = v
		}
	}

	rows, err := s.db.QueryxContext(ctx, s.query, key)
	if err != nil {
		return enrichment.Outcome{}, fmt.Errorf("sqlquery %s: %w", s.name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return enrichment.Outcome{}, nil
	}

	row := map[string]any{}
	if err := rows.MapScan(row); err != nil {
		return enrichment.Outcome{}, fmt.Errorf("sqlquery %s: scan: %w", s.name, err)
	}

	return enrichment.Outcome{
		Contexts: []model.DerivedContext{{Schema: ContextSchema, Data: row}},
	}, nil
}

func (s *sqlQuery) Close() error {
	return s.db.Close()
}
