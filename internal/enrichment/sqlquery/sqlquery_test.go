package sqlquery

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-oss/enrich/internal/model"
)

func newMockInstance(t *testing.T) (*sqlQuery, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &sqlQuery{
		name:      "lookup",
		db:        sqlx.NewDb(db, "sqlmock"),
		query:     "SELECT tier FROM customers WHERE id = $1",
		inputPath: "$.Fields.user_id",
	}, mock
}

func TestBuildRequiresDSNAndQuery(t *testing.T) {
	_, err := build(model.EnrichmentConf{Name: "x"}, nil)
	assert.Error(t, err)
}

func TestRunReturnsRowAsContext(t *testing.T) {
	inst, mock := newMockInstance(t)
	rows := sqlmock.NewRows([]string{"tier"}).AddRow("gold")
	mock.ExpectQuery("SELECT tier FROM customers").WithArgs("u-42").WillReturnRows(rows)

	partial := &model.EnrichedEvent{Fields: map[string]any{"user_id": "u-42"}}
	outcome, err := inst.Run(context.Background(), &model.RawEvent{}, partial)
	require.NoError(t, err)
	require.Len(t, outcome.Contexts, 1)
	assert.Equal(t, ContextSchema, outcome.Contexts[0].Schema)
	assert.Equal(t, "gold", outcome.Contexts[0].Data["tier"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunNoMatchingRowYieldsNoContext(t *testing.T) {
	inst, mock := newMockInstance(t)
	rows := sqlmock.NewRows([]string{"tier"})
	mock.ExpectQuery("SELECT tier FROM customers").WithArgs("u-missing").WillReturnRows(rows)

	partial := &model.EnrichedEvent{Fields: map[string]any{"user_id": "u-missing"}}
	outcome, err := inst.Run(context.Background(), &model.RawEvent{}, partial)
	require.NoError(t, err)
	assert.Empty(t, outcome.Contexts)
}

func TestRunPropagatesQueryError(t *testing.T) {
	inst, mock := newMockInstance(t)
	mock.ExpectQuery("SELECT tier FROM customers").WillReturnError(assert.AnError)

	_, err := inst.Run(context.Background(), &model.RawEvent{}, &model.EnrichedEvent{Fields: map[string]any{}})
	assert.Error(t, err)
}

func TestCloseClosesUnderlyingPool(t *testing.T) {
	inst, mock := newMockInstance(t)
	mock.ExpectClose()
	assert.NoError(t, inst.Close())
}
