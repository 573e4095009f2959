package postgres

import (
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

func TestLineSetScan(t *testing.T) {
	var lines lineSet
	require.NoError(t, lines.Scan([]byte(`[{"product_id":"prd-1","quantity":2,"unit_price":"1500.50"}]`)))
	require.Len(t, lines, 1)
	assert.Equal(t, "prd-1", lines[0].ProductID)
	assert.True(t, decimal.RequireFromString("1500.5").Equal(lines[0].UnitPrice))

	require.NoError(t, lines.Scan("[]"))
	assert.Nil(t, lines)

	assert.Error(t, lines.Scan(42))
}

func TestLineSetValueOfNil(t *testing.T) {
	v, err := lineSet(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)

	v, err = lineSet([]domain.TransactionLine{{ProductID: "prd-1"}}).Value()
	require.NoError(t, err)
	assert.Contains(t, string(v.([]byte)), `"product_id":"prd-1"`)
}

func TestNullableDecimalRoundTrip(t *testing.T) {
	assert.Nil(t, nullableDecimal(nullDecimal(nil)))

	cost := decimal.RequireFromString("12.3456")
	got := nullableDecimal(nullDecimal(&cost))
	require.NotNil(t, got)
	assert.True(t, cost.Equal(*got))
}

func TestMapErrorLeavesOtherErrors(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.Equal(t, store.ErrNotFound, mapError(store.ErrNotFound))
}

func TestSchemaMoneyColumnsHaveNoFixedScale(t *testing.T) {
	assert.NotRegexp(t, regexp.MustCompile(`(?i)NUMERIC\s*\(`), schema)
	assert.Contains(t, schema, "ALTER COLUMN amount TYPE NUMERIC")
}
