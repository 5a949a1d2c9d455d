package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabkov82/listing-ingest/internal/job"
)

// rowFrom builds a SourceRow aligned with header from column values
func rowFrom(header []string, rowNo int64, values map[string]any) SourceRow {
	row := SourceRow{RowNo: rowNo, Values: make([]any, len(header))}
	for i, col := range header {
		row.Values[i] = values[col]
	}
	return row
}

func newPropertyTransformer(t *testing.T, schema *Schema, run job.RunConfig) (*Transformer, []string) {
	t.Helper()
	header := sourceColumns(schema)
	tr, err := NewTransformer(schema, header, run)
	require.NoError(t, err)
	return tr, header
}

func TestTransformRowFullRecord(t *testing.T) {
	tr, header := newPropertyTransformer(t, NawyProperties(), job.RunConfig{})

	rec, warnings, err := tr.TransformRow(rowFrom(header, 1, map[string]any{
		"id":                 "101",
		"unit_id":            " U-55 ",
		"sale_type":          "primary",
		"unit_area":          "145.5",
		"number_of_bedrooms": "3.0",
		"building_number":    "24.0",
		"price_in_egp":       "1,234.0",
		"is_launch":          "False",
		"ready_by":           "31.12.2027",
		"compound":           "{'name': 'X', 'id': 7}",
		"payment_plans":      "[{'down_payment_value': 100000.0, 'down_payment': 10, 'equal_installments_value': 25000, 'years': 8.0}, {'years': 10}]",
	}))
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, int64(101), rec["nawy_id"])
	assert.Equal(t, "U-55", rec["unit_id"])
	assert.Equal(t, 145.5, rec["unit_area"])
	assert.Equal(t, int64(3), rec["number_of_bedrooms"])
	assert.Equal(t, "24", rec["building_number"])
	assert.Equal(t, 1234.0, rec["price_in_egp"])
	assert.Equal(t, false, rec["is_launch"])
	assert.Equal(t, "2027-12-31", rec["ready_by"])
	assert.Equal(t, map[string]any{"name": "X", "id": 7.0}, rec["compound"])

	assert.Equal(t, 100000.0, rec["down_payment_value"])
	assert.Equal(t, 10.0, rec["down_payment_percent"])
	assert.Equal(t, 25000.0, rec["monthly_installment"])
	assert.Equal(t, int64(8), rec["payment_years"])

	plans, ok := rec["payment_plans"].([]any)
	require.True(t, ok)
	assert.Len(t, plans, 2, "later plans are kept in the plan list")
}

func TestTransformRowDefaultsAndConstants(t *testing.T) {
	tr, header := newPropertyTransformer(t, NawyProperties(), job.RunConfig{})

	rec, _, err := tr.TransformRow(rowFrom(header, 1, map[string]any{"id": "5"}))
	require.NoError(t, err)

	assert.Equal(t, "EGP", rec["currency"])
	assert.Equal(t, false, rec["is_launch"])
	assert.Equal(t, true, rec["is_active"])
	assert.Equal(t, false, rec["is_featured"])
	assert.Equal(t, "public", rec["visibility_status"])
	assert.Equal(t, 0, rec["priority_score"])

	for _, col := range []string{"unit_area", "compound", "down_payment_value", "payment_years"} {
		v, present := rec[col]
		assert.True(t, present, "%s must be present so batch rows share keys", col)
		assert.Nil(t, v, col)
	}
}

func TestTransformRowMissingNaturalKeyIsDropped(t *testing.T) {
	tr, header := newPropertyTransformer(t, NawyProperties(), job.RunConfig{})

	for _, id := range []any{nil, "", "nan", "not-a-number"} {
		rec, _, err := tr.TransformRow(rowFrom(header, 9, map[string]any{"id": id, "unit_id": "U1"}))
		assert.Nil(t, rec)

		var drop *DropError
		require.True(t, errors.As(err, &drop), "id=%#v", id)
		assert.Equal(t, "missing natural key", drop.Reason)
		assert.Equal(t, int64(9), drop.RowNo)
		assert.False(t, drop.Filtered)
	}
}

func TestTransformRowWarningsKeepRecord(t *testing.T) {
	tr, header := newPropertyTransformer(t, NawyProperties(), job.RunConfig{})

	rec, warnings, err := tr.TransformRow(rowFrom(header, 2, map[string]any{
		"id":        "7",
		"unit_area": "large",
		"developer": "{'name': ",
	}))
	require.NoError(t, err)
	require.NotNil(t, rec)

	fields := make([]string, 0, len(warnings))
	for _, w := range warnings {
		fields = append(fields, w.Field)
		var pe *ParseError
		assert.True(t, errors.As(w.Err, &pe))
	}
	assert.ElementsMatch(t, []string{"unit_area", "developer"}, fields)
	assert.Nil(t, rec["unit_area"])
	assert.Nil(t, rec["developer"])
}

func TestTransformRowPaymentPlanMissingKeys(t *testing.T) {
	tr, header := newPropertyTransformer(t, NawyProperties(), job.RunConfig{})

	rec, _, err := tr.TransformRow(rowFrom(header, 1, map[string]any{
		"id":            "1",
		"payment_plans": "[{'years': 5}]",
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec["payment_years"])
	assert.Nil(t, rec["down_payment_value"])
	assert.Nil(t, rec["monthly_installment"])

	rec, _, err = tr.TransformRow(rowFrom(header, 2, map[string]any{
		"id":            "2",
		"payment_plans": "[]",
	}))
	require.NoError(t, err)
	assert.Nil(t, rec["payment_years"])
}

func TestTransformRowSaleTypeFilters(t *testing.T) {
	tr, header := newPropertyTransformer(t, BRDataProperties(), job.RunConfig{})

	_, _, err := tr.TransformRow(rowFrom(header, 1, map[string]any{"id": "1", "sale_type": "Resale"}))
	var drop *DropError
	require.True(t, errors.As(err, &drop))
	assert.True(t, drop.Filtered)
	assert.Equal(t, "filtered sale_type resale", drop.Reason)

	rec, _, err := tr.TransformRow(rowFrom(header, 2, map[string]any{"id": "2", "sale_type": "primary"}))
	require.NoError(t, err)
	assert.NotNil(t, rec)

	include, header := newPropertyTransformer(t, NawyProperties(), job.RunConfig{SaleTypes: []string{"primary"}})
	_, _, err = include.TransformRow(rowFrom(header, 3, map[string]any{"id": "3"}))
	require.True(t, errors.As(err, &drop))
	assert.Equal(t, "filtered sale_type (empty)", drop.Reason)
}

func TestTransformRowNaturalKeyCheckedBeforeFilter(t *testing.T) {
	tr, header := newPropertyTransformer(t, BRDataProperties(), job.RunConfig{})

	_, _, err := tr.TransformRow(rowFrom(header, 1, map[string]any{"sale_type": "resale"}))
	var drop *DropError
	require.True(t, errors.As(err, &drop))
	assert.False(t, drop.Filtered)
	assert.Equal(t, "missing natural key", drop.Reason)
}

func TestNewTransformerMissingColumns(t *testing.T) {
	_, err := NewTransformer(NawyProperties(), []string{"id", "unit_id"}, job.RunConfig{})
	assert.True(t, errors.Is(err, ErrMissingColumns))
}

func TestNewTransformerOptionalColumnsAbsent(t *testing.T) {
	schema := NawyProperties()
	var header []string
	for _, col := range sourceColumns(schema) {
		if col != "sale_type" && col != "phase" {
			header = append(header, col)
		}
	}

	tr, err := NewTransformer(schema, header, job.RunConfig{SaleTypes: []string{"primary"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sale_type", "phase"}, tr.MissingOptional())

	rec, _, err := tr.TransformRow(rowFrom(header, 1, map[string]any{"id": "1"}))
	var drop *DropError
	require.True(t, errors.As(err, &drop), "include filter needs a sale type")
	assert.Nil(t, rec)
}

func TestTransformRowShortRowHasEmptySaleType(t *testing.T) {
	tr, header := newPropertyTransformer(t, NawyProperties(), job.RunConfig{
		SaleTypes: []string{"primary"},
	})

	// Values end before the sale_type column, so its cell is nil
	row := rowFrom(header, 4, map[string]any{"id": "4"})
	row.Values = row.Values[:1]
	require.Equal(t, "id", header[0])

	_, _, err := tr.TransformRow(row)
	var drop *DropError
	require.True(t, errors.As(err, &drop))
	assert.Equal(t, "filtered sale_type (empty)", drop.Reason)

	nilExcluded, header := newPropertyTransformer(t, NawyProperties(), job.RunConfig{
		ExcludeSaleTypes: []string{"<nil>"},
	})
	row = rowFrom(header, 5, map[string]any{"id": "5"})
	row.Values = row.Values[:1]
	rec, _, err := nilExcluded.TransformRow(row)
	require.NoError(t, err)
	assert.Nil(t, rec["sale_type"])
}
