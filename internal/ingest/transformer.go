package ingest

import (
	"fmt"
	"strings"

	"github.com/ryabkov82/listing-ingest/internal/job"
)

// missingNaturalKey is the drop reason for rows without a source id
const missingNaturalKey = "missing natural key"

// Transformer converts source rows to destination records
type Transformer struct {
	schema   *Schema
	indexes  []int // Precomputed column indexes, -1 for absent optional columns
	saleIdx  int
	include  map[string]bool
	exclude  map[string]bool
	missing  []string
	keyIndex int
}

// NewTransformer creates a new transformer with precomputed column indexes.
// It fails with ErrMissingColumns when a required column is absent.
func NewTransformer(schema *Schema, header []string, run job.RunConfig) (*Transformer, error) {
	optionalMissing, err := schema.CheckHeader(header)
	if err != nil {
		return nil, err
	}

	positions := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := positions[name]; !dup {
			positions[name] = i
		}
	}

	t := &Transformer{
		schema:   schema,
		indexes:  make([]int, len(schema.Fields)),
		saleIdx:  -1,
		include:  lowerSet(run.SaleTypes),
		exclude:  lowerSet(append(append([]string(nil), schema.ExcludeSaleTypes...), run.ExcludeSaleTypes...)),
		missing:  optionalMissing,
		keyIndex: -1,
	}

	for i, field := range schema.Fields {
		idx, ok := positions[field.Source]
		if !ok {
			idx = -1
		}
		t.indexes[i] = idx
		if field.Out == schema.NaturalKey {
			t.keyIndex = i
		}
	}
	if t.keyIndex < 0 {
		return nil, fmt.Errorf("schema %s: natural key %s is not a declared field", schema.Table, schema.NaturalKey)
	}

	if schema.SaleTypeColumn != "" {
		if idx, ok := positions[schema.SaleTypeColumn]; ok {
			t.saleIdx = idx
		}
	}

	return t, nil
}

// MissingOptional returns the optional source columns absent from the header
func (t *Transformer) MissingOptional() []string {
	return t.missing
}

// TransformRow maps one source row to a record. A row that does not become
// a record yields a *DropError. Field warnings never prevent the record from
// being produced; the affected fields are null.
func (t *Transformer) TransformRow(row SourceRow) (Record, []FieldWarning, error) {
	keySpec := t.schema.Fields[t.keyIndex]
	key, _ := Coerce(cell(row, t.indexes[t.keyIndex]), keySpec.Kind)
	if key == nil {
		return nil, nil, &DropError{RowNo: row.RowNo, Reason: missingNaturalKey}
	}

	if reason, filtered := t.filterSaleType(row); filtered {
		return nil, nil, &DropError{RowNo: row.RowNo, Reason: reason, Filtered: true}
	}

	size := len(t.schema.Fields) + len(t.schema.Constants) + len(t.schema.PaymentProjection)
	record := make(Record, size)
	var warnings []FieldWarning

	for i, field := range t.schema.Fields {
		if i == t.keyIndex {
			record[field.Out] = key
			continue
		}

		value, err := Coerce(cell(row, t.indexes[i]), field.Kind)
		if err != nil {
			warnings = append(warnings, FieldWarning{Field: field.Out, Err: err})
		}
		if value == nil && field.Default != nil {
			value = field.Default
		}
		record[field.Out] = value
	}

	warnings = append(warnings, t.projectPaymentPlan(record)...)

	for name, value := range t.schema.Constants {
		record[name] = value
	}

	return record, warnings, nil
}

// projectPaymentPlan copies scalar keys of the first plan into flat columns.
// Every projected column is always present so that all records of a batch
// share the same keys.
func (t *Transformer) projectPaymentPlan(record Record) []FieldWarning {
	if len(t.schema.PaymentProjection) == 0 {
		return nil
	}

	var first map[string]any
	if plans, ok := record[t.schema.PaymentPlans].([]any); ok && len(plans) > 0 {
		first, _ = plans[0].(map[string]any)
	}

	var warnings []FieldWarning
	for _, p := range t.schema.PaymentProjection {
		if first == nil {
			record[p.Out] = nil
			continue
		}
		value, err := Coerce(first[p.Key], p.Kind)
		if err != nil {
			warnings = append(warnings, FieldWarning{Field: p.Out, Err: err})
		}
		record[p.Out] = value
	}
	return warnings
}

func (t *Transformer) filterSaleType(row SourceRow) (string, bool) {
	if len(t.include) == 0 && len(t.exclude) == 0 {
		return "", false
	}

	saleType := ""
	if v, err := Coerce(cell(row, t.saleIdx), KindString); err == nil {
		if s, ok := v.(string); ok {
			saleType = strings.ToLower(s)
		}
	}

	if len(t.include) > 0 && !t.include[saleType] {
		return filteredReason(saleType), true
	}
	if t.exclude[saleType] {
		return filteredReason(saleType), true
	}
	return "", false
}

func filteredReason(saleType string) string {
	if saleType == "" {
		saleType = "(empty)"
	}
	return "filtered sale_type " + saleType
}

func cell(row SourceRow, idx int) any {
	if idx < 0 || idx >= len(row.Values) {
		return nil
	}
	return row.Values[idx]
}

func lowerSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}
