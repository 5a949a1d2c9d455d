package ingest

import (
	"fmt"
	"strings"
)

// FieldSpec maps one source column to one destination column
type FieldSpec struct {
	Out    string
	Source string
	Kind   Kind
	// Default replaces a null result, e.g. false for flags
	Default any
	// Optional columns may be absent from the source header
	Optional bool
}

// PaymentProjection copies one key of the first payment plan into a column
type PaymentProjection struct {
	Out  string
	Key  string
	Kind Kind
}

// Schema is the contract between source columns and destination columns
type Schema struct {
	Table string
	// NaturalKey is the destination column holding the source system's id
	NaturalKey string
	Fields     []FieldSpec
	// Constants are written verbatim into every record
	Constants map[string]any

	// PaymentPlans names the destination column holding the plan list
	PaymentPlans      string
	PaymentProjection []PaymentProjection

	// SaleTypeColumn is the source column used by sale type filters
	SaleTypeColumn   string
	ExcludeSaleTypes []string
}

func propertyFields() []FieldSpec {
	return []FieldSpec{
		{Out: "nawy_id", Source: "id", Kind: KindInt},
		{Out: "unit_id", Source: "unit_id", Kind: KindString},
		{Out: "original_unit_id", Source: "original_unit_id", Kind: KindString, Optional: true},
		{Out: "sale_type", Source: "sale_type", Kind: KindString, Optional: true},
		{Out: "unit_number", Source: "unit_number", Kind: KindString},
		{Out: "unit_area", Source: "unit_area", Kind: KindFloat},
		{Out: "number_of_bedrooms", Source: "number_of_bedrooms", Kind: KindInt},
		{Out: "number_of_bathrooms", Source: "number_of_bathrooms", Kind: KindInt},
		{Out: "garden_area", Source: "garden_area", Kind: KindFloat, Optional: true},
		{Out: "roof_area", Source: "roof_area", Kind: KindFloat, Optional: true},
		{Out: "floor_number", Source: "floor_number", Kind: KindInt, Optional: true},
		{Out: "building_number", Source: "building_number", Kind: KindIdentifier, Optional: true},
		{Out: "price_per_meter", Source: "price_per_meter", Kind: KindFloat},
		{Out: "price_in_egp", Source: "price_in_egp", Kind: KindFloat},
		{Out: "currency", Source: "currency", Kind: KindString, Default: "EGP"},
		{Out: "ready_by", Source: "ready_by", Kind: KindDate, Optional: true},
		{Out: "last_inventory_update", Source: "last_inventory_update", Kind: KindDate, Optional: true},
		{Out: "finishing", Source: "finishing", Kind: KindString},
		{Out: "is_launch", Source: "is_launch", Kind: KindBool, Default: false},
		{Out: "image", Source: "image", Kind: KindString},
		{Out: "payment_plans", Source: "payment_plans", Kind: KindObject, Optional: true},
		{Out: "offers", Source: "offers", Kind: KindObject, Optional: true},
		{Out: "compound", Source: "compound", Kind: KindObject},
		{Out: "area", Source: "area", Kind: KindObject},
		{Out: "developer", Source: "developer", Kind: KindObject},
		{Out: "phase", Source: "phase", Kind: KindObject, Optional: true},
		{Out: "property_type", Source: "property_type", Kind: KindObject},
	}
}

func paymentProjections() []PaymentProjection {
	return []PaymentProjection{
		{Out: "down_payment_value", Key: "down_payment_value", Kind: KindFloat},
		{Out: "down_payment_percent", Key: "down_payment", Kind: KindFloat},
		{Out: "monthly_installment", Key: "equal_installments_value", Kind: KindFloat},
		{Out: "payment_years", Key: "years", Kind: KindInt},
	}
}

// NawyProperties is the schema of the nawy_properties table
func NawyProperties() *Schema {
	return &Schema{
		Table:      "nawy_properties",
		NaturalKey: "nawy_id",
		Fields:     propertyFields(),
		Constants: map[string]any{
			"is_active":         true,
			"is_featured":       false,
			"visibility_status": "public",
			"priority_score":    0,
		},
		PaymentPlans:      "payment_plans",
		PaymentProjection: paymentProjections(),
		SaleTypeColumn:    "sale_type",
	}
}

// BRDataProperties is the schema of the brdata_properties table. Resale
// units are never published there.
func BRDataProperties() *Schema {
	s := NawyProperties()
	s.Table = "brdata_properties"
	s.ExcludeSaleTypes = []string{"resale"}
	return s
}

// SchemaByName returns the built-in schema for a destination table
func SchemaByName(table string) (*Schema, error) {
	switch table {
	case "", "nawy_properties":
		return NawyProperties(), nil
	case "brdata_properties":
		return BRDataProperties(), nil
	}
	return nil, fmt.Errorf("no schema for table %q", table)
}

// NaturalKeyField returns the FieldSpec of the natural key column
func (s *Schema) NaturalKeyField() (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Out == s.NaturalKey {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// CheckHeader verifies that every required source column is present. It
// returns the optional columns that are missing so callers can report them.
func (s *Schema) CheckHeader(header []string) ([]string, error) {
	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[strings.TrimSpace(name)] = true
	}

	var missing, optional []string
	for _, f := range s.Fields {
		if present[f.Source] {
			continue
		}
		if f.Optional && f.Out != s.NaturalKey {
			optional = append(optional, f.Source)
			continue
		}
		missing = append(missing, f.Source)
	}

	if len(missing) > 0 {
		return optional, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return optional, nil
}
