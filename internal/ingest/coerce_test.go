package ingest

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKinds = []Kind{KindString, KindInt, KindFloat, KindBool, KindDate, KindObject, KindIdentifier}

func TestCoerceMissingIsNullForEveryKind(t *testing.T) {
	for _, raw := range []any{nil, "", "   ", "nan", "NaN", " NAN ", math.NaN()} {
		for _, kind := range allKinds {
			got, err := Coerce(raw, kind)
			assert.NoError(t, err, "kind=%s raw=%#v", kind, raw)
			assert.Nil(t, got, "kind=%s raw=%#v", kind, raw)
		}
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		raw     any
		want    any
		wantErr bool
	}{
		{raw: "3", want: int64(3)},
		{raw: "3.0", want: int64(3)},
		{raw: "3.9", want: int64(3)},
		{raw: "-7", want: int64(-7)},
		{raw: "1,234", want: int64(1234)},
		{raw: 12.0, want: int64(12)},
		{raw: 5, want: int64(5)},
		{raw: "abc", wantErr: true},
		{raw: "1e30", wantErr: true},
		{raw: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		got, err := Coerce(tt.raw, KindInt)
		if tt.wantErr {
			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "raw=%#v: want ParseError, got %v", tt.raw, err)
			assert.Nil(t, got)
			continue
		}
		require.NoError(t, err, "raw=%#v", tt.raw)
		assert.Equal(t, tt.want, got, "raw=%#v", tt.raw)
	}
}

func TestCoerceFloat(t *testing.T) {
	tests := []struct {
		raw     any
		want    any
		wantErr bool
	}{
		{raw: "1,234.0", want: 1234.0},
		{raw: "1,234,567.5", want: 1234567.5},
		{raw: "12,5", want: 12.5},
		{raw: " 42 ", want: 42.0},
		{raw: "-0.25", want: -0.25},
		{raw: int64(3), want: 3.0},
		{raw: "inf", wantErr: true},
		{raw: "-Infinity", wantErr: true},
		{raw: "1e400", wantErr: true},
		{raw: math.Inf(-1), wantErr: true},
		{raw: "twelve", wantErr: true},
	}

	for _, tt := range tests {
		got, err := Coerce(tt.raw, KindFloat)
		if tt.wantErr {
			assert.Error(t, err, "raw=%#v", tt.raw)
			assert.Nil(t, got, "raw=%#v", tt.raw)
			continue
		}
		require.NoError(t, err, "raw=%#v", tt.raw)
		assert.Equal(t, tt.want, got, "raw=%#v", tt.raw)
	}
}

func TestCoerceBool(t *testing.T) {
	cases := map[any]bool{
		"false": false,
		"FALSE": false,
		"0":     false,
		"0.0":   false,
		"no":    false,
		"off":   false,
		"true":  true,
		"1":     true,
		"yes":   true,
		"x":     true,
		true:    true,
		false:   false,
		1.0:     true,
		0.0:     false,
	}
	for raw, want := range cases {
		got, err := Coerce(raw, KindBool)
		require.NoError(t, err)
		assert.Equal(t, want, got, "raw=%#v", raw)
	}
}

func TestCoerceString(t *testing.T) {
	got, _ := Coerce("  Palm Hills  ", KindString)
	assert.Equal(t, "Palm Hills", got)

	got, _ = Coerce(3.0, KindString)
	assert.Equal(t, "3", got)

	got, _ = Coerce(map[string]any{"a": 1.0}, KindString)
	assert.Equal(t, `{"a":1}`, got)
}

func TestCoerceDate(t *testing.T) {
	tests := []struct {
		raw  any
		want string
	}{
		{raw: "31.01.2026", want: "2026-01-31"},
		{raw: "31.01.26", want: "2026-01-31"},
		{raw: "31/01/2026", want: "2026-01-31"},
		{raw: "3/4/2024", want: "2024-04-03"},
		{raw: "03/04/24", want: "2024-04-03"},
		{raw: "2026-01-31", want: "2026-01-31"},
		{raw: "2024-03-05T10:30:00Z", want: "2024-03-05T10:30:00Z"},
		{raw: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), want: "2025-06-01"},
	}
	for _, tt := range tests {
		got, err := Coerce(tt.raw, KindDate)
		require.NoError(t, err, "raw=%#v", tt.raw)
		assert.Equal(t, tt.want, got, "raw=%#v", tt.raw)
	}

	// Not a day-first date; never re-read as 25 December
	got, err := Coerce("12/25/2024", KindDate)
	assert.Nil(t, got)
	assert.Error(t, err)

	got, err = Coerce("sometime soon", KindDate)
	assert.Nil(t, got)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindDate, pe.Kind)
}

func TestCoerceObjectPythonLiteral(t *testing.T) {
	got, err := Coerce("{'name': 'X', 'id': 7}", KindObject)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "X", "id": 7.0}, got)

	got, err = Coerce("{'phase': None, 'is_launch': True, 'sold': False}", KindObject)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"phase": nil, "is_launch": true, "sold": false}, got)

	got, err = Coerce("[{'down_payment': 10, 'years': 8}, {'down_payment': 5, 'years': 10}]", KindObject)
	require.NoError(t, err)
	plans, ok := got.([]any)
	require.True(t, ok)
	assert.Len(t, plans, 2)
}

func TestCoerceObjectKeepsTextInsideStrings(t *testing.T) {
	got, err := Coerce(`{'name': "Mountain View's None", 'note': 'say "True"'}`, KindObject)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name": "Mountain View's None",
		"note": `say "True"`,
	}, got)
}

func TestCoerceObjectAlreadyJSON(t *testing.T) {
	got, err := Coerce(`{"id": 3, "name": "Zed"}`, KindObject)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 3.0, "name": "Zed"}, got)
}

func TestCoerceObjectMalformed(t *testing.T) {
	for _, raw := range []string{"{'a': ", "not json", "42", "'just a string'", "{'a': 1,,}"} {
		got, err := Coerce(raw, KindObject)
		assert.Nil(t, got, "raw=%q", raw)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "raw=%q", raw)
	}
}

func TestCoerceObjectPreviewIsTruncated(t *testing.T) {
	raw := "{'broken': " + strings.Repeat("é", 500)
	_, err := Coerce(raw, KindObject)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.LessOrEqual(t, len([]rune(pe.Preview)), previewLimit+3)
	assert.True(t, strings.HasSuffix(pe.Preview, "..."))
}

func TestCoerceIdentifier(t *testing.T) {
	cases := map[any]string{
		"24.0":  "24",
		"24":    "24",
		"D24":   "D24",
		"B-12":  "B-12",
		"12.5":  "12.5",
		24.0:    "24",
		"1e3":   "1e3",
		" A7 ":  "A7",
		"007":   "007",
		"007.0": "007",
		"+5":    "+5",
		"24.00": "24",
		"24.01": "24.01",
	}
	for raw, want := range cases {
		got, err := Coerce(raw, KindIdentifier)
		require.NoError(t, err)
		assert.Equal(t, want, got, "raw=%#v", raw)
	}
}

func TestCoerceNeverPanics(t *testing.T) {
	inputs := []any{
		"", " ", "\t\n", "nan", "-1", "-0", "-999999999999999999999",
		"99999999999999999999999999999999", "1e308", "1e309", "0x1F", "١٢٣",
		"{", "}", "[", "{'a': [1, 2, {'b': None}", "'", `"`, `\`, "{'a': '\\",
		"None", "True", "{None: None}", strings.Repeat("[", 1000),
		math.MaxFloat64, -math.MaxFloat64, math.Inf(1), math.Inf(-1),
		int64(math.MaxInt64), int64(math.MinInt64), true, []byte("x"), struct{}{},
	}

	for _, raw := range inputs {
		for _, kind := range allKinds {
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Errorf("Coerce(%#v, %s) panicked: %v", raw, kind, r)
					}
				}()
				Coerce(raw, kind)
			}()
		}
	}
}

func TestCoerceIsIdempotent(t *testing.T) {
	inputs := map[Kind][]any{
		KindString:     {"  x ", 7.0, "Cairo"},
		KindInt:        {"3.0", "1,234", 9.0},
		KindFloat:      {"1,234.0", "12,5", 3},
		KindBool:       {"no", "yes", "0"},
		KindDate:       {"31.01.2026", "2024-03-05T10:30:00Z"},
		KindObject:     {"{'name': 'X', 'id': 7}", "[1, None]"},
		KindIdentifier: {"24.0", "D24", 7.0},
	}

	for kind, raws := range inputs {
		for _, raw := range raws {
			once, err := Coerce(raw, kind)
			require.NoError(t, err, "kind=%s raw=%#v", kind, raw)
			twice, err := Coerce(once, kind)
			require.NoError(t, err, "kind=%s raw=%#v", kind, raw)
			assert.Equal(t, once, twice, "kind=%s raw=%#v", kind, raw)
		}
	}
}
