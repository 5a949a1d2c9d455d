package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
)

// Kind is the destination type of a column
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindDate   Kind = "date"
	KindObject Kind = "object"
	// KindIdentifier is text that may look numeric, such as a building code.
	// "24.0" becomes "24" while "D24" is kept as is.
	KindIdentifier Kind = "identifier"
)

// previewLimit bounds how much of an offending cell is echoed into warnings
const previewLimit = 100

// ParseError describes a cell that could not be coerced. It is a warning:
// the coerced value is already null when it is returned.
type ParseError struct {
	Kind    Kind
	Message string
	Preview string
}

func (e *ParseError) Error() string {
	if e.Preview == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s (value %q)", e.Kind, e.Message, e.Preview)
}

var zeroFraction = regexp.MustCompile(`^\d+\.0+$`)

var thousandsPattern = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

var falsyLiterals = []string{"false", "0", "0.0", "no", "n", "off", "f"}

// Coerce converts a raw cell into a value of the given kind. Missing cells
// (nil, empty, whitespace, "nan") become nil without a warning. Cells that
// cannot be converted become nil together with a *ParseError. Coerce never
// panics, and applying it to its own output returns the same value.
func Coerce(raw any, kind Kind) (any, error) {
	if isMissing(raw) {
		return nil, nil
	}

	switch kind {
	case KindString:
		return coerceString(raw), nil
	case KindInt:
		return coerceInt(raw)
	case KindFloat:
		return coerceFloat(raw)
	case KindBool:
		return coerceBool(raw), nil
	case KindDate:
		return coerceDate(raw)
	case KindObject:
		return coerceObject(raw)
	case KindIdentifier:
		return coerceIdentifier(raw), nil
	default:
		return nil, &ParseError{Kind: kind, Message: "unknown kind"}
	}
}

func isMissing(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(v)
		return s == "" || strings.EqualFold(s, "nan")
	case float64:
		return math.IsNaN(v)
	case float32:
		return math.IsNaN(float64(v))
	}
	return false
}

func coerceString(raw any) any {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		s = formatDate(v)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		s = string(b)
	default:
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func coerceInt(raw any) (any, error) {
	var f float64
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		f = v
	case float32:
		f = float64(v)
	case string:
		parsed, err := parseNumber(v)
		if err != nil {
			return nil, &ParseError{Kind: KindInt, Message: "not a number", Preview: preview(v)}
		}
		f = parsed
	default:
		return nil, &ParseError{Kind: KindInt, Message: fmt.Sprintf("unsupported type %T", raw)}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &ParseError{Kind: KindInt, Message: "not finite"}
	}
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return nil, &ParseError{Kind: KindInt, Message: "out of range", Preview: strconv.FormatFloat(f, 'g', -1, 64)}
	}
	return int64(f), nil
}

func coerceFloat(raw any) (any, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := parseNumber(v)
		if err != nil {
			return nil, &ParseError{Kind: KindFloat, Message: "not a number", Preview: preview(v)}
		}
		f = parsed
	default:
		return nil, &ParseError{Kind: KindFloat, Message: fmt.Sprintf("unsupported type %T", raw)}
	}

	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, &ParseError{Kind: KindFloat, Message: "not finite"}
	}
	return f, nil
}

// parseNumber accepts plain numbers, thousands separators ("1,234.0") and a
// decimal comma ("12,5").
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch {
	case thousandsPattern.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1 && !strings.Contains(s, "."):
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

func coerceBool(raw any) any {
	switch v := raw.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		s := strings.TrimSpace(v)
		for _, lit := range falsyLiterals {
			if strings.EqualFold(s, lit) {
				return false
			}
		}
		return true
	}
	return true
}

// Numeric dates with dots or slashes are always day-first. A value that is
// not a valid day-first date is rejected rather than re-read month-first, so
// one column never mixes both conventions.
var (
	dayFirstLayouts = []string{"2.1.2006", "2.1.06", "2/1/2006", "2/1/06"}
	numericDate     = regexp.MustCompile(`^\d{1,2}[./]\d{1,2}[./]\d{2,4}$`)
)

func coerceDate(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return formatDate(v), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dayFirstLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return formatDate(t), nil
			}
		}
		if numericDate.MatchString(s) {
			return nil, &ParseError{Kind: KindDate, Message: "invalid day-first date", Preview: preview(s)}
		}
		t, err := parseAnyDate(s)
		if err != nil {
			return nil, &ParseError{Kind: KindDate, Message: "unrecognized date", Preview: preview(s)}
		}
		return formatDate(t), nil
	}
	return nil, &ParseError{Kind: KindDate, Message: fmt.Sprintf("unsupported type %T", raw)}
}

// parseAnyDate guards the format sniffer against malformed input
func parseAnyDate(s string) (t time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("date parser: %v", r)
		}
	}()
	return dateparse.ParseAny(s)
}

// formatDate renders a calendar date as YYYY-MM-DD and anything with a clock
// component as RFC 3339.
func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

func coerceObject(raw any) (any, error) {
	switch v := raw.(type) {
	case map[string]any, []any:
		return v, nil
	case string:
		text := strings.TrimSpace(v)
		var out any
		if err := json.Unmarshal([]byte(pythonLiteralToJSON(text)), &out); err != nil {
			return nil, &ParseError{Kind: KindObject, Message: err.Error(), Preview: preview(text)}
		}
		switch out.(type) {
		case map[string]any, []any:
			return out, nil
		}
		return nil, &ParseError{Kind: KindObject, Message: "not an object or list", Preview: preview(text)}
	}
	return nil, &ParseError{Kind: KindObject, Message: fmt.Sprintf("unsupported type %T", raw)}
}

// pythonLiteralToJSON rewrites a Python repr of a dict or list into JSON:
// single-quoted strings become double-quoted and the bare literals None,
// True and False become null, true and false. Text inside strings is never
// rewritten, so values such as "Mountain View's" survive.
func pythonLiteralToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			i = copyQuoted(&b, s, i)
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			switch word := s[i:j]; word {
			case "None":
				b.WriteString("null")
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			default:
				b.WriteString(word)
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// copyQuoted writes the string literal starting at s[start] as a JSON string
// and returns the index just past its closing quote.
func copyQuoted(b *strings.Builder, s string, start int) int {
	quote := s[start]
	b.WriteByte('"')
	i := start + 1
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			next := s[i+1]
			if next == '\'' {
				b.WriteByte('\'')
			} else {
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			i += 2
		case c == quote:
			b.WriteByte('"')
			return i + 1
		case c == '"':
			// only reachable inside a single-quoted literal
			b.WriteString(`\"`)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	// Unterminated literal; let the JSON decoder report it
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func coerceIdentifier(raw any) any {
	switch v := raw.(type) {
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}

	s, ok := coerceString(raw).(string)
	if !ok {
		return nil
	}
	// Spreadsheet exports render integer ids as "24.0"; every other digit
	// string, leading zeros included, is kept as written
	if zeroFraction.MatchString(s) {
		return s[:strings.IndexByte(s, '.')]
	}
	return s
}

// preview truncates s to previewLimit runes
func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLimit {
		return s
	}
	r := []rune(s)
	return string(r[:previewLimit]) + "..."
}
