package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"skycat/internal/header"
)

// first returns the value of the first keyword that is present with a
// defined value.
func first(h *header.Header, keys ...string) any {
	for _, k := range keys {
		if v, ok := h.Get(k); ok && v != nil {
			return v
		}
	}
	return nil
}

// text returns the first defined keyword value as trimmed text.
func text(h *header.Header, keys ...string) string {
	return strings.TrimSpace(asString(first(h, keys...)))
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "T"
		}
		return "F"
	case header.Literal:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func textRule(keys ...string) stringRule {
	return func(h *header.Header) (string, error) { return text(h, keys...), nil }
}

func floatKeys(keys ...string) floatRule {
	return func(h *header.Header) (*float64, error) { return toFloat(first(h, keys...)) }
}

func intKeys(keys ...string) intRule {
	return func(h *header.Header) (*int64, error) { return toInt(first(h, keys...)) }
}

func toFloat(v any) (*float64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		f = float64(x)
	case float64:
		f = x
	case string, header.Literal:
		s := strings.TrimSpace(asString(x))
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", s)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("not a number: %v", v)
	}
	return &f, nil
}

// toInt converts to an integer, truncating fractional values.
func toInt(v any) (*int64, error) {
	var i int64
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		i = x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("not an integer: %v", x)
		}
		i = int64(x)
	case string, header.Literal:
		s := strings.TrimSpace(asString(x))
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return nil, fmt.Errorf("not an integer: %q", s)
			}
			parsed = int64(f)
		}
		i = parsed
	default:
		return nil, fmt.Errorf("not an integer: %v", v)
	}
	return &i, nil
}

var imageTypes = map[string]string{
	"LIGHT":      "LIGHT",
	"DARK":       "DARK",
	"FLAT":       "FLAT",
	"BIAS":       "BIAS",
	"FLAT FIELD": "FLAT",
	"DARKFLAT":   "DARKFLAT",
	"DARK FLAT":  "DARKFLAT",
}

// ImageType upper-cases raw, strips a " FRAME" suffix and maps common
// spellings onto LIGHT, DARK, FLAT, BIAS, DARKFLAT and their MASTER
// forms.
// Unrecognized values are kept upper-cased.
func ImageType(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimSpace(strings.ReplaceAll(s, " FRAME", ""))
	return canonicalImageType(s)
}

func canonicalImageType(s string) string {
	if s == "" {
		return ""
	}
	if base, ok := imageTypes[s]; ok {
		return base
	}
	rest, master := strings.CutPrefix(s, "MASTER")
	if !master {
		return s
	}
	rest = strings.TrimLeft(rest, " _-")
	if base, ok := imageTypes[rest]; ok {
		return "MASTER " + base
	}
	return s
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp reads an ISO-8601 timestamp. A trailing Z or an offset is
// honored; values without a zone are UTC. Empty, "N/A" and unparsable
// values give nil.
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
