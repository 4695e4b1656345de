package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"skycat/internal/header"
	"skycat/internal/healpix"
	"skycat/internal/model"
)

// Coordinates reads the target position from RA/DEC, falling back to
// OBJCTRA/OBJCTDEC. When both values are numeric they are degrees;
// otherwise they are parsed as sexagesimal hours (RA) and degrees (Dec).
// (0, 0) is a placeholder written by several programs and yields nil.
func Coordinates(h *header.Header) (*model.SkyPosition, error) {
	raValue := first(h, "RA", "OBJCTRA")
	decValue := first(h, "DEC", "OBJCTDEC")
	if raValue == nil || decValue == nil {
		return nil, nil
	}

	var ra, dec float64
	if isNumeric(raValue) && isNumeric(decValue) {
		ra, _ = number(raValue)
		dec, _ = number(decValue)
	} else {
		hours, err := angle(raValue)
		if err != nil {
			return nil, fmt.Errorf("parsing RA %v: %w", raValue, err)
		}
		ra = hours * 15
		if dec, err = angle(decValue); err != nil {
			return nil, fmt.Errorf("parsing DEC %v: %w", decValue, err)
		}
	}

	if ra == 0 && dec == 0 {
		return nil, nil
	}
	return Position(ra, dec)
}

// Position validates a position in degrees and attaches its spatial key.
func Position(ra, dec float64) (*model.SkyPosition, error) {
	if dec < -90 || dec > 90 || math.IsNaN(dec) {
		return nil, fmt.Errorf("declination %v out of range", dec)
	}
	if math.IsNaN(ra) || math.IsInf(ra, 0) {
		return nil, fmt.Errorf("invalid right ascension %v", ra)
	}
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	pix, err := healpix.Ang2PixNest(healpix.Nside, ra, dec)
	if err != nil {
		return nil, err
	}
	return &model.SkyPosition{RA: ra, Dec: dec, Pixel: pix}, nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// angle returns a numeric value unchanged and parses text as sexagesimal.
func angle(v any) (float64, error) {
	if f, ok := number(v); ok {
		return f, nil
	}
	return ParseSexagesimal(asString(v))
}

// ParseSexagesimal parses "D M S", "D:M:S", "12h30m00s", "-16d10m58.8s" or
// a plain decimal, returning the value in the leading unit.
func ParseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty angle")
	}
	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', ':', 'h', 'H', 'd', 'D', 'm', 'M', 's', 'S', '°', '\'', '"':
			return true
		}
		return false
	})
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("malformed angle %q", s)
	}

	var parts [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("malformed angle %q", s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("malformed angle %q: component %v out of range", s, v)
		}
		parts[i] = v
	}
	return sign * (parts[0] + parts[1]/60 + parts[2]/3600), nil
}
