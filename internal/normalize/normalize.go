// Package normalize turns raw headers written by different acquisition
// programs into one canonical metadata record.
//
// A Chain holds handlers in priority order. The first handler whose match
// predicate accepts the header extracts every field; handlers start from
// the shared default rules and replace only the rules that differ for
// their vendor. The generic handler is last and matches everything.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"skycat/internal/header"
	"skycat/internal/model"
)

// Logger receives coordinate failures, which never fail a record.
type Logger interface {
	Warn(msg string, args ...any)
}

type (
	stringRule func(h *header.Header) (string, error)
	floatRule  func(h *header.Header) (*float64, error)
	intRule    func(h *header.Header) (*int64, error)
)

// rules is the extraction contract every handler supplies.
type rules struct {
	imageType stringRule
	filter    stringRule
	camera    stringRule
	telescope stringRule
	object    stringRule
	exposure  floatRule
	gain      intRule
	offset    intRule
	binning   intRule
	setTemp   floatRule
	dateObs   func(h *header.Header) *time.Time
	position  func(h *header.Header) (*model.SkyPosition, error)
}

// Handler pairs a match predicate with its extraction rules.
type Handler struct {
	Name  string
	match func(h *header.Header) bool
	rules rules
}

// Matches reports whether the handler accepts h.
func (hd Handler) Matches(h *header.Header) bool {
	return hd.match(h)
}

func defaultRules() rules {
	return rules{
		imageType: func(h *header.Header) (string, error) { return ImageType(text(h, "IMAGETYP")), nil },
		filter:    textRule("FILTER"),
		camera:    textRule("INSTRUME"),
		telescope: textRule("TELESCOP"),
		object:    textRule("OBJECT"),
		exposure:  floatKeys("EXPOSURE"),
		gain:      intKeys("GAIN"),
		offset:    intKeys("OFFSET"),
		binning: func(h *header.Header) (*int64, error) {
			if v := first(h, "XBINNING"); v != nil {
				return toInt(v)
			}
			one := int64(1)
			return &one, nil
		},
		setTemp: floatKeys("SET-TEMP"),
		dateObs: func(h *header.Header) *time.Time { return ParseTimestamp(text(h, "DATE-OBS")) },
		position: func(h *header.Header) (*model.SkyPosition, error) {
			return Coordinates(h)
		},
	}
}

func creatorContains(keyword, product string) func(h *header.Header) bool {
	return func(h *header.Header) bool {
		return strings.Contains(text(h, keyword), product)
	}
}

// SharpCap detects SharpCap via SWCREATE. Its IMAGETYP is only upper-cased
// and its exposure lives in EXPTIME.
func SharpCap() Handler {
	r := defaultRules()
	r.imageType = func(h *header.Header) (string, error) {
		return canonicalImageType(strings.ToUpper(strings.TrimSpace(text(h, "IMAGETYP")))), nil
	}
	r.exposure = floatKeys("EXPTIME")
	return Handler{Name: "sharpcap", match: creatorContains("SWCREATE", "SharpCap"), rules: r}
}

// SGP detects Sequence Generator Pro via CREATOR.
func SGP() Handler {
	return Handler{Name: "sgp", match: creatorContains("CREATOR", "Sequence Generator Pro"), rules: defaultRules()}
}

// NINA detects N.I.N.A. via SWCREATE.
func NINA() Handler {
	return Handler{Name: "nina", match: creatorContains("SWCREATE", "N.I.N.A."), rules: defaultRules()}
}

// Generic matches every header and tries alternate spellings per field.
// The exposure keyword order EXPTIME, EXPOSURE, EXP is significant: files
// may carry several of them with different values.
func Generic() Handler {
	r := defaultRules()
	r.imageType = func(h *header.Header) (string, error) {
		return ImageType(text(h, "IMAGETYP", "OBSTYPE")), nil
	}
	r.filter = textRule("FILTER", "FILTNAME")
	r.exposure = floatKeys("EXPTIME", "EXPOSURE", "EXP")
	r.binning = combinedBinning
	r.setTemp = floatKeys("SET-TEMP", "CCDTEMP")
	return Handler{Name: "generic", match: func(*header.Header) bool { return true }, rules: r}
}

// combinedBinning reads XBINNING, else the first factor of an "N*N"
// BINNING value, else reports no binning.
func combinedBinning(h *header.Header) (*int64, error) {
	if v := first(h, "XBINNING"); v != nil {
		return toInt(v)
	}
	combined := text(h, "BINNING")
	if factor, _, ok := strings.Cut(combined, "*"); ok {
		return toInt(strings.TrimSpace(factor))
	}
	return nil, nil
}

// Chain evaluates handlers in order.
type Chain struct {
	handlers []Handler
	logger   Logger
}

// NewChain returns the standard chain: SharpCap, SGP, NINA, generic.
func NewChain(logger Logger) *Chain {
	return NewChainWith(logger, SharpCap(), SGP(), NINA(), Generic())
}

// NewChainWith builds a chain from explicit handlers, in priority order.
func NewChainWith(logger Logger, handlers ...Handler) *Chain {
	return &Chain{handlers: handlers, logger: logger}
}

// Handler returns the handler that would process h, or false if none
// matches.
func (c *Chain) Handler(h *header.Header) (Handler, bool) {
	for _, hd := range c.handlers {
		if hd.Matches(h) {
			return hd, true
		}
	}
	return Handler{}, false
}

// Normalize extracts the canonical record for fileID from h. A field that
// cannot be converted fails the whole record; a bad sky position is logged
// and leaves the position empty.
func (c *Chain) Normalize(fileID string, h *header.Header) (*model.ImageMetadata, error) {
	hd, ok := c.Handler(h)
	if !ok {
		return nil, fmt.Errorf("no handler accepts the header")
	}
	r := hd.rules

	m := &model.ImageMetadata{FileID: fileID}
	var err error
	texts := []struct {
		name string
		rule stringRule
		dst  *string
	}{
		{"image type", r.imageType, &m.ImageType},
		{"filter", r.filter, &m.Filter},
		{"camera", r.camera, &m.Camera},
		{"telescope", r.telescope, &m.Telescope},
		{"object", r.object, &m.ObjectName},
	}
	for _, f := range texts {
		if *f.dst, err = f.rule(h); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", hd.Name, f.name, err)
		}
	}

	floats := []struct {
		name string
		rule floatRule
		dst  **float64
	}{
		{"exposure", r.exposure, &m.Exposure},
		{"set temperature", r.setTemp, &m.SetTemp},
	}
	for _, f := range floats {
		if *f.dst, err = f.rule(h); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", hd.Name, f.name, err)
		}
	}

	ints := []struct {
		name string
		rule intRule
		dst  **int64
	}{
		{"gain", r.gain, &m.Gain},
		{"offset", r.offset, &m.Offset},
		{"binning", r.binning, &m.Binning},
	}
	for _, f := range ints {
		if *f.dst, err = f.rule(h); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", hd.Name, f.name, err)
		}
	}

	m.DateObs = r.dateObs(h)

	pos, err := r.position(h)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("ignoring sky position", "file_id", fileID, "err", err)
		}
		pos = nil
	}
	m.Position = pos
	return m, nil
}
