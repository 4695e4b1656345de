package platesolve

import (
	"strconv"

	"skycat/internal/header"
	"skycat/internal/model"
)

// pixelScaleFactor gives arcseconds per pixel from a pixel size in
// micrometers over a focal length in millimeters.
const pixelScaleFactor = 206.265

// Hint is an approximate pointing and field of view for the solver.
type Hint struct {
	HasPosition bool
	RA          float64 // degrees
	Dec         float64 // degrees
	FOV         float64 // degrees, 0 when unknown
}

// BuildHint derives a hint from the header. A known catalog position
// wins over header keywords. The field of view comes from the image
// height and the pixel scale, which is read from SCALE or PIXSCALE or
// computed from FOCALLEN and YPIXSZ; fallbackFOV is used otherwise.
func BuildHint(h *header.Header, known *model.SkyPosition, fallbackFOV float64) Hint {
	var hint Hint
	if known != nil {
		hint.RA, hint.Dec, hint.HasPosition = known.RA, known.Dec, true
	} else {
		ra, raOK := firstNumber(h, "RA", "CRVAL1")
		dec, decOK := firstNumber(h, "DEC", "CRVAL2")
		if raOK && decOK && ra != 0 && dec != 0 {
			hint.RA, hint.Dec, hint.HasPosition = ra, dec, true
		}
	}

	scale, ok := firstNumber(h, "SCALE", "PIXSCALE")
	if !ok {
		focal, fok := number(h, "FOCALLEN")
		pixel, pok := number(h, "YPIXSZ")
		if fok && pok && focal != 0 && pixel != 0 {
			scale, ok = pixelScaleFactor*pixel/focal, true
		}
	}
	height, hok := number(h, "NAXIS2")
	switch {
	case ok && hok:
		hint.FOV = height * scale / 3600
	case fallbackFOV > 0:
		hint.FOV = fallbackFOV
	}
	return hint
}

func firstNumber(h *header.Header, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := number(h, k); ok {
			return v, true
		}
	}
	return 0, false
}

// Args renders the hint as ASTAP options: RA in hours and south pole
// distance in degrees.
func (h Hint) Args() []string {
	var args []string
	if h.HasPosition {
		args = append(args,
			"-ra", strconv.FormatFloat(h.RA/15, 'f', -1, 64),
			"-spd", strconv.FormatFloat(90+h.Dec, 'f', -1, 64))
	}
	if h.FOV > 0 {
		args = append(args, "-fov", strconv.FormatFloat(h.FOV, 'f', -1, 64))
	}
	return args
}
