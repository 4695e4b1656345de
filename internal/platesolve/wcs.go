// Package platesolve decides whether an image already carries a sky
// solution, derives hints for an external solver, runs the solver and
// reduces its output to the WCS cards the catalog keeps.
package platesolve

import (
	"fmt"

	"skycat/internal/header"
	"skycat/internal/model"
	"skycat/internal/normalize"
)

// KeepKeywords is the allow-list of WCS cards stored as a solution.
var KeepKeywords = map[string]bool{
	"CRPIX1": true, "CRPIX2": true,
	"CRVAL1": true, "CRVAL2": true,
	"CDELT1": true, "CDELT2": true,
	"CROTA1": true, "CROTA2": true,
	"CD1_1": true, "CD1_2": true, "CD2_1": true, "CD2_2": true,
	"CUNIT1": true, "CUNIT2": true,
	"NAXIS1": true, "NAXIS2": true,
	"CTYPE1": true, "CTYPE2": true,
}

var minimalWCS = []string{"CTYPE1", "CTYPE2", "CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2"}

// IsSolved reports whether h carries a usable solution: the minimal WCS
// keywords plus non-zero scale and rotation terms.
func IsSolved(h *header.Header) bool {
	return HasMinimalWCS(h) && HasValidScale(h) && HasRotation(h)
}

// HasMinimalWCS reports whether every reference keyword is present.
func HasMinimalWCS(h *header.Header) bool {
	for _, k := range minimalWCS {
		if !h.Has(k) {
			return false
		}
	}
	return true
}

// HasValidScale checks the CD matrix diagonal, else CDELT1/CDELT2.
func HasValidScale(h *header.Header) bool {
	if h.Has("CD1_1") && h.Has("CD2_2") {
		return nonZero(h, "CD1_1", "CD2_2")
	}
	if h.Has("CDELT1") && h.Has("CDELT2") {
		return nonZero(h, "CDELT1", "CDELT2")
	}
	return false
}

// HasRotation checks the CD matrix diagonal, else CROTA1/CROTA2.
func HasRotation(h *header.Header) bool {
	if h.Has("CD1_1") && h.Has("CD2_2") {
		return nonZero(h, "CD1_1", "CD2_2")
	}
	if h.Has("CROTA1") && h.Has("CROTA2") {
		return nonZero(h, "CROTA1", "CROTA2")
	}
	return false
}

func nonZero(h *header.Header, keys ...string) bool {
	for _, k := range keys {
		v, ok := number(h, k)
		if !ok || v == 0 {
			return false
		}
	}
	return true
}

func number(h *header.Header, key string) (float64, bool) {
	v, _ := h.Get(key)
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// ExtractWCS returns the allow-listed cards of h, in their original
// order, with NAXIS set to 2.
func ExtractWCS(h *header.Header) *header.Header {
	out := h.Filter(KeepKeywords)
	out.Set("NAXIS", int64(2))
	return out
}

// Center returns the solved image center from CRVAL1/CRVAL2.
func Center(wcs *header.Header) (*model.SkyPosition, error) {
	if !HasMinimalWCS(wcs) {
		return nil, fmt.Errorf("incomplete WCS")
	}
	ra, ok := number(wcs, "CRVAL1")
	if !ok {
		return nil, fmt.Errorf("CRVAL1 is not a number")
	}
	dec, ok := number(wcs, "CRVAL2")
	if !ok {
		return nil, fmt.Errorf("CRVAL2 is not a number")
	}
	return normalize.Position(ra, dec)
}
