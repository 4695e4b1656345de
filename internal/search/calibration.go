package search

import (
	"strconv"
	"time"

	"skycat/internal/model"
)

// CalibrationWindow is how far from a frame's DATE-OBS a matching flat
// may have been taken.
const CalibrationWindow = 24 * time.Hour

// FindDark returns a filter for darks that calibrate ref: same camera,
// exposure, set point, gain, offset and binning. A flat is calibrated by
// darkflats instead. Attributes ref lacks are left unconstrained.
func FindDark(ref *model.ImageMetadata) Filter {
	f := Filter{ImageType: Is("DARK")}
	if ref.ImageType == "FLAT" {
		f.ImageType = Is("DARKFLAT")
	}
	f.Camera = textField(ref.Camera)
	f.Exposure = floatField(ref.Exposure)
	f.SetTemp = floatField(ref.SetTemp)
	f.Gain = intField(ref.Gain)
	f.Offset = intField(ref.Offset)
	f.Binning = intField(ref.Binning)
	return f
}

// FindFlat returns a filter for flats that calibrate ref: same camera,
// filter and binning, taken within CalibrationWindow of it.
func FindFlat(ref *model.ImageMetadata) Filter {
	f := Filter{
		ImageType: Is("FLAT"),
		Camera:    textField(ref.Camera),
		Filter:    textField(ref.Filter),
		Binning:   intField(ref.Binning),
	}
	if ref.DateObs != nil {
		from := ref.DateObs.Add(-CalibrationWindow)
		to := ref.DateObs.Add(CalibrationWindow)
		f.From, f.To = &from, &to
	}
	return f
}

func textField(s string) Field[string] {
	if s == "" {
		return Field[string]{}
	}
	return Is(s)
}

func floatField(v *float64) Field[string] {
	if v == nil {
		return Field[string]{}
	}
	return Is(strconv.FormatFloat(*v, 'g', -1, 64))
}

func intField(v *int64) Field[string] {
	if v == nil {
		return Field[string]{}
	}
	return Is(strconv.FormatInt(*v, 10))
}
