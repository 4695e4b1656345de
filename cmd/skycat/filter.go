package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"skycat/internal/model"
	"skycat/internal/search"
)

// fieldFlags map flag names onto the tri-state filter fields. Passing a
// flag with an empty value (--filter "") asks for images where the field
// is missing.
var fieldFlags = []struct {
	name  string
	usage string
	field func(f *search.Filter) *search.Field[string]
}{
	{"type", "image type (LIGHT, DARK, FLAT, BIAS, ...)", func(f *search.Filter) *search.Field[string] { return &f.ImageType }},
	{"filter", "filter name", func(f *search.Filter) *search.Field[string] { return &f.Filter }},
	{"camera", "camera", func(f *search.Filter) *search.Field[string] { return &f.Camera }},
	{"telescope", "telescope (substring)", func(f *search.Filter) *search.Field[string] { return &f.Telescope }},
	{"object", "object name (substring)", func(f *search.Filter) *search.Field[string] { return &f.Object }},
	{"file", "file name (substring)", func(f *search.Filter) *search.Field[string] { return &f.FileName }},
	{"exposure", "exposure in seconds", func(f *search.Filter) *search.Field[string] { return &f.Exposure }},
	{"gain", "sensor gain", func(f *search.Filter) *search.Field[string] { return &f.Gain }},
	{"offset", "sensor offset", func(f *search.Filter) *search.Field[string] { return &f.Offset }},
	{"binning", "binning", func(f *search.Filter) *search.Field[string] { return &f.Binning }},
	{"temp", "sensor set temperature", func(f *search.Filter) *search.Field[string] { return &f.SetTemp }},
}

func addFilterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	for _, ff := range fieldFlags {
		flags.String(ff.name, "", ff.usage)
	}
	flags.String("from", "", "observed on or after (YYYY-MM-DD or RFC 3339)")
	flags.String("to", "", "observed before (YYYY-MM-DD or RFC 3339)")
	flags.String("ra", "", "cone center right ascension, hours")
	flags.String("dec", "", "cone center declination, degrees")
	flags.Float64("radius", search.DefaultRadius, "cone radius, degrees")
	flags.StringSlice("root", nil, "limit to storage roots (repeatable)")
	flags.String("path", "", "directory within the roots")
	flags.Bool("exact", false, "match only files directly in --path")
	flags.String("header", "", "header text: KEY=n, KEY<n, KEY>n or a substring")
}

// rootLister resolves root names given to --root.
type rootLister interface {
	ListRoots(ctx context.Context) ([]*model.StorageRoot, error)
}

// filterFromFlags builds a search filter from the flags registered by
// addFilterFlags.
func filterFromFlags(ctx context.Context, cmd *cobra.Command, roots rootLister) (search.Filter, error) {
	var f search.Filter
	flags := cmd.Flags()

	for _, ff := range fieldFlags {
		if !flags.Changed(ff.name) {
			continue
		}
		v, _ := flags.GetString(ff.name)
		*ff.field(&f) = search.ParseField(&v)
	}

	for _, name := range []string{"from", "to"} {
		v, _ := flags.GetString(name)
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("--%s: %w", name, err)
		}
		if name == "from" {
			f.From = &t
		} else {
			f.To = &t
		}
	}

	f.RA, _ = flags.GetString("ra")
	f.Dec, _ = flags.GetString("dec")
	f.Radius, _ = flags.GetFloat64("radius")
	f.HeaderText, _ = flags.GetString("header")
	f.ExactPaths, _ = flags.GetBool("exact")

	dir, _ := flags.GetString("path")
	rootNames, _ := flags.GetStringSlice("root")
	locations, err := locationsFor(ctx, roots, rootNames, dir)
	if err != nil {
		return f, err
	}
	f.Locations = locations
	return f, nil
}

func locationsFor(ctx context.Context, roots rootLister, names []string, dir string) ([]search.Location, error) {
	if len(names) == 0 {
		if dir == "" {
			return nil, nil
		}
		return []search.Location{{Path: dir}}, nil
	}

	all, err := roots.ListRoots(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*model.StorageRoot, len(all))
	for _, r := range all {
		byName[r.Name] = r
	}

	var out []search.Location
	for _, name := range names {
		r, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown storage root %q", name)
		}
		out = append(out, search.Location{RootID: r.ID, Path: dir})
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
