package header

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mholt/archives"
)

// Format identifies a supported container.
type Format string

const (
	FormatFITS Format = "fits"
	FormatXISF Format = "xisf"
)

var decompressors = map[string]archives.Decompressor{
	".gz":  archives.Gz{},
	".bz2": archives.Bz2{},
	".xz":  archives.Xz{},
}

var (
	fitsExtensions        = []string{".fit", ".fits"}
	compressionExtensions = []string{".gz", ".bz2", ".xz"}
)

// CompressionSuffix returns the lower-cased compression extension of
// name, or "" if it has none.
func CompressionSuffix(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if _, ok := decompressors[ext]; ok {
		return ext
	}
	return ""
}

// DetectFormat classifies a file by name. FITS files may carry a
// compression suffix; XISF files may not.
func DetectFormat(name string) (Format, bool) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".xisf") {
		return FormatXISF, true
	}
	base := strings.TrimSuffix(lower, CompressionSuffix(lower))
	for _, ext := range fitsExtensions {
		if strings.HasSuffix(base, ext) {
			return FormatFITS, true
		}
	}
	return "", false
}

// Variants lists the names under which the same FITS image may be
// stored: plain and with each compression suffix. name itself comes first.
func Variants(name string) []string {
	if f, ok := DetectFormat(name); !ok || f != FormatFITS {
		return []string{name}
	}
	base := name[:len(name)-len(CompressionSuffix(name))]
	out := []string{name}
	if base != name {
		out = append(out, base)
	}
	for _, ext := range compressionExtensions {
		if v := base + ext; !strings.EqualFold(v, name) {
			out = append(out, v)
		}
	}
	return out
}

// OpenDecompressed wraps r with a decompressor chosen by the suffix of
// name. Uncompressed files are returned as-is.
func OpenDecompressed(name string, r io.Reader) (io.ReadCloser, error) {
	d, ok := decompressors[CompressionSuffix(name)]
	if !ok {
		return io.NopCloser(r), nil
	}
	rc, err := d.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening %s stream: %w", CompressionSuffix(name), err)
	}
	return rc, nil
}
