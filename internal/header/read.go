package header

import (
	"encoding/json"
	"fmt"
	"io"
)

// Raw is the cacheable form of a header: the FITS block sequence, or the
// JSON-encoded keyword dictionary of an XISF image.
type Raw struct {
	Format Format
	Data   []byte
}

// Read extracts the raw header of the file called name from r, choosing
// the reader by name and decompressing first when needed.
func Read(name string, r io.Reader) (*Raw, error) {
	format, ok := DetectFormat(name)
	if !ok {
		return nil, ErrNotRecognized
	}

	switch format {
	case FormatFITS:
		rc, err := OpenDecompressed(name, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		defer rc.Close()
		data, err := ReadFITSHeader(rc)
		if err != nil {
			return nil, err
		}
		return &Raw{Format: FormatFITS, Data: data}, nil
	default:
		k, err := ReadXISFKeywords(r)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("encoding xisf keywords: %w", err)
		}
		return &Raw{Format: FormatXISF, Data: data}, nil
	}
}

// Header decodes the raw bytes into the card model shared by both
// formats.
func (r *Raw) Header() (*Header, error) {
	switch r.Format {
	case FormatFITS:
		return ParseHeader(r.Data), nil
	case FormatXISF:
		k := NewKeywords()
		if err := json.Unmarshal(r.Data, k); err != nil {
			return nil, fmt.Errorf("%w: decoding xisf keywords: %v", ErrCorrupt, err)
		}
		return k.Header(), nil
	default:
		return nil, fmt.Errorf("%w: unknown header format %q", ErrCorrupt, r.Format)
	}
}
