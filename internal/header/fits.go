package header

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var simpleMarker = []byte("SIMPLE  =")

// ReadFITSHeader reads whole 2880-byte blocks from r until a block holds
// the END record and returns everything read. The pixel data that follows
// is never touched. r must already be decompressed.
func ReadFITSHeader(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	block := make([]byte, BlockSize)
	for first := true; ; first = false {
		n, err := io.ReadFull(r, block)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("reading header block: %w", err)
			}
			if first && !bytes.HasPrefix(block[:n], simpleMarker) {
				return nil, ErrNotRecognized
			}
			return nil, ErrTruncated
		}
		if first && !bytes.HasPrefix(block, simpleMarker) {
			return nil, ErrNotRecognized
		}
		out.Write(block)
		for i := 0; i < cardsPerBlock; i++ {
			if isEndRecord(asciiString(block[i*CardSize : (i+1)*CardSize])) {
				return out.Bytes(), nil
			}
		}
	}
}
