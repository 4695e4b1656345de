package testutil

import (
	"bytes"
	"testing"

	"github.com/mholt/archives"

	"skycat/internal/header"
)

// FITS returns a minimal FITS file: a primary header carrying cards
// after the mandatory SIMPLE/BITPIX/NAXIS, followed by one data block.
func FITS(cards ...header.Card) []byte {
	h := header.New(
		header.Card{Keyword: "SIMPLE", Value: true},
		header.Card{Keyword: "BITPIX", Value: int64(16)},
		header.Card{Keyword: "NAXIS", Value: int64(0)},
	)
	for _, c := range cards {
		h.Append(c)
	}
	return append(h.Bytes(), make([]byte, header.BlockSize)...)
}

// Gzip compresses data the way acquisition software writes .fits.gz.
func Gzip(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := archives.Gz{}.OpenWriter(&buf)
	if err != nil {
		t.Fatalf("OpenWriter() error = %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("writing gzip stream: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing gzip stream: %v", err)
	}
	return buf.Bytes()
}

// Light builds the header cards of a typical light frame.
func Light(object, filter string, exposure float64, ra, dec string) []header.Card {
	return []header.Card{
		{Keyword: "IMAGETYP", Value: "Light Frame"},
		{Keyword: "OBJECT", Value: object},
		{Keyword: "FILTER", Value: filter},
		{Keyword: "EXPTIME", Value: exposure},
		{Keyword: "OBJCTRA", Value: ra},
		{Keyword: "OBJCTDEC", Value: dec},
		{Keyword: "DATE-OBS", Value: "2024-01-15T22:10:00"},
	}
}
