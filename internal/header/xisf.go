package header

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var xisfSignature = []byte("XISF0100")

// maxXISFHeader bounds the XML header we are willing to buffer.
const maxXISFHeader = 64 << 20

// KeywordEntry is one value/comment pair of an XISF FITSKeyword.
type KeywordEntry struct {
	Value   string `json:"value"`
	Comment string `json:"comment"`
}

// Keywords is the FITSKeywords dictionary of an XISF image: keyword name
// to an ordered list of entries. Both the keyword order and the order of
// repeated entries are preserved.
type Keywords struct {
	names   []string
	entries map[string][]KeywordEntry
}

// NewKeywords returns an empty dictionary.
func NewKeywords() *Keywords {
	return &Keywords{entries: make(map[string][]KeywordEntry)}
}

// Add appends an entry for name.
func (k *Keywords) Add(name string, e KeywordEntry) {
	if _, ok := k.entries[name]; !ok {
		k.names = append(k.names, name)
	}
	k.entries[name] = append(k.entries[name], e)
}

// Names returns keyword names in first-seen order.
func (k *Keywords) Names() []string { return k.names }

// Entries returns the entries recorded for name.
func (k *Keywords) Entries(name string) []KeywordEntry { return k.entries[name] }

// Len returns the number of distinct keywords.
func (k *Keywords) Len() int { return len(k.names) }

type keywordGroup struct {
	Name    string         `json:"name"`
	Entries []KeywordEntry `json:"entries"`
}

// MarshalJSON encodes the dictionary as an ordered list of groups.
func (k *Keywords) MarshalJSON() ([]byte, error) {
	groups := make([]keywordGroup, 0, len(k.names))
	for _, n := range k.names {
		groups = append(groups, keywordGroup{Name: n, Entries: k.entries[n]})
	}
	return json.Marshal(groups)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (k *Keywords) UnmarshalJSON(data []byte) error {
	var groups []keywordGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return err
	}
	*k = *NewKeywords()
	for _, g := range groups {
		for _, e := range g.Entries {
			k.Add(g.Name, e)
		}
	}
	return nil
}

// Header rebuilds FITS cards from the dictionary. COMMENT and HISTORY
// entries keep their text in the card comment; the value is taken from the
// entry comment, since XISF writers leave the value empty for them.
func (k *Keywords) Header() *Header {
	h := &Header{}
	for _, name := range k.names {
		for _, e := range k.entries[name] {
			if IsCommentary(name) {
				text := e.Comment
				if text == "" {
					text = e.Value
				}
				h.Append(Card{Keyword: strings.ToUpper(name), Comment: strings.TrimRight(text, " ")})
				continue
			}
			value := ParseValue(e.Value)
			if s, ok := value.(string); ok {
				value = strings.TrimRight(s, " ")
			}
			h.Append(Card{Keyword: name, Value: value, Comment: strings.TrimSpace(e.Comment)})
		}
	}
	return h
}

// KeywordsFromHeader is the inverse of Keywords.Header.
func KeywordsFromHeader(h *Header) *Keywords {
	k := NewKeywords()
	for _, c := range h.Cards {
		if IsCommentary(c.Keyword) {
			k.Add(c.Keyword, KeywordEntry{Comment: c.Comment})
			continue
		}
		k.Add(c.Keyword, KeywordEntry{Value: FormatValue(c.Value), Comment: c.Comment})
	}
	return k
}

// ReadXISFKeywords reads the XML header of an XISF file and returns the
// FITSKeywords of its first image.
func ReadXISFKeywords(r io.Reader) (*Keywords, error) {
	var preamble [16]byte
	n, err := io.ReadFull(r, preamble[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if bytes.HasPrefix(xisfSignature, preamble[:n]) && n > 0 {
				return nil, ErrTruncated
			}
			return nil, ErrNotRecognized
		}
		return nil, fmt.Errorf("reading xisf preamble: %w", err)
	}
	if !bytes.Equal(preamble[:8], xisfSignature) {
		return nil, ErrNotRecognized
	}

	length := binary.LittleEndian.Uint32(preamble[8:12])
	if length == 0 || length > maxXISFHeader {
		return nil, fmt.Errorf("%w: xisf header length %d", ErrCorrupt, length)
	}
	xmlData := make([]byte, length)
	if _, err := io.ReadFull(r, xmlData); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("reading xisf header: %w", err)
	}
	return parseXISFKeywords(bytes.TrimRight(xmlData, "\x00"))
}

func parseXISFKeywords(data []byte) (*Keywords, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	k := NewKeywords()
	inImage := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "Image":
				inImage = true
			case "FITSKeyword":
				if !inImage {
					continue
				}
				var name string
				var e KeywordEntry
				for _, a := range el.Attr {
					switch a.Name.Local {
					case "name":
						name = a.Value
					case "value":
						e.Value = a.Value
					case "comment":
						e.Comment = a.Value
					}
				}
				if name != "" {
					k.Add(name, e)
				}
			}
		case xml.EndElement:
			if el.Name.Local == "Image" && inImage {
				return k, nil
			}
		}
	}
	if !inImage {
		return nil, fmt.Errorf("%w: xisf header has no image", ErrCorrupt)
	}
	return k, nil
}

// BuildXISF writes a minimal XISF container carrying keywords for one
// image and no pixel data. It is used to produce fixtures and solver
// inputs.
func BuildXISF(k *Keywords) []byte {
	var x bytes.Buffer
	x.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	x.WriteString(`<xisf version="1.0" xmlns="http://www.pixinsight.com/xisf"><Image geometry="1:1:1" sampleFormat="UInt16" location="attachment:0:0">`)
	for _, name := range k.names {
		for _, e := range k.entries[name] {
			x.WriteString(`<FITSKeyword name="`)
			xml.EscapeText(&x, []byte(name))
			x.WriteString(`" value="`)
			xml.EscapeText(&x, []byte(e.Value))
			x.WriteString(`" comment="`)
			xml.EscapeText(&x, []byte(e.Comment))
			x.WriteString(`"/>`)
		}
	}
	x.WriteString(`</Image></xisf>`)

	var out bytes.Buffer
	out.Write(xisfSignature)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint32(lenBuf[:4], uint32(x.Len()))
	out.Write(lenBuf[:])
	out.Write(x.Bytes())
	return out.Bytes()
}
