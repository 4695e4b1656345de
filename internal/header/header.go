package header

import (
	"bytes"
	"strings"
)

// Header is an ordered list of cards. Lookups are case-insensitive and
// return the first card with a matching keyword.
type Header struct {
	Cards []Card
}

// New returns a header holding cards in order.
func New(cards ...Card) *Header {
	return &Header{Cards: cards}
}

// Append adds a card at the end.
func (h *Header) Append(c Card) {
	h.Cards = append(h.Cards, c)
}

// Get returns the value of the first card named key. The bool is false
// when no such card exists; an undefined value yields (nil, true).
func (h *Header) Get(key string) (any, bool) {
	for _, c := range h.Cards {
		if strings.EqualFold(c.Keyword, key) && !IsCommentary(c.Keyword) {
			return c.Value, true
		}
	}
	return nil, false
}

// Has reports whether a card named key exists.
func (h *Header) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Set replaces the value of the first card named key, or appends one.
func (h *Header) Set(key string, value any) {
	for i, c := range h.Cards {
		if strings.EqualFold(c.Keyword, key) {
			h.Cards[i].Value = value
			return
		}
	}
	h.Append(Card{Keyword: key, Value: value})
}

// Remove drops every card named key.
func (h *Header) Remove(key string) {
	kept := h.Cards[:0]
	for _, c := range h.Cards {
		if !strings.EqualFold(c.Keyword, key) {
			kept = append(kept, c)
		}
	}
	h.Cards = kept
}

// Keywords lists distinct keywords in first-seen order, skipping
// commentary cards.
func (h *Header) Keywords() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range h.Cards {
		if IsCommentary(c.Keyword) || seen[c.Keyword] {
			continue
		}
		seen[c.Keyword] = true
		out = append(out, c.Keyword)
	}
	return out
}

// Filter returns a new header with the cards whose keyword is in keep.
func (h *Header) Filter(keep map[string]bool) *Header {
	out := &Header{}
	for _, c := range h.Cards {
		if keep[strings.ToUpper(c.Keyword)] {
			out.Append(c)
		}
	}
	return out
}

// Bytes serializes the header as FITS records followed by END, padded
// with spaces to a whole number of blocks.
func (h *Header) Bytes() []byte {
	var buf bytes.Buffer
	for _, c := range h.Cards {
		for _, img := range c.images() {
			buf.WriteString(img)
		}
	}
	buf.WriteString(pad("END", CardSize))
	if rem := buf.Len() % BlockSize; rem != 0 {
		buf.Write(bytes.Repeat([]byte{' '}, BlockSize-rem))
	}
	return buf.Bytes()
}

// SanitizeTabs replaces tab characters with a single space. Some writers
// emit tabs inside card values, which would otherwise shift the fixed
// columns of the following cards.
func SanitizeTabs(data []byte) []byte {
	if bytes.IndexByte(data, '\t') < 0 {
		return data
	}
	return bytes.ReplaceAll(data, []byte{'\t'}, []byte{' '})
}

// ParseHeader decodes raw header bytes into cards. It accepts the block
// form produced by ReadFITSHeader as well as newline-separated text such as
// a solver's .wcs output. Parsing stops at the END card; blank records are
// skipped and CONTINUE records are merged into the preceding string value.
func ParseHeader(data []byte) *Header {
	data = SanitizeTabs(data)
	h := &Header{}
	for _, line := range splitRecords(data) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if isEndRecord(line) {
			break
		}
		c := parseCard(line)
		if c.Keyword == "CONTINUE" && h.continueLast(line) {
			continue
		}
		h.Append(c)
	}
	return h
}

// continueLast appends a CONTINUE record to the previous long string.
func (h *Header) continueLast(line string) bool {
	if len(h.Cards) == 0 {
		return false
	}
	last := &h.Cards[len(h.Cards)-1]
	prev, ok := last.Value.(string)
	if !ok || !strings.HasSuffix(prev, "&") {
		return false
	}
	value, comment := parseValueField(line[keywordWidth:])
	s, ok := value.(string)
	if !ok {
		return false
	}
	last.Value = strings.TrimSuffix(prev, "&") + s
	if comment != "" {
		last.Comment = comment
	}
	return true
}

func splitRecords(data []byte) []string {
	text := asciiString(data)
	if strings.ContainsAny(text, "\r\n") {
		var out []string
		for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
			for len(line) > CardSize {
				out = append(out, line[:CardSize])
				line = line[CardSize:]
			}
			out = append(out, line)
		}
		return out
	}
	out := make([]string, 0, len(text)/CardSize+1)
	for len(text) > 0 {
		n := min(CardSize, len(text))
		out = append(out, text[:n])
		text = text[n:]
	}
	return out
}

// asciiString decodes header bytes, replacing anything outside printable
// ASCII with '?'.
func asciiString(data []byte) string {
	b := make([]byte, len(data))
	for i, c := range data {
		switch {
		case c == '\n' || c == '\r':
			b[i] = c
		case c < 0x20 || c > 0x7e:
			b[i] = '?'
		default:
			b[i] = c
		}
	}
	return string(b)
}

// isEndRecord reports whether the trimmed record is the END sentinel.
func isEndRecord(line string) bool {
	t := strings.TrimSpace(line)
	return t == "END" || strings.HasPrefix(t, "END ")
}
