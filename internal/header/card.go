package header

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// CardSize is the fixed width of one header record.
	CardSize = 80
	// BlockSize is the FITS logical record size.
	BlockSize     = 2880
	cardsPerBlock = BlockSize / CardSize

	keywordWidth = 8
	valueWidth   = 20
	hierarch     = "HIERARCH"
)

// Literal is a value that could not be typed (complex numbers, malformed
// numbers). It is written back exactly as it was read.
type Literal string

// Card is one keyword record. Value holds string, bool, int64, float64,
// Literal, or nil for an undefined value. Commentary cards (COMMENT,
// HISTORY, blank keyword) carry their text in Comment and have no value.
type Card struct {
	Keyword string
	Value   any
	Comment string
}

// IsCommentary reports whether keyword names a card without a value field.
func IsCommentary(keyword string) bool {
	switch strings.ToUpper(keyword) {
	case "COMMENT", "HISTORY", "":
		return true
	}
	return false
}

// parseCard decodes one 80-column record. Lines without a value indicator
// are kept as commentary so no text is lost.
func parseCard(line string) Card {
	if len(line) < CardSize {
		line += strings.Repeat(" ", CardSize-len(line))
	}

	if strings.HasPrefix(line, hierarch+" ") {
		if eq := strings.IndexByte(line, '='); eq > len(hierarch) {
			value, comment := parseValueField(line[eq+1:])
			return Card{
				Keyword: strings.TrimSpace(line[len(hierarch):eq]),
				Value:   value,
				Comment: comment,
			}
		}
	}

	keyword := strings.TrimRight(line[:keywordWidth], " ")
	if IsCommentary(keyword) || line[keywordWidth:keywordWidth+2] != "= " {
		return Card{Keyword: keyword, Comment: strings.TrimRight(line[keywordWidth:], " ")}
	}

	value, comment := parseValueField(line[keywordWidth+2:])
	return Card{Keyword: keyword, Value: value, Comment: comment}
}

func parseValueField(field string) (any, string) {
	t := strings.TrimLeft(field, " ")
	if strings.HasPrefix(t, "'") {
		var b strings.Builder
		i := 1
		for i < len(t) {
			if t[i] == '\'' {
				if i+1 < len(t) && t[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				i++
				break
			}
			b.WriteByte(t[i])
			i++
		}
		return strings.TrimRight(b.String(), " "), commentAfter(t[i:])
	}

	text := t
	comment := ""
	if slash := strings.IndexByte(t, '/'); slash >= 0 {
		text = t[:slash]
		comment = strings.TrimSpace(t[slash+1:])
	}
	return parseLiteral(strings.TrimSpace(text)), comment
}

func commentAfter(rest string) string {
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return strings.TrimSpace(rest[slash+1:])
	}
	return ""
}

// parseLiteral types an unquoted value.
func parseLiteral(text string) any {
	switch text {
	case "":
		return nil
	case "T":
		return true
	case "F":
		return false
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(strings.NewReplacer("D", "E", "d", "e").Replace(text), 64); err == nil {
		return f
	}
	return Literal(text)
}

// ParseValue types a value written in FITS notation, such as the value
// attribute of an XISF FITSKeyword element: quoted text becomes a string,
// T/F a bool, and numbers int64 or float64.
func ParseValue(text string) any {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "'") {
		v, _ := parseValueField(t)
		return v
	}
	return parseLiteral(t)
}

// FormatValue renders v in FITS notation.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return quote(x)
	case bool:
		if x {
			return "T"
		}
		return "F"
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return formatFloat(x)
	case Literal:
		return string(x)
	default:
		return quote(strings.TrimSpace(fmt.Sprint(x)))
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'G', -1, 64)
	if !strings.ContainsAny(s, ".EIN") {
		s += "."
	}
	return s
}

func quote(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	if len(escaped) < 8 {
		escaped += strings.Repeat(" ", 8-len(escaped))
	}
	return "'" + escaped + "'"
}

// images renders the card as one or more 80-column records. Long string
// values use the CONTINUE convention; long commentary text is split over
// several cards of the same keyword.
func (c Card) images() []string {
	if c.Value == nil && IsCommentary(c.Keyword) {
		return commentaryImages(c.Keyword, c.Comment)
	}
	if s, ok := c.Value.(string); ok {
		if img, fits := c.single(); fits {
			return []string{img}
		}
		return continueImages(c.prefix(), s, c.Comment)
	}
	img, _ := c.single()
	return []string{img}
}

func (c Card) prefix() string {
	if len(c.Keyword) > keywordWidth {
		return hierarch + " " + c.Keyword + " = "
	}
	return pad(c.Keyword, keywordWidth) + "= "
}

// single renders the card on one record, truncating if needed. The second
// result is false when truncation happened.
func (c Card) single() (string, bool) {
	value := FormatValue(c.Value)
	var b strings.Builder
	b.WriteString(c.prefix())
	if _, isString := c.Value.(string); isString {
		b.WriteString(pad(value, valueWidth))
	} else {
		b.WriteString(leftPad(value, valueWidth))
	}
	if c.Comment != "" {
		b.WriteString(" / ")
		b.WriteString(c.Comment)
	}
	line := b.String()
	if len(line) > CardSize {
		return line[:CardSize], false
	}
	return pad(line, CardSize), true
}

func commentaryImages(keyword, text string) []string {
	const width = CardSize - keywordWidth
	if text == "" {
		return []string{pad(keyword, CardSize)}
	}
	var out []string
	for len(text) > 0 {
		n := min(width, len(text))
		out = append(out, pad(pad(keyword, keywordWidth)+text[:n], CardSize))
		text = text[n:]
	}
	return out
}

// continueImages splits a long string over a first card and CONTINUE
// cards. Every piece but the last ends in '&'; the comment goes on the
// last card.
func continueImages(prefix, value, comment string) []string {
	const contPrefix = "CONTINUE  "
	var pieces []string
	limit := CardSize - len(prefix) - 3
	var cur strings.Builder
	curLen := 0
	for _, r := range value {
		w := 1
		if r == '\'' {
			w = 2
		}
		if curLen+w > limit {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curLen = 0
			limit = CardSize - len(contPrefix) - 3
		}
		cur.WriteRune(r)
		curLen += w
	}
	pieces = append(pieces, cur.String())

	// The comment rides on the last card; if it does not fit there it
	// gets an empty CONTINUE record of its own.
	last := contPrefix + "'" + strings.ReplaceAll(pieces[len(pieces)-1], "'", "''") + "' / " + comment
	if comment != "" && len(last) > CardSize {
		pieces = append(pieces, "")
	}

	out := make([]string, 0, len(pieces))
	for i, p := range pieces {
		lead := contPrefix
		if i == 0 {
			lead = prefix
		}
		line := lead + "'" + strings.ReplaceAll(p, "'", "''")
		if i < len(pieces)-1 {
			line += "&'"
		} else {
			line += "'"
			if comment != "" {
				line += " / " + comment
			}
		}
		if len(line) > CardSize {
			line = line[:CardSize]
		}
		out = append(out, pad(line, CardSize))
	}
	return out
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}
