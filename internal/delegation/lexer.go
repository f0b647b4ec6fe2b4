package delegation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// word is one run of letters, digits or underscores in the input.
type word struct {
	text  string // lower-cased
	start int    // byte offset of the first rune
	end   int    // byte offset just past the last rune
}

// marker is a recognised delegation keyword sequence in the input.
type marker struct {
	kind  Kind
	form  string // canonical spelling, for error messages
	start int
	end   int
}

// markerForm is one accepted spelling of a marker as a word sequence.
type markerForm struct {
	words []string
	kind  Kind
	form  string
}

// markerForms lists every accepted spelling. Longer sequences come first so
// "needs review by" wins over any shorter overlap.
var markerForms = []markerForm{
	{[]string{"needs", "review", "by"}, KindReview, "needs review by"},
	{[]string{"delegate", "to"}, KindDelegate, "delegate to"},
	{[]string{"request", "agent"}, KindRequest, "request agent"},
	{[]string{"iterate", "with"}, KindIterate, "iterate with"},
	{[]string{"delegate_to"}, KindDelegate, "DELEGATE_TO"},
	{[]string{"request_agent"}, KindRequest, "REQUEST_AGENT"},
	{[]string{"needs_review"}, KindReview, "NEEDS_REVIEW"},
	{[]string{"iterate_with"}, KindIterate, "ITERATE_WITH"},
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// lexWords splits s into words. Everything else is a separator.
func lexWords(s string) []word {
	var words []word
	start := -1
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			words = append(words, word{text: strings.ToLower(s[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, word{text: strings.ToLower(s[start:]), start: start, end: len(s)})
	}
	return words
}

// findMarkers returns every marker in s in order of appearance. Words
// consumed by one marker are not reused by another.
func findMarkers(s string) []marker {
	words := lexWords(s)
	var markers []marker

	for i := 0; i < len(words); {
		matched := false
		for _, f := range markerForms {
			if !matchAt(words, i, f.words) || !spacedOnly(s, words[i:i+len(f.words)]) {
				continue
			}
			last := words[i+len(f.words)-1]
			markers = append(markers, marker{kind: f.kind, form: f.form, start: words[i].start, end: last.end})
			i += len(f.words)
			matched = true
			break
		}
		if !matched {
			i++
		}
	}
	return markers
}

func matchAt(words []word, i int, seq []string) bool {
	if i+len(seq) > len(words) {
		return false
	}
	for j, w := range seq {
		if words[i+j].text != w {
			return false
		}
	}
	return true
}

// spacedOnly reports whether the words of a multi-word marker are separated
// by whitespace alone, so "delegate. To" is not a marker.
func spacedOnly(s string, ws []word) bool {
	for j := 1; j < len(ws); j++ {
		gap := s[ws[j-1].end:ws[j].start]
		if strings.TrimSpace(gap) != "" {
			return false
		}
	}
	return true
}

// cursor walks a segment of input rune by rune.
type cursor struct {
	s   string
	pos int
}

func (c *cursor) done() bool {
	return c.pos >= len(c.s)
}

func (c *cursor) peek() rune {
	r, _ := utf8.DecodeRuneInString(c.s[c.pos:])
	return r
}

func (c *cursor) next() rune {
	r, size := utf8.DecodeRuneInString(c.s[c.pos:])
	c.pos += size
	return r
}

func (c *cursor) skipSpace() {
	for !c.done() && unicode.IsSpace(c.peek()) {
		c.next()
	}
}

// word reads the run of word runes at the cursor.
func (c *cursor) word() string {
	start := c.pos
	for !c.done() && isWordRune(c.peek()) {
		c.next()
	}
	return c.s[start:c.pos]
}

// rest returns everything after the cursor.
func (c *cursor) rest() string {
	return c.s[c.pos:]
}
