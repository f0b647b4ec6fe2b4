// Package delegation turns the free-form output of a finished task into
// requests for follow-up tasks.
//
// Two mechanisms contribute requests. Explicit markers ("DELEGATE_TO: tester
// - write tests", "needs review by security ...") are read by a small lexer
// and a per-segment state machine. Heuristic rules, keyed by the category of
// the finished task, look for keywords and synthesize natural follow-ups.
// Both are deterministic: the same text and category always produce the same
// ordered requests.
package delegation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Kind is the flavour of a delegation request.
type Kind string

const (
	// KindDelegate hands work to another category.
	KindDelegate Kind = "delegate"
	// KindRequest asks for an additional worker.
	KindRequest Kind = "request"
	// KindReview asks another category to review the work.
	KindReview Kind = "review"
	// KindIterate asks another category to iterate on the work.
	KindIterate Kind = "iterate"
)

// DefaultPriority returns the priority used when a marker carries no tag.
func (k Kind) DefaultPriority() models.Priority {
	if k == KindReview {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

// Request is one follow-up task extracted from output.
type Request struct {
	Target      models.Category
	Description string
	Priority    models.Priority
	Kind        Kind
	// Rule names the heuristic that produced the request; empty for
	// explicit markers.
	Rule string
}

// ParseError describes a marker that could not be turned into a request.
// The marker is skipped; parsing continues.
type ParseError struct {
	Offset int
	Marker string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("delegation marker %q at offset %d: %s", e.Marker, e.Offset, e.Reason)
}

// Parser extracts delegation requests. It is safe for concurrent use once
// constructed.
type Parser struct {
	rules      RuleSet
	heuristics bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithRules replaces the heuristic rule set.
func WithRules(rs RuleSet) Option {
	return func(p *Parser) { p.rules = rs }
}

// WithoutHeuristics disables heuristic rules; only explicit markers count.
func WithoutHeuristics() Option {
	return func(p *Parser) { p.heuristics = false }
}

// New creates a parser with DefaultRules.
func New(opts ...Option) *Parser {
	p := &Parser{rules: DefaultRules(), heuristics: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse returns the requests found in output of a task of the given
// category, explicit markers first in order of appearance, then heuristic
// requests in rule order. Malformed markers are reported as *ParseError and
// skipped. Markers naming an unknown category are dropped silently.
func (p *Parser) Parse(output string, category models.Category) ([]Request, []error) {
	var reqs []Request
	var errs []error

	markers := findMarkers(output)
	for i, m := range markers {
		end := len(output)
		if i+1 < len(markers) {
			end = markers[i+1].start
		}
		req, ok, err := parseSegment(m, output[m.end:end])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			reqs = append(reqs, req)
		}
	}

	if !p.heuristics {
		return reqs, errs
	}

	targeted := make(map[models.Category]bool, len(reqs))
	for _, r := range reqs {
		targeted[r.Target] = true
	}
	for _, rule := range p.rules[category] {
		req, ok := rule.Apply(output)
		if !ok || !req.Target.Valid() || targeted[req.Target] {
			continue
		}
		if req.Priority == "" {
			req.Priority = req.Kind.DefaultPriority()
		}
		req.Rule = rule.Name()
		targeted[req.Target] = true
		reqs = append(reqs, req)
	}
	return reqs, errs
}

// segmentState is the state of the per-marker state machine.
type segmentState int

const (
	stateCategory segmentState = iota
	stateQualifiers
	stateDescription
)

// parseSegment reads "<category> [separator] [[priority]] <description>"
// from the text between a marker and the next one. ok is false when the
// category is unknown.
func parseSegment(m marker, seg string) (Request, bool, error) {
	req := Request{Kind: m.kind, Priority: m.kind.DefaultPriority()}
	c := &cursor{s: seg}
	fail := func(reason string) (Request, bool, error) {
		return Request{}, false, &ParseError{Offset: m.start, Marker: m.form, Reason: reason}
	}

	for state := stateCategory; ; {
		switch state {
		case stateCategory:
			c.skipSpace()
			if !c.done() && c.peek() == ':' {
				c.next()
				c.skipSpace()
			}
			tok := c.word()
			if tok == "" {
				return fail("missing target category")
			}
			cat, ok := models.ParseCategory(tok)
			if !ok {
				return Request{}, false, nil
			}
			req.Target = cat
			state = stateQualifiers

		case stateQualifiers:
			c.skipSpace()
			if c.done() {
				state = stateDescription
				continue
			}
			switch r := c.peek(); {
			case isSeparator(r):
				c.next()
			case r == '[':
				if p, n, ok := priorityTag(c.rest()); ok {
					req.Priority = p
					c.pos += n
				} else {
					state = stateDescription
				}
			default:
				state = stateDescription
			}

		case stateDescription:
			desc := collapseSpace(c.rest())
			if desc == "" {
				return fail("empty description")
			}
			req.Description = desc
			return req, true, nil
		}
	}
}

func isSeparator(r rune) bool {
	switch r {
	case '-', ':', '–', '—':
		return true
	}
	return false
}

// priorityTag reads "[high]", "[medium]" or "[low]" at the start of s and
// returns the priority and the number of bytes consumed.
func priorityTag(s string) (models.Priority, int, bool) {
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", 0, false
	}
	inner := strings.TrimSpace(s[1:end])
	if inner == "" {
		return "", 0, false
	}
	p, ok := models.ParsePriority(inner)
	if !ok {
		return "", 0, false
	}
	return p, end + 1, true
}

// collapseSpace trims s and replaces every whitespace run with one space.
func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
