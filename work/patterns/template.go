package patterns

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
)

// Template identifiers recognised inside $...$ placeholders.
const (
	RepresentationID = "RepresentationID"
	Number           = "Number"
	Bandwidth        = "Bandwidth"
	Time             = "Time"
)

// identifierRx matches the body of a placeholder: an identifier and an
// optional printf width tag such as %05d.
var identifierRx = regexp.MustCompile(`^(RepresentationID|Number|Bandwidth|Time)(%0?[0-9]*d)?$`)

// part is either a literal run or a placeholder.
type part struct {
	literal string
	ident   string
	format  string // printf verb for numeric identifiers
	raw     string // placeholder text as written, e.g. $Number%05d$
}

// Template renders segment URLs from captured parameters.
type Template struct {
	raw   string
	parts []part
}

// ParseTemplate splits a segment template into literal runs and
// placeholders. Unknown $...$ sequences stay literal and $$ is a dollar sign.
func ParseTemplate(raw string) Template {
	t := Template{raw: raw}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			t.parts = append(t.parts, part{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(raw); {
		if raw[i] != '$' {
			lit.WriteByte(raw[i])
			i++
			continue
		}
		end := strings.IndexByte(raw[i+1:], '$')
		if end < 0 {
			lit.WriteString(raw[i:])
			break
		}
		body := raw[i+1 : i+1+end]
		placeholder := raw[i : i+end+2]
		i += end + 2

		if body == "" {
			lit.WriteByte('$')
			continue
		}
		m := identifierRx.FindStringSubmatch(body)
		if m == nil {
			lit.WriteString(placeholder)
			continue
		}
		format := m[2]
		if format == "" {
			format = "%d"
		}
		flush()
		t.parts = append(t.parts, part{ident: m[1], format: format, raw: placeholder})
	}
	flush()
	return t
}

// String returns the template as written.
func (t Template) String() string {
	return t.raw
}

// Render substitutes params into the template. Numeric identifiers are
// parsed and reformatted with their width tag; a placeholder without a
// matching parameter is left as written.
func (t Template) Render(p Params) string {
	var b strings.Builder
	for _, pt := range t.parts {
		if pt.ident == "" {
			b.WriteString(pt.literal)
			continue
		}
		v, ok := p[pt.ident]
		if !ok {
			b.WriteString(pt.raw)
			continue
		}
		if pt.ident == RepresentationID {
			b.WriteString(v)
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			b.WriteString(v)
			continue
		}
		fmt.Fprintf(&b, pt.format, n)
	}
	return b.String()
}

// Expression builds a matcher expression for the template. The first
// occurrence of each identifier becomes a named capture; later occurrences
// match the same shape without capturing.
func (t Template) Expression() string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, pt := range t.parts {
		if pt.ident == "" {
			b.WriteString(regexp.QuoteMeta(pt.literal))
			continue
		}
		class := `[0-9]+?`
		if pt.ident == RepresentationID {
			class = `.+?`
		}
		if seen[pt.ident] {
			b.WriteString("(?:" + class + ")")
			continue
		}
		seen[pt.ident] = true
		b.WriteString("(?P<" + pt.ident + ">" + class + ")")
	}
	return b.String()
}

// Params are the values captured from a segment request.
type Params map[string]string

// Number returns the captured segment number, or -1 when the request carried
// none.
func (p Params) Number() int {
	v, ok := p[Number]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// RepresentationID returns the captured representation, or "".
func (p Params) RepresentationID() string {
	return p[RepresentationID]
}

// WithNumber returns a copy of p with the segment number replaced.
func (p Params) WithNumber(n int) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[Number] = strconv.Itoa(n)
	return out
}

// Definition pairs the matcher derived from one manifest attribute value with
// the template that rebuilds the upstream URL.
type Definition struct {
	Raw      string // attribute value as written in the manifest
	Absolute bool
	Pattern  *regexp.Regexp
	Template Template
}

// Compile derives a Definition from a SegmentTemplate or SegmentURL
// attribute value. Absolute values must match a request target exactly.
// Relative values match as a suffix starting at a path boundary, since the
// player resolves them against a proxied base; leading ./ and ../ segments
// are dropped from the suffix.
func Compile(raw string) (*Definition, error) {
	absolute := strings.HasPrefix(raw, "http")
	tmpl := ParseTemplate(raw)

	var expr string
	if absolute {
		expr = "^" + tmpl.Expression() + "$"
	} else {
		expr = "^(?:.*/)?" + ParseTemplate(trimDotSegments(raw)).Expression() + "$"
	}

	rx, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling segment pattern for %q: %w", raw, err)
	}
	return &Definition{Raw: raw, Absolute: absolute, Pattern: rx, Template: tmpl}, nil
}

// Match tests target against the definition and returns the captures.
func (d *Definition) Match(target string) (Params, bool) {
	m := d.Pattern.FindStringSubmatch(target)
	if m == nil {
		return nil, false
	}
	p := make(Params)
	for i, name := range d.Pattern.SubexpNames() {
		if name != "" && i < len(m) {
			p[name] = m[i]
		}
	}
	return p, true
}

func trimDotSegments(s string) string {
	for {
		switch {
		case strings.HasPrefix(s, "./"):
			s = s[2:]
		case strings.HasPrefix(s, "../"):
			s = s[3:]
		case strings.HasPrefix(s, "/"):
			s = s[1:]
		default:
			return s
		}
	}
}
