package report

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"labreport-bot/api/internal/rangecheck"
)

const (
	numPattern   = `[-+]?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?`
	rangeSection = "range check"
)

var (
	numRe       = regexp.MustCompile(numPattern)
	rangeRe     = regexp.MustCompile(`(` + numPattern + `)\s*(?:-|–|—|to)\s*(` + numPattern + `)`)
	inlineRe    = regexp.MustCompile(`^([^:]+):\s*(` + numPattern + `)\s*(.*)$`)
	bulletTrim  = " \t-*+•>"
	md          = goldmark.New()
	fieldPrefix = map[string]string{
		"value":           "value",
		"result":          "value",
		"reference range": "range",
		"reference":       "range",
		"range":           "range",
		"ref range":       "range",
		"status":          "status",
	}
)

type line struct {
	text    string
	heading int
}

// Parse extracts test entries from a normalized report. It accepts the layout
// the normalizer asks for ("Name:" followed by Value, Reference Range and
// Status items) in any mix of headings, paragraphs and lists, plus single
// line "Name: value unit (min - max)" entries. A single line entry without a
// range or status, on the line or in fields below it, is prose and dropped.
func Parse(src string) []TestResult {
	var (
		out    []TestResult
		cur    *TestResult
		inline bool
	)
	flush := func() {
		keep := cur != nil && (cur.HasValue || cur.HasRange)
		if keep && inline && !cur.HasRange && cur.Declared == "" {
			keep = false
		}
		if keep {
			out = append(out, *cur)
		}
		cur, inline = nil, false
	}

	for _, ln := range collectLines([]byte(src)) {
		s := strings.TrimSpace(strings.TrimLeft(ln.text, bulletTrim))
		if s == "" {
			continue
		}
		if ln.heading > 0 && strings.EqualFold(strings.TrimRight(s, ":"), rangeSection) {
			break
		}

		if kind, rest, ok := field(s); ok {
			if cur == nil {
				continue
			}
			applyField(cur, kind, rest)
			continue
		}

		switch {
		case strings.HasSuffix(s, ":"):
			flush()
			cur = &TestResult{Name: strings.TrimSpace(strings.TrimSuffix(s, ":"))}
		case ln.heading >= 3:
			flush()
			cur = &TestResult{Name: s}
		case ln.heading > 0:
			flush()
		default:
			if m := inlineRe.FindStringSubmatch(s); m != nil && !strings.ContainsAny(prefix(m[3]), "-/.:") {
				flush()
				cur, inline = &TestResult{Name: strings.TrimSpace(m[1])}, true
				applyField(cur, "value", m[2]+" "+m[3])
				applyField(cur, "range", m[3])
			}
		}
	}
	flush()
	return out
}

// field splits "Reference Range: 12 - 16 g/dL" into ("range", "12 - 16 g/dL").
func field(s string) (string, string, bool) {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.TrimSpace(strings.Trim(s[:i], "*_ ")))
	kind, ok := fieldPrefix[key]
	if !ok {
		return "", "", false
	}
	return kind, strings.TrimSpace(s[i+1:]), true
}

func applyField(r *TestResult, kind, rest string) {
	switch kind {
	case "value":
		loc := numRe.FindStringIndex(rest)
		if loc == nil {
			return
		}
		if d, ok := parseDecimal(rest[loc[0]:loc[1]]); ok {
			r.Value, r.HasValue = d, true
			if unit := cleanUnit(rest[loc[1]:]); unit != "" {
				r.Unit = unit
			}
		}
	case "range":
		m := rangeRe.FindStringSubmatchIndex(rest)
		if m == nil {
			return
		}
		lo, ok1 := parseDecimal(rest[m[2]:m[3]])
		hi, ok2 := parseDecimal(rest[m[4]:m[5]])
		if !ok1 || !ok2 {
			return
		}
		r.RangeMin, r.RangeMax, r.HasRange = lo, hi, true
		if r.Unit == "" {
			r.Unit = cleanUnit(rest[m[1]:])
		}
	case "status":
		word := rest
		if i := strings.IndexAny(word, "(,;"); i >= 0 {
			word = word[:i]
		}
		if st, err := rangecheck.ParseStatus(word); err == nil {
			r.Declared = st
		} else if f := strings.Fields(word); len(f) > 0 {
			if st, err := rangecheck.ParseStatus(f[0]); err == nil {
				r.Declared = st
			}
		}
	}
}

func prefix(s string) string {
	if s == "" {
		return ""
	}
	return s[:1]
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimPrefix(s, "+"), ",", ""))
	return d, err == nil
}

func cleanUnit(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "(;"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return strings.Trim(s, "*_ ,")
}

// collectLines walks the markdown AST and returns the visible text of every
// heading, paragraph and list item, split at line breaks.
func collectLines(src []byte) []line {
	doc := md.Parser().Parse(text.NewReader(src))

	var (
		out []line
		buf strings.Builder
	)
	emit := func(heading int) {
		out = append(out, line{text: buf.String(), heading: heading})
		buf.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch b := n.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
			level := 0
			if h, ok := b.(*ast.Heading); ok {
				level = h.Level
			}
			inlineText(b, src, &buf, func() { emit(level) })
			emit(level)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := b.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
				emit(0)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return out
}

func inlineText(n ast.Node, src []byte, buf *strings.Builder, newline func()) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				newline()
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			inlineText(c, src, buf, newline)
		}
	}
}
