package telegram

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const maxMessageRunes = 4000

var (
	mdParser   = goldmark.New().Parser()
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// renderHTML converts model markdown to the HTML subset Telegram accepts.
func renderHTML(src string) string { return render(src, true) }

// renderPlain strips markdown syntax, keeping list bullets.
func renderPlain(src string) string { return render(src, false) }

func render(src string, rich bool) string {
	source := []byte(src)
	w := &tgWriter{src: source, rich: rich}
	w.block(mdParser.Parse(text.NewReader(source)), 0)
	out := blankLines.ReplaceAllString(w.b.String(), "\n\n")
	return strings.TrimSpace(out)
}

type tgWriter struct {
	src  []byte
	rich bool
	b    strings.Builder
}

func (w *tgWriter) tag(s string) {
	if w.rich {
		w.b.WriteString(s)
	}
}

func (w *tgWriter) text(s string) {
	if w.rich {
		s = html.EscapeString(s)
	}
	w.b.WriteString(s)
}

func (w *tgWriter) block(n ast.Node, depth int) {
	switch n := n.(type) {
	case *ast.Heading:
		w.tag("<b>")
		w.inlines(n)
		w.tag("</b>")
		w.b.WriteString("\n\n")
	case *ast.Paragraph:
		w.inlines(n)
		w.b.WriteString("\n\n")
	case *ast.TextBlock:
		w.inlines(n)
		w.b.WriteString("\n")
	case *ast.List:
		num := n.Start
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			w.b.WriteString(strings.Repeat("  ", depth))
			if n.IsOrdered() {
				w.b.WriteString(strconv.Itoa(num) + ". ")
				num++
			} else {
				w.b.WriteString("• ")
			}
			for c := item.FirstChild(); c != nil; c = c.NextSibling() {
				if _, nested := c.(*ast.List); nested {
					w.block(c, depth+1)
					continue
				}
				w.block(c, depth)
			}
		}
		if depth == 0 {
			w.b.WriteString("\n")
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		w.tag("<pre>")
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			w.text(string(seg.Value(w.src)))
		}
		w.tag("</pre>")
		w.b.WriteString("\n\n")
	case *ast.ThematicBreak:
		w.b.WriteString("\n")
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c, depth)
		}
	}
}

func (w *tgWriter) inlines(n ast.Node) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			w.text(string(t.Segment.Value(w.src)))
			if t.SoftLineBreak() || t.HardLineBreak() {
				w.b.WriteString("\n")
			}
		case *ast.String:
			w.text(string(t.Value))
		case *ast.CodeSpan:
			w.tag("<code>")
			w.inlines(t)
			w.tag("</code>")
		case *ast.Emphasis:
			open, closing := "<i>", "</i>"
			if t.Level >= 2 {
				open, closing = "<b>", "</b>"
			}
			w.tag(open)
			w.inlines(t)
			w.tag(closing)
		case *ast.Link:
			w.tag(`<a href="` + html.EscapeString(string(t.Destination)) + `">`)
			w.inlines(t)
			w.tag("</a>")
		case *ast.AutoLink:
			w.text(string(t.URL(w.src)))
		case *ast.RawHTML:
			for i := 0; i < t.Segments.Len(); i++ {
				seg := t.Segments.At(i)
				w.text(string(seg.Value(w.src)))
			}
		default:
			w.inlines(c)
		}
	}
}

// splitRunes cuts s into chunks of at most n runes, preferring line breaks.
func splitRunes(s string, n int) []string {
	var out []string
	r := []rune(s)
	for len(r) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(r[:cut]), "\n"))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
