package document

import (
	"strings"
	"unicode/utf8"
)

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if runeLen(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// padRight truncates s to n runes and pads it with spaces to exactly n.
func padRight(s string, n int) string {
	s = truncate(s, n)
	return s + strings.Repeat(" ", n-runeLen(s))
}

// padLeft right-aligns s in a field of n runes. Longer values are returned
// unchanged; callers check the resulting row width.
func padLeft(s string, n int) string {
	if l := runeLen(s); l < n {
		return strings.Repeat(" ", n-l) + s
	}
	return s
}

// page accumulates fixed-width lines. No line ever exceeds width.
type page struct {
	width int
	lines []string
}

func newPage(width int) *page {
	return &page{width: width}
}

func (p *page) line(s string) {
	p.lines = append(p.lines, strings.TrimRight(truncate(s, p.width), " "))
}

func (p *page) blank() {
	p.lines = append(p.lines, "")
}

func (p *page) rule(ch string) {
	p.lines = append(p.lines, strings.Repeat(ch, p.width))
}

func (p *page) center(s string) {
	s = truncate(strings.TrimSpace(s), p.width)
	p.line(strings.Repeat(" ", (p.width-runeLen(s))/2) + s)
}

// spread puts left and right on one line, right-aligned to the page edge.
// The left side gives way when both do not fit.
func (p *page) spread(left, right string) {
	room := p.width - runeLen(right) - 1
	if room < 0 {
		p.line(right)
		return
	}
	left = truncate(left, room)
	p.line(left + strings.Repeat(" ", p.width-runeLen(left)-runeLen(right)) + right)
}

// wrap breaks text on spaces so each line fits in width-indent runes; words
// longer than that are cut.
func (p *page) wrap(prefix, text string) {
	indent := strings.Repeat(" ", runeLen(prefix))
	room := p.width - runeLen(prefix)
	lead := prefix
	cur := ""
	flush := func() {
		p.line(lead + cur)
		lead = indent
		cur = ""
	}
	for _, w := range strings.Fields(text) {
		w = truncate(w, room)
		switch {
		case cur == "":
			cur = w
		case runeLen(cur)+1+runeLen(w) <= room:
			cur += " " + w
		default:
			flush()
			cur = w
		}
	}
	if cur != "" || lead == prefix {
		flush()
	}
}

// String joins the lines and appends feed blank lines so the paper clears
// the tear bar.
func (p *page) String(feed int) string {
	var sb strings.Builder
	for _, l := range p.lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	sb.WriteString(strings.Repeat("\n", feed))
	return sb.String()
}
