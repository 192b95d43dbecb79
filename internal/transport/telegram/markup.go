package telegram

import (
	"html"
	"strings"
)

const textLimit = 4000

// renderHTML escapes s for Telegram's HTML parse mode and turns **bold**
// spans into <b> tags. An unmatched "**" stays literal.
func renderHTML(s string) string {
	parts := strings.Split(s, "**")
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i, p := range parts {
		p = html.EscapeString(p)
		switch {
		case i == 0:
			b.WriteString(p)
		case i%2 == 1 && i < len(parts)-1:
			b.WriteString("<b>" + p)
		case i%2 == 0:
			b.WriteString("</b>" + p)
		default:
			b.WriteString("**" + p)
		}
	}
	return b.String()
}

// stripBold removes "**" markers for plain-text sends.
func stripBold(s string) string { return strings.ReplaceAll(s, "**", "") }

// splitText splits long messages into chunks of at most limit runes,
// preferring newline boundaries that do not leave tiny chunks.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
