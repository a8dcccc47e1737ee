// Package markdown renders message bodies for the web view.
//
// Bodies arrive from a radio link and from a web form, so everything is
// untrusted. A body is one line of text: block syntax at its start is shown
// literally, raw HTML is shown as text, and only inline formatting is rendered.
package markdown

import (
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

const extensions = blackfriday.NoIntraEmphasis |
	blackfriday.Strikethrough |
	blackfriday.Autolink

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("strong", "em", "del", "code", "br")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// escapeBlocks backslash-escapes the leading block marker of each line and every
// '<' outside code spans, so the parser keeps them as text
func escapeBlocks(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = escapeLine(line)
	}
	return strings.Join(lines, "\n")
}

func escapeLine(body string) string {
	body = strings.TrimLeft(body, " \t")
	switch {
	case body == "":
	case body[0] == '#' || body[0] == '>':
		body = `\` + body
	case isListMarker(body) || isRule(body):
		body = `\` + body
	default:
		n := 0
		for n < len(body) && body[n] >= '0' && body[n] <= '9' {
			n++
		}
		if n > 0 && n < len(body) && (body[n] == '.' || body[n] == ')') {
			body = body[:n] + `\` + body[n:]
		}
	}
	return escapeAngles(body)
}

func isListMarker(s string) bool {
	return strings.ContainsRune("*+-", rune(s[0])) && (len(s) == 1 || s[1] == ' ' || s[1] == '\t')
}

// isRule reports a thematic break like "***", "- - -" or "___"
func isRule(s string) bool {
	c := s[0]
	if c != '*' && c != '-' && c != '_' {
		return false
	}
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	return len(compact) >= 3 && strings.Trim(compact, string(c)) == ""
}

func escapeAngles(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inCode := false
	for _, r := range s {
		switch {
		case r == '`':
			inCode = !inCode
		case r == '<' && !inCode:
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Inline renders a message body as sanitized inline HTML.
func Inline(body string) template.HTML {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	out := blackfriday.Run([]byte(escapeBlocks(body)), blackfriday.WithExtensions(extensions))
	safe := strings.TrimSpace(string(policy.SanitizeBytes(out)))
	return template.HTML(safe) // #nosec G203 -- sanitized by bluemonday above
}
