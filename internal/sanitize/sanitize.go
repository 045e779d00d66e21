// Package sanitize turns untrusted HTML into plain text or Markdown that is
// safe to hand to an agent. Dangerous markup (active content, embedded
// documents, form machinery) is removed together with its contents; the
// remaining text is stripped of control characters and normalized to a
// compact whitespace form.
package sanitize

import (
	"bytes"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"golang.org/x/net/html"
)

// dangerousElements are removed inclusive of their contents in both output
// modes. The set covers script execution, style sneaking text into
// pseudo-elements, embedded foreign documents and form controls whose
// values are not document content.
var dangerousElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"object":   true,
	"embed":    true,
	"svg":      true,
	"math":     true,
	"form":     true,
	"button":   true,
	"input":    true,
	"textarea": true,
	"select":   true,
}

// ToText extracts the readable text of an HTML document. Comments and
// dangerous elements are dropped with their contents, all remaining tags
// are removed, entities are decoded, control characters are stripped and
// whitespace is collapsed. If maxChars > 0 the result is cut to that many
// characters; the second return reports whether a cut happened.
func ToText(input []byte, maxChars int) (string, bool) {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return "", false
	}
	var b strings.Builder
	collectText(&b, node)
	text := CollapseWhitespace(stripControl(b.String()))
	return Truncate(text, maxChars)
}

// ToMarkdown converts an HTML document to Markdown with ATX headings,
// fenced code blocks and "-" bullets. Dangerous elements and comments are
// pruned from the parse tree before conversion. baseURL, when non-empty,
// is used to resolve relative links and image sources. The whitespace pass
// and length policy match ToText.
func ToMarkdown(input []byte, baseURL string, maxChars int) (string, bool, error) {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return "", false, err
	}
	prune(node)

	var cleaned bytes.Buffer
	if err := html.Render(&cleaned, node); err != nil {
		return "", false, err
	}

	var opts []converter.ConvertOptionFunc
	if baseURL != "" {
		opts = append(opts, converter.WithDomain(baseURL))
	}
	md, err := htmltomarkdown.ConvertString(cleaned.String(), opts...)
	if err != nil {
		return "", false, err
	}
	text := CollapseWhitespace(stripControl(md))
	out, truncated := Truncate(text, maxChars)
	return out, truncated, nil
}

// collectText walks the parse tree and appends text content, inserting
// newlines at block boundaries so that adjacent blocks do not run together.
func collectText(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		name := strings.ToLower(n.Data)
		if dangerousElements[name] {
			return
		}
		switch name {
		case "br", "hr":
			b.WriteString("\n")
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "ul", "ol",
			"div", "blockquote", "pre", "table", "tr":
			b.WriteString("\n")
		case "td", "th":
			b.WriteString(" ")
		}
	}

	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}

	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "table":
			b.WriteString("\n\n")
		case "li", "tr", "div", "pre":
			b.WriteString("\n")
		}
	}
}

// prune removes comments and dangerous subtrees from the parse tree in
// place.
func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && dangerousElements[strings.ToLower(c.Data)]:
			n.RemoveChild(c)
		default:
			prune(c)
		}
		c = next
	}
}

// stripControl removes C0 control characters except TAB and LF, and DEL.
// Zero-width and bidi codepoints are deliberately kept: the scorer looks
// for them in sanitized text.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}

// CollapseWhitespace strips CRs, collapses runs of spaces and tabs to a
// single space, limits consecutive newlines to two and trims the result.
// It is idempotent.
func CollapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			// keep at most one consecutive blank line
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, collapseSpaces(trimmed))
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}

// Truncate cuts s to maxChars characters when maxChars > 0 and reports
// whether anything was cut. maxChars <= 0 means no limit.
func Truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i], true
		}
		n++
	}
	return s, false
}
