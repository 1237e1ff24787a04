package mail

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var tagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// ExtractBody returns the most useful plain text rendering of a MIME tree.
// Inline data on the node wins. Otherwise children are walked depth first in
// order and the first non-empty result is returned. Within one level a
// text/plain part beats a text/html sibling. It never fails; an empty string
// means nothing readable was found.
func ExtractBody(p *Part) string {
	if p == nil {
		return ""
	}

	if p.Data != "" {
		// non-text inline data (an attachment as the root) has no readable body
		if p.MimeType == "" || isText(p.MimeType) {
			return renderPart(p)
		}
		return ""
	}

	for i, part := range p.Parts {
		if part == nil {
			continue
		}
		switch {
		case isMime(part.MimeType, "text/plain") && part.Data != "":
			if text := renderPart(part); text != "" {
				return text
			}
		case isMime(part.MimeType, "text/html") && part.Data != "":
			if hasPlainSibling(p.Parts[i+1:]) {
				continue
			}
			if text := renderPart(part); text != "" {
				return text
			}
		case len(part.Parts) > 0:
			if text := ExtractBody(part); text != "" {
				return text
			}
		}
	}

	return ""
}

func hasPlainSibling(parts []*Part) bool {
	for _, part := range parts {
		if part != nil && isMime(part.MimeType, "text/plain") && part.Data != "" {
			return true
		}
	}
	return false
}

func renderPart(p *Part) string {
	text := DecodeBase64URL(p.Data)
	if isMime(p.MimeType, "text/html") {
		return HTMLToText(text)
	}
	return text
}

func isText(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "text/")
}

func isMime(actual, want string) bool {
	mt := strings.ToLower(strings.TrimSpace(actual))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt == want
}

// DecodeBase64URL decodes base64url data, padding it to a multiple of 4 first.
// Undecodable trailing input and invalid UTF-8 sequences are dropped.
func DecodeBase64URL(data string) string {
	data = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, data)
	data = strings.TrimRight(data, "=")
	if rem := len(data) % 4; rem != 0 {
		data += strings.Repeat("=", 4-rem)
	}

	buf := make([]byte, base64.URLEncoding.DecodedLen(len(data)))
	n, err := base64.URLEncoding.Decode(buf, []byte(data))
	if err != nil && n == 0 {
		// some senders use the standard alphabet
		n, _ = base64.StdEncoding.Decode(buf, []byte(data))
	}
	return strings.ToValidUTF8(string(buf[:n]), "")
}

// EncodeBase64URL is the inverse of DecodeBase64URL, without padding
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// HTMLToText strips markup. Block elements become line breaks, runs of
// whitespace collapse to one space and blank lines are dropped.
func HTMLToText(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return NormalizeWhitespace(tagPattern.ReplaceAllString(markup, " "))
	}
	flattenEmphasis(doc)

	text, err := html2text.FromHTMLNode(doc, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		text = tagPattern.ReplaceAllString(markup, " ")
	}
	return NormalizeWhitespace(text)
}

// flattenEmphasis rewrites the nodes html2text decorates in text only mode
// (it appends "." to bold runs and headings): b and strong are unwrapped,
// h1 to h3 become paragraphs.
func flattenEmphasis(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		flattenEmphasis(c)
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.B, atom.Strong:
				for gc := c.FirstChild; gc != nil; {
					gnext := gc.NextSibling
					c.RemoveChild(gc)
					n.InsertBefore(gc, c)
					gc = gnext
				}
				n.RemoveChild(c)
			case atom.H1, atom.H2, atom.H3:
				c.DataAtom, c.Data = atom.P, "p"
			}
		}
		c = next
	}
}

// NormalizeWhitespace collapses whitespace inside each line and removes empty lines
func NormalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
