package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// pageSnapshot is a compact rendering of a page for the model.
type pageSnapshot struct {
	Title       string
	Description string

	// Markup is the page with scripts, styles and other noise removed,
	// keeping only attributes useful for locating elements.
	Markup string

	// Text is the visible text, whitespace-collapsed.
	Text string
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"canvas":   true,
}

var blockElements = map[string]bool{
	"div": true, "p": true, "section": true, "article": true, "header": true,
	"footer": true, "nav": true, "main": true, "aside": true, "h1": true,
	"h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "ul": true,
	"ol": true, "li": true, "table": true, "tr": true, "td": true, "th": true,
	"form": true, "fieldset": true, "blockquote": true, "pre": true, "dl": true,
	"dt": true, "dd": true,
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

var globalAttributes = map[string]bool{
	"id":               true,
	"class":            true,
	"role":             true,
	"title":            true,
	"aria-label":       true,
	"aria-describedby": true,
}

// snapshotHTML parses raw page HTML into a pageSnapshot.
func snapshotHTML(raw string) (*pageSnapshot, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{}
	c.walk(doc, 0)

	snap := &pageSnapshot{
		Markup: strings.TrimSpace(c.markup.String()),
		Text:   strings.Join(strings.Fields(c.text.String()), " "),
	}
	if n := findElement(doc, "title", nil); n != nil {
		snap.Title = strings.TrimSpace(textContent(n))
	}
	isDescription := func(n *html.Node) bool { return attr(n, "name") == "description" }
	if n := findElement(doc, "meta", isDescription); n != nil {
		snap.Description = strings.TrimSpace(attr(n, "content"))
	}
	return snap, nil
}

type cleaner struct {
	markup strings.Builder
	text   strings.Builder
}

func (c *cleaner) walk(n *html.Node, depth int) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		c.writeText(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] || tag == "head" {
			return
		}
		c.writeElement(n, tag, depth)
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth)
	}
}

func (c *cleaner) writeText(data string) {
	text := strings.TrimSpace(data)
	if text == "" {
		return
	}
	c.markup.WriteString(html.EscapeString(text))
	c.text.WriteString(text)
	c.text.WriteByte(' ')
}

func (c *cleaner) writeElement(n *html.Node, tag string, depth int) {
	block := blockElements[tag]
	if block {
		c.newline(depth)
	}

	c.markup.WriteByte('<')
	c.markup.WriteString(tag)
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if keepAttribute(tag, key) {
			fmt.Fprintf(&c.markup, ` %s="%s"`, key, html.EscapeString(a.Val))
		}
	}
	c.markup.WriteByte('>')

	if voidElements[tag] {
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth+1)
	}

	if block {
		c.newline(depth)
	}
	fmt.Fprintf(&c.markup, "</%s>", tag)
}

func (c *cleaner) newline(depth int) {
	if c.markup.Len() == 0 {
		return
	}
	c.markup.WriteByte('\n')
	c.markup.WriteString(strings.Repeat("  ", depth))
}

// keepAttribute reports whether an attribute helps the model identify or
// target an element.
func keepAttribute(tag, key string) bool {
	if globalAttributes[key] || strings.HasPrefix(key, "data-") {
		return true
	}
	switch tag {
	case "a":
		return key == "href" || key == "target"
	case "img":
		return key == "src" || key == "alt"
	case "input", "textarea", "select":
		return key == "name" || key == "type" || key == "placeholder" || key == "value"
	case "button":
		return key == "type" || key == "name"
	case "form":
		return key == "action" || key == "method"
	case "label":
		return key == "for"
	case "table":
		return key == "summary"
	}
	return false
}

// findElement returns the first element named tag that satisfies match, in
// document order. A nil match accepts any element with that name.
func findElement(n *html.Node, tag string, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag && (match == nil || match(n)) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag, match); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		b.WriteString(textContent(child))
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
