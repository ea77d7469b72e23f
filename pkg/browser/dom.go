package browser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// element is an interactive element the model can act on or report.
type element struct {
	Index    int
	Tag      string
	Type     string
	Role     string
	Label    string
	Selector string
}

const interactiveQuery = "a[href], button, input, select, textarea, summary, " +
	"[role=button], [role=link], [role=checkbox], [role=radio], [role=tab], " +
	"[role=menuitem], [role=option], [role=switch], [role=textbox], [role=combobox], " +
	"[onclick], [contenteditable=true]"

const maxLabelRunes = 80

var cssIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// interactiveElements lists the visible interactive elements of a page in
// document order, each with a selector that matches exactly one element.
func interactiveElements(rawHTML string) ([]element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var out []element
	doc.Find(interactiveQuery).Each(func(_ int, s *goquery.Selection) {
		if hidden(s) {
			return
		}
		out = append(out, element{
			Index:    len(out),
			Tag:      goquery.NodeName(s),
			Type:     strings.ToLower(s.AttrOr("type", "")),
			Role:     s.AttrOr("role", ""),
			Label:    label(s),
			Selector: selectorFor(doc, s),
		})
	})
	return out, nil
}

func hidden(s *goquery.Selection) bool {
	if strings.EqualFold(s.AttrOr("type", ""), "hidden") {
		return true
	}
	for n := s; n.Length() > 0 && goquery.NodeName(n) != "body"; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return true
		}
		if n.AttrOr("aria-hidden", "") == "true" {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

// label picks the most human-readable description of an element.
func label(s *goquery.Selection) string {
	candidates := []string{
		s.Text(),
		s.AttrOr("aria-label", ""),
		s.AttrOr("placeholder", ""),
		s.AttrOr("title", ""),
		s.Find("img[alt]").First().AttrOr("alt", ""),
		s.AttrOr("value", ""),
		s.AttrOr("name", ""),
	}
	for _, c := range candidates {
		c = strings.Join(strings.Fields(c), " ")
		if c == "" {
			continue
		}
		if r := []rune(c); len(r) > maxLabelRunes {
			c = string(r[:maxLabelRunes]) + "..."
		}
		return c
	}
	return ""
}

// selectorFor returns the shortest stable selector hint that matches s and
// nothing else, falling back to a structural nth-of-type path.
func selectorFor(doc *goquery.Document, s *goquery.Selection) string {
	tag := goquery.NodeName(s)

	var candidates []string
	if id := s.AttrOr("id", ""); id != "" {
		if cssIdent.MatchString(id) {
			candidates = append(candidates, "#"+id)
		} else {
			candidates = append(candidates, attrSelector("", "id", id))
		}
	}
	for _, key := range []string{"data-testid", "data-test", "data-qa"} {
		if v := s.AttrOr(key, ""); v != "" {
			candidates = append(candidates, attrSelector("", key, v))
		}
	}
	for _, key := range []string{"name", "aria-label", "placeholder"} {
		if v := s.AttrOr(key, ""); v != "" {
			candidates = append(candidates, attrSelector(tag, key, v))
		}
	}
	if tag == "a" {
		if href := s.AttrOr("href", ""); href != "" && href != "#" {
			candidates = append(candidates, attrSelector(tag, "href", href))
		}
	}

	for _, c := range candidates {
		if doc.Find(c).Length() == 1 {
			return c
		}
	}
	return structuralPath(s)
}

func attrSelector(tag, key, value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return fmt.Sprintf(`%s[%s="%s"]`, tag, key, escaped)
}

func structuralPath(s *goquery.Selection) string {
	var parts []string
	for n := s; n.Length() > 0; n = n.Parent() {
		tag := goquery.NodeName(n)
		if tag == "html" || tag == "#document" {
			break
		}
		if tag == "body" {
			parts = append(parts, "body")
			break
		}
		nth := n.PrevAllFiltered(tag).Length() + 1
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", tag, nth))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// renderElements formats elements for a prompt, one per line.
func renderElements(elements []element) string {
	if len(elements) == 0 {
		return "(no interactive elements found)"
	}
	var b strings.Builder
	for _, e := range elements {
		fmt.Fprintf(&b, "[%d] <%s", e.Index, e.Tag)
		if e.Type != "" {
			fmt.Fprintf(&b, " type=%s", e.Type)
		}
		if e.Role != "" {
			fmt.Fprintf(&b, " role=%s", e.Role)
		}
		fmt.Fprintf(&b, "> %s\n", e.Label)
	}
	return b.String()
}
