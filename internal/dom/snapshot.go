// Package dom parses serialized DOM snapshots submitted by the client and
// answers the structural queries the refinement and verification engines
// need. The core never owns a live browser; everything works off the HTML
// string captured at the moment the client called in.
package dom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Element is one interactable node extracted from a snapshot.
type Element struct {
	ID          string
	Tag         string
	Type        string
	Name        string
	Text        string
	Placeholder string
	AriaLabel   string
}

// Label returns the most descriptive human-readable text for the element.
func (e Element) Label() string {
	for _, s := range []string{e.Text, e.AriaLabel, e.Placeholder, e.Name} {
		if s != "" {
			return s
		}
	}
	return e.ID
}

// Snapshot wraps a parsed DOM snapshot.
type Snapshot struct {
	doc *goquery.Document
	raw string
}

// Parse builds a Snapshot from serialized HTML. An empty string yields an
// empty but queryable snapshot.
func Parse(raw string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &Snapshot{doc: doc, raw: raw}, nil
}

// Raw returns the original serialized HTML.
func (s *Snapshot) Raw() string {
	return s.raw
}

// Truncated returns the raw snapshot capped at maxChars runes for prompt
// rendering.
func (s *Snapshot) Truncated(maxChars int) string {
	if maxChars <= 0 {
		return s.raw
	}
	runes := []rune(s.raw)
	if len(runes) <= maxChars {
		return s.raw
	}
	return string(runes[:maxChars]) + "\n<!-- snapshot truncated -->"
}

// find resolves a selector against the document. Selectors originate from
// LLM output and may not be valid CSS; cascadia panics on those, so the
// lookup is fenced.
func (s *Snapshot) find(selector string) (sel *goquery.Selection) {
	defer func() {
		if r := recover(); r != nil {
			sel = nil
		}
	}()
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil
	}
	return s.doc.Find(selector)
}

// Exists reports whether at least one node matches the selector. A bare
// identifier is treated as an element id.
func (s *Snapshot) Exists(selector string) bool {
	sel := s.find(normalizeSelector(selector))
	return sel != nil && sel.Length() > 0
}

// Text returns the trimmed text content of the first match.
func (s *Snapshot) Text(selector string) (string, bool) {
	sel := s.find(normalizeSelector(selector))
	if sel == nil || sel.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(sel.First().Text()), true
}

// Attr returns the named attribute of the first match.
func (s *Snapshot) Attr(selector, name string) (string, bool) {
	sel := s.find(normalizeSelector(selector))
	if sel == nil || sel.Length() == 0 {
		return "", false
	}
	return sel.First().Attr(name)
}

// Interactables extracts the elements an agent action could plausibly
// target: links, buttons, form fields and anything with a click handler or
// button role.
func (s *Snapshot) Interactables() []Element {
	var out []Element
	seen := make(map[string]bool)

	s.doc.Find("a, button, input, select, textarea, [onclick], [role=button]").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		if id == "" || seen[id] {
			// Only elements addressable by id can appear in an action string.
			return
		}
		seen[id] = true

		el := Element{ID: id, Tag: goquery.NodeName(sel)}
		el.Type, _ = sel.Attr("type")
		el.Name, _ = sel.Attr("name")
		el.Placeholder, _ = sel.Attr("placeholder")
		el.AriaLabel, _ = sel.Attr("aria-label")
		el.Text = strings.TrimSpace(sel.Text())
		if el.Text == "" {
			if v, ok := sel.Attr("value"); ok {
				el.Text = strings.TrimSpace(v)
			}
		}
		out = append(out, el)
	})
	return out
}

// normalizeSelector turns a bare identifier into an id selector, so that
// predictions may reference elements either way.
func normalizeSelector(selector string) string {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return selector
	}
	if !strings.ContainsAny(selector, "#.[ >:*=") {
		return "#" + selector
	}
	return selector
}
