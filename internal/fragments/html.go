// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fragments

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// htmlWalker accumulates fragments in document order.
type htmlWalker struct {
	base    string
	section string
	counts  map[types.FragmentType]int
	frags   []types.Fragment
}

// ParseHTML splits an HTML document into fragments. Headings set the parent
// section of the fragments that follow them. Script and style content is
// ignored.
func ParseHTML(r io.Reader, base string) ([]types.Fragment, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	w := &htmlWalker{base: base, counts: map[types.FragmentType]int{}}
	w.walk(doc)
	return w.frags, nil
}

func (w *htmlWalker) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "iframe", "head":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			text := visibleText(n)
			if text != "" {
				w.add(types.Fragment{Type: types.FragmentHeading, Text: text})
				w.section = text
			}
			return
		case "p":
			if text := visibleText(n); text != "" {
				w.add(types.Fragment{Type: types.FragmentProse, Text: text})
			}
			return
		case "ul", "ol":
			if items := listItems(n); len(items) > 0 {
				w.add(types.Fragment{Type: types.FragmentList, Text: "- " + strings.Join(items, "\n- ")})
			}
			return
		case "table":
			if t := tablePayload(n); len(t.Rows) > 0 || len(t.Headers) > 0 {
				w.add(types.Fragment{Type: types.FragmentTable, Text: tableText(t), Table: t})
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *htmlWalker) add(f types.Fragment) {
	w.counts[f.Type]++
	f.ID = FragmentID(w.base, len(w.frags)+1)
	f.Location = fmt.Sprintf("%s %d", f.Type, w.counts[f.Type])
	if f.Type != types.FragmentHeading {
		f.ParentSection = w.section
	}
	w.frags = append(w.frags, f)
}

// visibleText returns the whitespace-collapsed text under n.
func visibleText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			parts = append(parts, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func listItems(list *html.Node) []string {
	var items []string
	for c := list.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "li" {
			if text := visibleText(c); text != "" {
				items = append(items, text)
			}
		}
	}
	return items
}

func tablePayload(table *html.Node) *types.TablePayload {
	t := &types.TablePayload{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			header := true
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
					continue
				}
				if c.Data == "td" {
					header = false
				}
				cells = append(cells, visibleText(c))
			}
			if len(cells) == 0 {
				return
			}
			if header && len(t.Headers) == 0 && len(t.Rows) == 0 {
				t.Headers = cells
			} else {
				t.Rows = append(t.Rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return t
}

func tableText(t *types.TablePayload) string {
	lines := make([]string, 0, len(t.Rows)+1)
	if len(t.Headers) > 0 {
		lines = append(lines, strings.Join(t.Headers, " | "))
	}
	for _, row := range t.Rows {
		lines = append(lines, strings.Join(row, " | "))
	}
	return strings.Join(lines, "\n")
}
