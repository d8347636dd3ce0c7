package knowledge

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose content is never indexed.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true, // title is read separately
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Template: true,
}

// headingLevel returns the markdown depth of a heading element, or 0.
func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

// ExtractPage parses raw HTML and returns the page title and a markdown-ish
// rendering of its visible text.
func ExtractPage(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", cleanWhitespace(raw)
	}

	title = strings.TrimSpace(findTitle(doc))

	var b strings.Builder
	renderNode(doc, &b)
	return title, cleanWhitespace(b.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func renderNode(n *html.Node, w *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		if level := headingLevel(n.DataAtom); level > 0 {
			heading := strings.Join(strings.Fields(textContent(n)), " ")
			if heading != "" {
				w.WriteString("\n\n")
				w.WriteString(strings.Repeat("#", level))
				w.WriteString(" ")
				w.WriteString(heading)
				w.WriteString("\n\n")
			}
			return
		}
		if isBlockElement(n.DataAtom) {
			w.WriteString("\n\n")
		}
		if n.DataAtom == atom.Li {
			w.WriteString("\n- ")
		}
	}

	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			w.WriteString(t)
			w.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(c, w)
	}

	if n.Type == html.ElementNode && n.DataAtom == atom.Br {
		w.WriteString("\n")
	}
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figcaption, atom.Figure,
		atom.Details, atom.Summary, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace collapses runs of spaces within lines and of blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
