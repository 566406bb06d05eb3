package extract

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/groundplane/groundplane/internal/domain"
)

// contentTags are the elements whose text is kept when parsing a web page.
var contentTags = map[string]bool{
	"h1": true, "h2": true, "h3": true,
	"p": true, "li": true,
}

// HTML parses a web page and returns its readable text: the contents of
// h1-h3 headings (prefixed with their level, e.g. "H2: Pricing"), paragraphs
// and list items, joined by blank lines in document order.
func HTML(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", domain.NewExtractionError("failed to parse html", err)
	}

	var blocks []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
			if contentTags[n.Data] {
				text := strings.Join(strings.Fields(nodeText(n)), " ")
				if text != "" {
					if strings.HasPrefix(n.Data, "h") {
						text = strings.ToUpper(n.Data) + ": " + text
					}
					blocks = append(blocks, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(blocks) == 0 {
		return "", domain.NewExtractionError("no content extracted", nil)
	}
	return strings.Join(blocks, "\n\n"), nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
