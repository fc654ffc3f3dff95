package asn

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// textOf returns the text of the selection's nodes with every non-blank text
// node trimmed and joined by a single space. Script and style contents are
// not text.
func textOf(sel *goquery.Selection) string {
	var parts []string
	for _, n := range sel.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, " ")
}

func nodeText(n *html.Node) string {
	var parts []string
	collectText(n, &parts)
	return strings.Join(parts, " ")
}

func collectText(n *html.Node, parts *[]string) {
	switch n.Type {
	case html.TextNode:
		if s := strings.TrimSpace(n.Data); s != "" {
			*parts = append(*parts, s)
		}
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// collapse folds runs of whitespace into single spaces and trims the ends.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// nextElement returns the first element after n in document order, descending
// into n's own children first, whose tag is one of tags.
func nextElement(n *html.Node, tags ...string) *html.Node {
	for cur := successor(n); cur != nil; cur = successor(cur) {
		if cur.Type != html.ElementNode {
			continue
		}
		for _, t := range tags {
			if cur.Data == t {
				return cur
			}
		}
	}
	return nil
}

func successor(n *html.Node) *html.Node {
	if n.FirstChild != nil {
		return n.FirstChild
	}
	for ; n != nil; n = n.Parent {
		if n.NextSibling != nil {
			return n.NextSibling
		}
	}
	return nil
}
