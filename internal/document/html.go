// Package document turns the rendered agreement body into the final PDF.
package document

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Block kinds
const (
	BlockHeading1  = "h1"
	BlockHeading2  = "h2"
	BlockHeading3  = "h3"
	BlockParagraph = "p"
	BlockListItem  = "li"
)

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li"

// lineBreak stands in for <br> while the text is collapsed.
const lineBreak = "\u2028"

var spaceRE = regexp.MustCompile(`\s+`)

// Block is one printable unit of the rich-text body.
type Block struct {
	Kind string
	Text string
}

// ParseHTML flattens rich text into headings, paragraphs and list items.
// Text outside any block element becomes a single paragraph.
func ParseHTML(body string) ([]Block, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("br").ReplaceWithHtml(lineBreak)
	doc.Find("script, style").Remove()

	var blocks []Block
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// nested blocks are printed as part of their outermost parent
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		text := normalize(s.Text())
		if text == "" {
			return
		}
		blocks = append(blocks, Block{Kind: kindOf(goquery.NodeName(s)), Text: text})
	})

	if len(blocks) == 0 {
		if text := normalize(doc.Find("body").Text()); text != "" {
			blocks = append(blocks, Block{Kind: BlockParagraph, Text: text})
		}
	}
	return blocks, nil
}

func kindOf(tag string) string {
	switch tag {
	case "h1":
		return BlockHeading1
	case "h2":
		return BlockHeading2
	case "h3", "h4", "h5", "h6":
		return BlockHeading3
	case "li":
		return BlockListItem
	}
	return BlockParagraph
}

func normalize(s string) string {
	lines := strings.Split(s, lineBreak)
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(spaceRE.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
