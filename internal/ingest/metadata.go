package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// BookMeta is what upload-time sniffing can recover from a book file.
type BookMeta struct {
	Title     string
	PageCount int
}

// SniffPDF extracts page count and a title guess from a PDF on disk.
// Title comes from the document info dictionary when present; malformed
// files return an error and the caller falls back to the filename.
func SniffPDF(path string) (BookMeta, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return BookMeta{}, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	meta := BookMeta{PageCount: reader.NumPage()}
	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		if title := strings.TrimSpace(info.Key("Title").Text()); title != "" {
			meta.Title = title
		}
	}
	return meta, nil
}

// StripHTML reduces an HTML fragment to its visible text. Catalog
// descriptions imported from publisher feeds often arrive as markup.
func StripHTML(fragment string) string {
	doc, err := html.Parse(bytes.NewReader([]byte(fragment)))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(buf.String()), " ")
}
