package enricher

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/job-listing-crawler/internal/listing"
	"github.com/JakeFAU/job-listing-crawler/internal/sites"
	"github.com/JakeFAU/job-listing-crawler/internal/textutil"
)

// Kind classifies where a description came from.
type Kind int

// Description kinds.
const (
	KindText Kind = iota
	KindImages
	KindNotFound
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImages:
		return "images"
	case KindNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "br": {}, "li": {}, "ul": {}, "ol": {}, "tr": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"section": {}, "article": {}, "header": {}, "footer": {}, "blockquote": {},
	"pre": {}, "table": {}, "dd": {}, "dt": {},
}

// Description reads the first container matching selector. It prefers the
// container's visible text, falls back to the URLs of the images inside it
// joined by ", ", and otherwise reports listing.DescriptionNotFound.
func Description(doc *goquery.Document, selector string, base *url.URL) (string, Kind) {
	container := doc.Find(selector).First()
	if container.Length() == 0 {
		return listing.DescriptionNotFound, KindNotFound
	}
	container.Find("script, style, noscript, template").Remove()

	if text := visibleText(container); text != "" {
		return text, KindText
	}
	var images []string
	container.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if textutil.IsPlaceholder(src) || strings.HasPrefix(src, "data:") {
			return
		}
		if resolved := textutil.ResolveURL(base, src); resolved != "" {
			images = append(images, resolved)
		}
	})
	if len(images) > 0 {
		return strings.Join(images, ", "), KindImages
	}
	return listing.DescriptionNotFound, KindNotFound
}

// visibleText flattens the container to text, keeping one line per block
// element and collapsing whitespace inside each line.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if _, block := blockElements[n.Data]; block {
				b.WriteByte('\n')
				defer b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = textutil.Sanitize(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// applyDetails overwrites datePosted, applicationDeadline and jobType with the
// detail-page values configured for site, when present.
func applyDetails(doc *goquery.Document, site sites.Config, job *listing.Listing) {
	if v := detailText(doc, site.DetailSelector(sites.FieldOpenDate)); v != "" {
		job.DatePosted = textutil.NormalizeDate(v)
	}
	if v := detailText(doc, site.DetailSelector(sites.FieldCloseDate)); v != "" {
		job.ApplicationDeadline = textutil.NormalizeDate(v)
	}
	if v := detailText(doc, site.DetailSelector(sites.FieldContractType)); v != "" {
		job.JobType = v
	}
}

func detailText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	v := textutil.Sanitize(doc.Find(selector).First().Text())
	if textutil.IsPlaceholder(v) {
		return ""
	}
	return v
}
