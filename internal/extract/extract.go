// Package extract maps a rendered listing page onto raw listing records. Each
// site variant is a pure function over a parsed DOM snapshot, so strategies
// can be exercised against static HTML.
package extract

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/job-listing-crawler/internal/sites"
	"github.com/JakeFAU/job-listing-crawler/internal/textutil"
)

// DeadlineLabel is stripped from deadlines on the metadata variant.
const DeadlineLabel = "Closes: "

// Record holds the raw field values read for one listing.
type Record map[sites.Field]string

// Extractor turns a parsed page into records for site.
type Extractor func(doc *goquery.Document, site sites.Config, base *url.URL) []Record

var extractors = map[sites.Variant]Extractor{
	sites.VariantGeneric:   Generic,
	sites.VariantMetadata:  Metadata,
	sites.VariantSectioned: Sectioned,
}

// For returns the extractor registered for variant.
func For(variant sites.Variant) (Extractor, error) {
	if variant == "" {
		variant = sites.VariantGeneric
	}
	extractor, ok := extractors[variant]
	if !ok {
		return nil, fmt.Errorf("unknown extraction variant %q", variant)
	}
	return extractor, nil
}

// Page parses an HTML snapshot taken at pageURL and runs the site's extractor.
func Page(r io.Reader, pageURL string, site sites.Config) ([]Record, error) {
	extractor, err := For(site.ExtractVariant())
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return extractor(doc, site, base), nil
}

// Generic reads every field through its selector.
func Generic(doc *goquery.Document, site sites.Config, base *url.URL) []Record {
	var out []Record
	doc.Find(site.ListingSelector).Each(func(_ int, item *goquery.Selection) {
		rec := Record{
			sites.FieldLink:        link(item, site.Selector(sites.FieldLink), base),
			sites.FieldPosition:    text(item, site.Selector(sites.FieldPosition)),
			sites.FieldCompanyName: text(item, site.Selector(sites.FieldCompanyName)),
			sites.FieldCompanyLogo: image(item, site.Selector(sites.FieldCompanyLogo), base),
			sites.FieldLocation:    text(item, site.Selector(sites.FieldLocation)),
			sites.FieldJobType:     text(item, site.Selector(sites.FieldJobType)),
			sites.FieldDatePosted:  date(item, site.Selector(sites.FieldDatePosted)),
			sites.FieldDeadline:    text(item, site.Selector(sites.FieldDeadline)),
		}
		if Keep(rec) {
			out = append(out, rec)
		}
	})
	return out
}

// Metadata reads the reduced field set of a single-organization board and
// strips the deadline label. Company, logo and job type come from the site
// constants during post-processing.
func Metadata(doc *goquery.Document, site sites.Config, base *url.URL) []Record {
	var out []Record
	doc.Find(site.ListingSelector).Each(func(_ int, item *goquery.Selection) {
		rec := Record{
			sites.FieldLink:       link(item, site.Selector(sites.FieldLink), base),
			sites.FieldPosition:   text(item, site.Selector(sites.FieldPosition)),
			sites.FieldLocation:   text(item, site.Selector(sites.FieldLocation)),
			sites.FieldDatePosted: date(item, site.Selector(sites.FieldDatePosted)),
			sites.FieldDeadline:   textutil.StripLabel(text(item, site.Selector(sites.FieldDeadline)), DeadlineLabel),
		}
		if Keep(rec) {
			out = append(out, rec)
		}
	})
	return out
}

// Sectioned walks named sections and tags each nested listing with the
// section heading as its job type. Company, logo and date are optional.
func Sectioned(doc *goquery.Document, site sites.Config, base *url.URL) []Record {
	var out []Record
	doc.Find(site.SectionSelector).Each(func(_ int, section *goquery.Selection) {
		heading := textutil.CollapseWhitespace(section.Find(site.SectionHeadingSelector).First().Text())
		section.Find(site.ListingSelector).Each(func(_ int, item *goquery.Selection) {
			rec := Record{
				sites.FieldLink:        link(item, site.Selector(sites.FieldLink), base),
				sites.FieldPosition:    text(item, site.Selector(sites.FieldPosition)),
				sites.FieldCompanyName: optional(text(item, site.Selector(sites.FieldCompanyName))),
				sites.FieldCompanyLogo: optional(image(item, site.Selector(sites.FieldCompanyLogo), base)),
				sites.FieldLocation:    text(item, site.Selector(sites.FieldLocation)),
				sites.FieldJobType:     heading,
				sites.FieldDatePosted:  optional(date(item, site.Selector(sites.FieldDatePosted))),
			}
			if Keep(rec) {
				out = append(out, rec)
			}
		})
	})
	return out
}

// Keep reports whether rec has a usable absolute link and a real position
// longer than two characters.
func Keep(rec Record) bool {
	if !textutil.IsValidURL(rec[sites.FieldLink]) {
		return false
	}
	position := textutil.CollapseWhitespace(rec[sites.FieldPosition])
	if textutil.IsPlaceholder(position) {
		return false
	}
	return utf8.RuneCountInString(position) > 2
}

// find scopes selector to item; an empty selector matches nothing.
func find(item *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return item.Slice(0, 0)
	}
	return item.Find(selector).First()
}

func text(item *goquery.Selection, selector string) string {
	return textutil.CollapseWhitespace(find(item, selector).Text())
}

// link resolves the href of the selected node, falling back to its closest
// anchor ancestor and then to the first anchor inside it.
func link(item *goquery.Selection, selector string, base *url.URL) string {
	node := find(item, selector)
	if node.Length() == 0 {
		return ""
	}
	href, ok := node.Attr("href")
	if !ok {
		if anchor := node.Closest("a[href]"); anchor.Length() > 0 {
			href, ok = anchor.Attr("href")
		}
	}
	if !ok {
		if anchor := node.Find("a[href]").First(); anchor.Length() > 0 {
			href, _ = anchor.Attr("href")
		}
	}
	return textutil.ResolveURL(base, href)
}

// image resolves the logo URL from src, data-src or srcset.
func image(item *goquery.Selection, selector string, base *url.URL) string {
	node := find(item, selector)
	if node.Length() == 0 {
		return ""
	}
	if !node.Is("img") {
		if inner := node.Find("img").First(); inner.Length() > 0 {
			node = inner
		}
	}
	for _, attr := range []string{"src", "data-src"} {
		if v, ok := node.Attr(attr); ok && !textutil.IsPlaceholder(v) && !strings.HasPrefix(v, "data:") {
			return textutil.ResolveURL(base, v)
		}
	}
	if srcset, ok := node.Attr("srcset"); ok {
		if first := strings.Fields(srcset); len(first) > 0 {
			return textutil.ResolveURL(base, first[0])
		}
	}
	return ""
}

// date prefers a machine-readable datetime attribute, reduced to a calendar
// date, over the visible text.
func date(item *goquery.Selection, selector string) string {
	node := find(item, selector)
	if node.Length() == 0 {
		return ""
	}
	if dt, ok := node.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
		return textutil.NormalizeDate(dt)
	}
	if inner := node.Find("time[datetime]").First(); inner.Length() > 0 {
		if dt, ok := inner.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
			return textutil.NormalizeDate(dt)
		}
	}
	return textutil.CollapseWhitespace(node.Text())
}

func optional(v string) string {
	if textutil.IsPlaceholder(v) {
		return textutil.NotAvailable
	}
	return v
}
