// Package reqfilter decides which outgoing page requests are noise (trackers,
// ads, images, fonts) and should be aborted before they leave the browser.
package reqfilter

import (
	"net/url"
	"path"
	"strings"
)

// DefaultHosts lists tracking and advertising hosts. Entries starting with
// "*." or "." also match every subdomain.
var DefaultHosts = []string{
	"*.google-analytics.com",
	"*.googletagmanager.com",
	"*.googlesyndication.com",
	"*.doubleclick.net",
	"*.facebook.net",
	"*.hotjar.com",
	"*.hotjar.io",
	"*.segment.io",
	"*.segment.com",
	"*.mixpanel.com",
	"*.clarity.ms",
	"*.intercom.io",
	"*.adservice.google.com",
	"*.amazon-adsystem.com",
	"*.taboola.com",
	"*.outbrain.com",
	"*.linkedin.oribi.io",
	"*.fullstory.com",
}

// DefaultKeywords are path segments, or runs of segments, that mark beacon
// and pixel endpoints. They only match whole segments, so a slug such as
// /companies/pixelmatters is not affected.
var DefaultKeywords = []string{
	"collect",
	"analytics",
	"pixel",
	"beacon",
	"tracking",
	"gtag/js",
}

// DefaultExtensions are resource types never needed for extraction.
var DefaultExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".bmp", ".avif",
	".woff", ".woff2", ".ttf", ".otf", ".eot",
	".mp4", ".webm", ".mp3",
}

// Filter is a synchronous URL predicate. The zero value blocks nothing.
type Filter struct {
	exact      map[string]struct{}
	suffixes   []string
	keywords   []string
	extensions map[string]struct{}
}

// New builds a Filter from host patterns, URL keywords and file extensions.
func New(hosts, keywords, extensions []string) *Filter {
	f := &Filter{
		exact:      make(map[string]struct{}),
		extensions: make(map[string]struct{}),
	}
	for _, raw := range hosts {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			f.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			f.addSuffix(strings.TrimPrefix(value, "."))
		default:
			f.exact[value] = struct{}{}
		}
	}
	for _, kw := range keywords {
		kw = strings.Trim(strings.TrimSpace(strings.ToLower(kw)), "/?")
		if kw != "" {
			f.keywords = append(f.keywords, "/"+kw+"/")
		}
	}
	for _, ext := range extensions {
		ext = strings.TrimSpace(strings.ToLower(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	return f
}

// Default returns the filter used by both passes.
func Default() *Filter {
	return New(DefaultHosts, DefaultKeywords, DefaultExtensions)
}

func (f *Filter) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range f.suffixes {
		if existing == suffix {
			return
		}
	}
	f.suffixes = append(f.suffixes, suffix)
}

// BlockedRequest is Blocked for a request issued by a page. Document requests
// (the page being visited, or a frame) are always allowed.
func (f *Filter) BlockedRequest(rawURL string, document bool) bool {
	if document {
		return false
	}
	return f.Blocked(rawURL)
}

// Blocked reports whether a subresource request for rawURL should be aborted.
// Data and blob URLs are never blocked.
func (f *Filter) Blocked(rawURL string) bool {
	if f == nil {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if f.hostBlocked(u.Hostname()) {
		return true
	}
	if _, ok := f.extensions[strings.ToLower(path.Ext(u.Path))]; ok {
		return true
	}
	segments := "/" + strings.Trim(strings.ToLower(u.Path), "/") + "/"
	for _, kw := range f.keywords {
		if strings.Contains(segments, kw) {
			return true
		}
	}
	return false
}

func (f *Filter) hostBlocked(host string) bool {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := f.exact[host]; exact {
		return true
	}
	for _, suffix := range f.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
