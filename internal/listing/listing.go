// Package listing defines the JobListing record emitted by the listing pass and
// rewritten by the enrichment pass, along with the JSON file round trip both
// passes share.
package listing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Description sentinels recorded by the enrichment pass.
const (
	DescriptionNotFound = "No description found"
	DescriptionFailed   = "Failed to fetch description"
)

// Listing is one scraped job posting.
type Listing struct {
	Link                string    `json:"link"`
	Position            string    `json:"position"`
	CompanyName         string    `json:"companyName"`
	CompanyLogo         string    `json:"companyLogo"`
	Location            string    `json:"location"`
	JobType             string    `json:"jobType"`
	DatePosted          string    `json:"datePosted"`
	ApplicationDeadline string    `json:"applicationDeadline"`
	Source              string    `json:"source"`
	ScrapedAt           time.Time `json:"scrapedAt"`
	IsValidURL          bool      `json:"isValidUrl"`
	JobDescription      string    `json:"jobDescription,omitempty"`

	// Extra holds keys this package does not know about. They are written
	// back after the known fields, sorted by key.
	Extra map[string]json.RawMessage `json:"-"`
}

// record is Listing without its JSON methods.
type record Listing

// wire overrides ScrapedAt so that an absent or zero timestamp stays absent.
type wire struct {
	record
	ScrapedAt *time.Time `json:"scrapedAt,omitempty"`
}

// knownKeys are the lower-cased JSON names of Listing's own fields;
// encoding/json matches them case-insensitively on input.
var knownKeys = map[string]struct{}{
	"link": {}, "position": {}, "companyname": {}, "companylogo": {}, "location": {},
	"jobtype": {}, "dateposted": {}, "applicationdeadline": {}, "source": {},
	"scrapedat": {}, "isvalidurl": {}, "jobdescription": {},
}

// MarshalJSON writes the known fields followed by Extra.
func (l Listing) MarshalJSON() ([]byte, error) {
	w := wire{record: record(l)}
	if !l.ScrapedAt.IsZero() {
		at := l.ScrapedAt
		w.ScrapedAt = &at
	}
	known, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(l.Extra))
	for k := range l.Extra {
		if _, ok := knownKeys[strings.ToLower(k)]; !ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return known, nil
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(known[:len(known)-1])
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value := l.Extra[k]
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the known fields and keeps every other key in Extra.
func (l *Listing) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*l = Listing(w.record)
	l.ScrapedAt = time.Time{}
	if w.ScrapedAt != nil {
		l.ScrapedAt = *w.ScrapedAt
	}
	l.Extra = nil
	for k, v := range all {
		if _, ok := knownKeys[strings.ToLower(k)]; ok {
			continue
		}
		if l.Extra == nil {
			l.Extra = make(map[string]json.RawMessage)
		}
		l.Extra[k] = v
	}
	return nil
}

// ReadFile loads a JSON array of listings from path.
func ReadFile(path string) ([]Listing, error) {
	// #nosec G304 -- path comes from trusted configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read listings %s: %w", path, err)
	}
	var out []Listing
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode listings %s: %w", path, err)
	}
	return out, nil
}

// WriteFile writes listings to path as a pretty-printed JSON array, creating
// parent directories and replacing any previous content.
func WriteFile(path string, listings []Listing) error {
	if listings == nil {
		listings = []Listing{}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating output dir for %s: %w", path, err)
		}
	}
	payload, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal listings: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write listings %s: %w", path, err)
	}
	return nil
}
