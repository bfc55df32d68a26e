// Package sites is the declarative registry of job boards crawled by the
// listing pass. Entries are plain data: selectors, the page-interaction
// strategy, and the extraction variant that reads them.
package sites

import (
	"fmt"
	"strings"
)

// Field names a listing attribute read from the page.
type Field string

// Listing fields addressable through FieldSelectors.
const (
	FieldLink         Field = "link"
	FieldPosition     Field = "position"
	FieldCompanyName  Field = "companyName"
	FieldCompanyLogo  Field = "companyLogo"
	FieldLocation     Field = "location"
	FieldJobType      Field = "jobType"
	FieldDatePosted   Field = "datePosted"
	FieldDeadline     Field = "applicationDeadline"
	FieldOpenDate     Field = "openDate"
	FieldCloseDate    Field = "closeDate"
	FieldContractType Field = "contractType"
)

// LoadStrategy selects how additional listings are brought into the DOM.
type LoadStrategy string

// Supported load strategies.
const (
	LoadNone          LoadStrategy = "none"
	LoadFullScroll    LoadStrategy = "full-scroll"
	LoadPartialScroll LoadStrategy = "partial-scroll"
	LoadMore          LoadStrategy = "load-more"
)

// Variant selects the extraction strategy for a site.
type Variant string

// Supported extraction variants.
const (
	VariantGeneric   Variant = "generic"
	VariantMetadata  Variant = "metadata"
	VariantSectioned Variant = "sectioned"
)

// DefaultMaxAttempts bounds load-more clicking when a site does not set it.
const DefaultMaxAttempts = 4

// DefaultDescriptionSelector is used by the enrichment pass for sources
// without their own description selector.
const DefaultDescriptionSelector = "main"

// Config describes one target site.
type Config struct {
	Name            string           `mapstructure:"name"`
	URL             string           `mapstructure:"url"`
	OutputFile      string           `mapstructure:"output_file"`
	ListingSelector string           `mapstructure:"listing_selector"`
	FieldSelectors  map[Field]string `mapstructure:"field_selectors"`
	LoadStrategy    LoadStrategy     `mapstructure:"load_strategy"`
	ButtonSelector  string           `mapstructure:"button_selector"`
	MaxAttempts     int              `mapstructure:"max_attempts"`

	Variant                Variant          `mapstructure:"variant"`
	SectionSelector        string           `mapstructure:"section_selector"`
	SectionHeadingSelector string           `mapstructure:"section_heading_selector"`
	Constants              map[Field]string `mapstructure:"constants"`

	// Detail page selectors used by the enrichment pass.
	DescriptionSelector string           `mapstructure:"description_selector"`
	DetailSelectors     map[Field]string `mapstructure:"detail_selectors"`
}

var requiredFields = map[Variant][]Field{
	VariantGeneric: {
		FieldLink, FieldPosition, FieldCompanyName, FieldCompanyLogo,
		FieldLocation, FieldJobType, FieldDatePosted,
	},
	VariantMetadata:  {FieldLink, FieldPosition, FieldLocation, FieldDeadline},
	VariantSectioned: {FieldLink, FieldPosition},
}

// Selector returns the selector for field, or "" when unset.
func (c Config) Selector(field Field) string {
	return lookup(c.FieldSelectors, field)
}

// Constant returns the fixed value configured for field, or "".
func (c Config) Constant(field Field) string {
	return lookup(c.Constants, field)
}

// DetailSelector returns the detail-page selector for field, or "".
func (c Config) DetailSelector(field Field) string {
	return lookup(c.DetailSelectors, field)
}

// lookup matches keys case-insensitively since config files pass through
// viper, which lowercases map keys.
func lookup(m map[Field]string, field Field) string {
	if v, ok := m[field]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range m {
		if strings.EqualFold(string(k), string(field)) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Attempts returns the configured load-more bound or the default.
func (c Config) Attempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return DefaultMaxAttempts
}

// ExtractVariant returns the variant, defaulting to generic.
func (c Config) ExtractVariant() Variant {
	if c.Variant == "" {
		return VariantGeneric
	}
	return c.Variant
}

// Strategy returns the load strategy, defaulting to none.
func (c Config) Strategy() LoadStrategy {
	if c.LoadStrategy == "" {
		return LoadNone
	}
	return c.LoadStrategy
}

// Validate checks that the selectors required by the chosen strategy and
// variant are present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("site name must be set")
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("site %s: url must be set", c.Name)
	}
	if strings.TrimSpace(c.ListingSelector) == "" {
		return fmt.Errorf("site %s: listing_selector must be set", c.Name)
	}
	required, ok := requiredFields[c.ExtractVariant()]
	if !ok {
		return fmt.Errorf("site %s: unknown variant %q", c.Name, c.Variant)
	}
	for _, field := range required {
		if c.Selector(field) == "" {
			return fmt.Errorf("site %s: field_selectors.%s is required by the %s variant", c.Name, field, c.ExtractVariant())
		}
	}
	if c.ExtractVariant() == VariantSectioned {
		if c.SectionSelector == "" || c.SectionHeadingSelector == "" {
			return fmt.Errorf("site %s: section_selector and section_heading_selector are required by the sectioned variant", c.Name)
		}
	}
	switch c.Strategy() {
	case LoadNone, LoadFullScroll, LoadPartialScroll:
	case LoadMore:
		if strings.TrimSpace(c.ButtonSelector) == "" {
			return fmt.Errorf("site %s: button_selector is required by the load-more strategy", c.Name)
		}
	default:
		return fmt.Errorf("site %s: unknown load_strategy %q", c.Name, c.LoadStrategy)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("site %s: max_attempts must be >= 0", c.Name)
	}
	return nil
}

// Registry is an ordered list of sites.
type Registry []Config

// Validate checks every site and rejects duplicate names.
func (r Registry) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("sites: at least one site must be configured")
	}
	seen := make(map[string]struct{}, len(r))
	for _, site := range r {
		if err := site.Validate(); err != nil {
			return err
		}
		key := strings.ToLower(site.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("sites: duplicate site name %q", site.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Lookup returns the site registered under name.
func (r Registry) Lookup(name string) (Config, bool) {
	for _, site := range r {
		if strings.EqualFold(site.Name, name) {
			return site, true
		}
	}
	return Config{}, false
}

// DescriptionSelector returns the enrichment selector for source, falling back
// to DefaultDescriptionSelector.
func (r Registry) DescriptionSelector(source string) string {
	if site, ok := r.Lookup(source); ok && strings.TrimSpace(site.DescriptionSelector) != "" {
		return site.DescriptionSelector
	}
	return DefaultDescriptionSelector
}
