package sites

// Default returns the compiled-in registry in crawl order.
func Default() Registry {
	return Registry{
		{
			Name:            "remoteok",
			URL:             "https://remoteok.com/remote-dev-jobs",
			OutputFile:      "data/sites/remoteok.json",
			ListingSelector: "tr.job",
			LoadStrategy:    LoadFullScroll,
			Variant:         VariantGeneric,
			FieldSelectors: map[Field]string{
				FieldLink:        "a.preventLink[itemprop='url']",
				FieldPosition:    "h2[itemprop='title']",
				FieldCompanyName: "h3[itemprop='name']",
				FieldCompanyLogo: "img.logo",
				FieldLocation:    "div.location",
				FieldJobType:     "td.tags .tag",
				FieldDatePosted:  "td.time time",
			},
			DescriptionSelector: "div.description",
		},
		{
			Name:            "himalayas",
			URL:             "https://himalayas.app/jobs",
			OutputFile:      "data/sites/himalayas.json",
			ListingSelector: "article[data-job-id]",
			LoadStrategy:    LoadMore,
			ButtonSelector:  "button[data-load-more]",
			MaxAttempts:     DefaultMaxAttempts,
			Variant:         VariantGeneric,
			FieldSelectors: map[Field]string{
				FieldLink:        "a[href^='/companies/'][href*='/jobs/']",
				FieldPosition:    "h2",
				FieldCompanyName: "a[href^='/companies/'] span",
				FieldCompanyLogo: "img[alt$='logo']",
				FieldLocation:    "div[data-location]",
				FieldJobType:     "span[data-employment-type]",
				FieldDatePosted:  "time",
			},
			DescriptionSelector: "article.job-description",
		},
		{
			Name:            "workingnomads",
			URL:             "https://www.workingnomads.com/jobs",
			OutputFile:      "data/sites/workingnomads.json",
			ListingSelector: "div.job-wrapper",
			LoadStrategy:    LoadPartialScroll,
			Variant:         VariantGeneric,
			FieldSelectors: map[Field]string{
				FieldLink:        "h4 a",
				FieldPosition:    "h4 a",
				FieldCompanyName: "div.company a",
				FieldCompanyLogo: "div.job-logo img",
				FieldLocation:    "div.box span.location",
				FieldJobType:     "div.box span.job-type",
				FieldDatePosted:  "div.date",
			},
			DescriptionSelector: "div.job-desktop-description",
		},
		{
			Name:            "uncareers",
			URL:             "https://careers.un.org/jobopening?language=en",
			OutputFile:      "data/sites/uncareers.json",
			ListingSelector: "div.job-card",
			LoadStrategy:    LoadNone,
			Variant:         VariantMetadata,
			FieldSelectors: map[Field]string{
				FieldLink:       "a.job-title",
				FieldPosition:   "a.job-title",
				FieldLocation:   "span.duty-station",
				FieldDeadline:   "span.deadline",
				FieldDatePosted: "span.posted",
			},
			Constants: map[Field]string{
				FieldCompanyName: "United Nations",
				FieldCompanyLogo: "https://careers.un.org/assets/img/un-logo.svg",
				FieldJobType:     "Full-time",
			},
			DescriptionSelector: "div.job-description",
			DetailSelectors: map[Field]string{
				FieldOpenDate:     "[data-field='posting-date']",
				FieldCloseDate:    "[data-field='deadline']",
				FieldContractType: "[data-field='contract-type']",
			},
		},
		{
			Name:                   "weworkremotely",
			URL:                    "https://weworkremotely.com/remote-jobs",
			OutputFile:             "data/sites/weworkremotely.json",
			ListingSelector:        "section.jobs li:not(.view-all)",
			LoadStrategy:           LoadNone,
			Variant:                VariantSectioned,
			SectionSelector:        "section.jobs",
			SectionHeadingSelector: "h2",
			FieldSelectors: map[Field]string{
				FieldLink:        "a[href*='/remote-jobs/']",
				FieldPosition:    "span.title",
				FieldCompanyName: "span.company",
				FieldCompanyLogo: "div.flag-logo",
				FieldLocation:    "span.region",
				FieldDatePosted:  "time",
			},
			DescriptionSelector: "div.listing-container",
		},
	}
}
