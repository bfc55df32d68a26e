// Package main runs the listing pass of the job-listing pipeline.
//
// Architecture overview:
//   - Registry: internal/sites holds one declarative entry per job board (URL, listing container selector,
//     per-field selectors, load strategy, extraction variant). A crawler.yaml `sites:` list replaces the built-in set.
//   - Browser: internal/browser launches one Chrome through chromedp. Each site gets a fresh tab with the request
//     filter installed through the Fetch domain, so images, fonts, media and known trackers never load.
//   - Interaction: internal/interact brings more listings into the DOM (full scroll, partial scroll, load-more
//     clicking) and waits for the network to go quiet.
//   - Extraction: internal/extract parses a static HTML snapshot with goquery through one of three variants
//     (generic, metadata, sectioned) and drops records without a usable link or position.
//   - Orchestration: internal/orchestrator visits sites strictly one at a time with a politeness pause between
//     them, retries a failed site twice after a fixed delay, and writes per-site files plus the combined file.
//
// Operational notes:
//   - A site failure never aborts the run. Browser launch, configuration and output write failures exit 1.
//   - SIGINT/SIGTERM cancel the run; a canceled run does not overwrite the combined file.
//   - Every log entry carries the run_id and pass fields. Metrics are pushed to a Pushgateway when
//     metrics.pushgateway_url is set, and the output is exported when export.backend is local or gcs.
//
// Quick checklist:
//   - Configure env vars: CRAWLER_BROWSER_CHROME_PATH, CRAWLER_DEBUG, CRAWLER_ORCHESTRATOR_OUTPUT_PATH,
//     CRAWLER_EXPORT_* and CRAWLER_METRICS_*. A .env file in the working directory is loaded first.
//   - Run locally: go run ./cmd/listings, then go run ./cmd/enrich against the same output path.
package main
