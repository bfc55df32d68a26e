package export

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/clock"
	"github.com/JakeFAU/job-listing-crawler/internal/config"
	gcppublisher "github.com/JakeFAU/job-listing-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/job-listing-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/job-listing-crawler/internal/storage/local"
)

// Open builds the Exporter selected by cfg together with a function that
// releases its clients. With the none backend it returns a nil Exporter.
func Open(ctx context.Context, cfg config.ExportConfig, logger *zap.Logger) (*Exporter, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var store BlobStore
	switch cfg.Backend {
	case config.ExportGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, cleanup, fmt.Errorf("gcs client init failed: %w", err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		store, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		logger.Debug("GCS export backend", zap.String("bucket", cfg.GCSBucket))
	case config.ExportLocal:
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, cleanup, fmt.Errorf("local blob store init failed: %w", err)
		}
		store = local
		logger.Debug("local export backend", zap.String("path", cfg.LocalDir))
	default:
		logger.Debug("export disabled")
		return nil, cleanup, nil
	}

	var publisher Publisher
	if cfg.PubSubTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSubProject)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub := gcppublisher.New(client)
		closers = append(closers, func() {
			pub.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		publisher = pub
	}

	return New(store, publisher, Options{Prefix: cfg.Prefix, Topic: cfg.PubSubTopic}, clock.System{}, logger), cleanup, nil
}
