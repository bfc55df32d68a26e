// Package export mirrors finished listing files to blob storage and
// announces each upload on a Pub/Sub topic so downstream ingestion can pick
// it up.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/clock"
)

// ContentType is recorded on every uploaded listing file.
const ContentType = "application/json"

// BlobStore persists an exported file and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Publisher announces a payload on a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification describes one exported file.
type Notification struct {
	RunID      string    `json:"run_id"`
	Pass       string    `json:"pass"`
	URI        string    `json:"uri"`
	Count      int       `json:"count"`
	ExportedAt time.Time `json:"exported_at"`
}

// Attributes exposes routing keys as message attributes.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"run_id": n.RunID, "pass": n.Pass}
}

// Options configures an Exporter.
type Options struct {
	Prefix string
	Topic  string
}

// Exporter uploads pass output. A nil *Exporter is a no-op.
type Exporter struct {
	store     BlobStore
	publisher Publisher
	opts      Options
	clock     clock.Clock
	logger    *zap.Logger
}

// New constructs an Exporter. publisher may be nil, in which case uploads are
// not announced.
func New(store BlobStore, publisher Publisher, opts Options, clk clock.Clock, logger *zap.Logger) *Exporter {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, publisher: publisher, opts: opts, clock: clk, logger: logger}
}

// ObjectPath lays out exports by pass, day and run.
func ObjectPath(prefix, pass, runID, file string, at time.Time) string {
	return path.Join(prefix, pass, at.UTC().Format("2006/01/02"), runID, filepath.Base(file))
}

// Export uploads the file at localPath and publishes a Notification for it.
func (e *Exporter) Export(ctx context.Context, runID, pass, localPath string, count int) (Notification, error) {
	if e == nil {
		return Notification{}, nil
	}
	now := e.clock.Now()
	f, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return Notification{}, fmt.Errorf("open export source: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			e.logger.Debug("close export source failed", zap.Error(cerr))
		}
	}()

	object := ObjectPath(e.opts.Prefix, pass, runID, localPath, now)
	uri, err := e.store.PutObject(ctx, object, ContentType, f)
	if err != nil {
		return Notification{}, fmt.Errorf("upload %s: %w", object, err)
	}
	n := Notification{RunID: runID, Pass: pass, URI: uri, Count: count, ExportedAt: now}
	e.logger.Info("listing file exported", zap.String("uri", uri), zap.Int("count", count))

	if e.publisher == nil || e.opts.Topic == "" {
		return n, nil
	}
	id, err := e.publisher.Publish(ctx, e.opts.Topic, n)
	if err != nil {
		return n, fmt.Errorf("announce export: %w", err)
	}
	e.logger.Debug("export announced", zap.String("topic", e.opts.Topic), zap.String("message_id", id))
	return n, nil
}
