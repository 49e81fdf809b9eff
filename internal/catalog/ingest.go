package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/star/orrery/internal/metrics"
)

// Report summarises one ingest run.
type Report struct {
	Source    string
	Offline   bool
	FetchedAt time.Time
	Bodies    int
	Added     int
	Warnings  []Warning
}

// Ingester fetches the body service, merges the result into the curated
// catalog file and writes it back.
type Ingester struct {
	fetcher *Fetcher
	cache   *Cache // optional
	path    string
	logger  *slog.Logger
}

// NewIngester creates an Ingester writing to the catalog at path. cache may
// be nil, in which case offline runs are impossible.
func NewIngester(fetcher *Fetcher, cache *Cache, path string, logger *slog.Logger) *Ingester {
	return &Ingester{
		fetcher: fetcher,
		cache:   cache,
		path:    path,
		logger:  logger,
	}
}

// Run performs one ingest. With offline set, the newest cached payload is used
// instead of the network.
func (in *Ingester) Run(ctx context.Context, offline bool) (*Report, error) {
	start := time.Now()
	report, err := in.run(ctx, offline)
	metrics.RecordIngest(time.Since(start), err)
	return report, err
}

func (in *Ingester) run(ctx context.Context, offline bool) (*Report, error) {
	raw, fetchedAt, source, err := in.payload(ctx, offline)
	if err != nil {
		return nil, err
	}

	fetched, err := Parse(bytes.NewReader(raw), in.logger)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Source:    source,
		Offline:   offline,
		FetchedAt: fetchedAt,
	}

	var existing []Body
	cur, err := LoadFile(in.path)
	switch {
	case err == nil:
		existing = cur.Bodies
	case errors.Is(err, fs.ErrNotExist):
		in.logger.Warn(msgNoCatalog, "path", in.path)
		report.Warnings = append(report.Warnings, Warning{Message: msgNoCatalog})
	default:
		// Never overwrite a curated file we could not read.
		return nil, err
	}

	merged, added := Merge(existing, fetched)
	for _, w := range Warnings(merged) {
		in.logger.Warn("catalog body incomplete", "body", w.Identifier, "warning", w.String())
		report.Warnings = append(report.Warnings, w)
	}

	if err := WriteFile(in.path, merged); err != nil {
		return nil, err
	}

	report.Bodies = len(merged)
	report.Added = added
	metrics.SetCatalogBodies(len(merged))

	in.logger.Info("catalog ingested",
		"source", source,
		"offline", offline,
		"fetched", len(fetched),
		"bodies", len(merged),
		"added", added,
		"warnings", len(report.Warnings),
	)
	return report, nil
}

func (in *Ingester) payload(ctx context.Context, offline bool) ([]byte, time.Time, string, error) {
	if offline {
		if in.cache == nil {
			return nil, time.Time{}, "", fmt.Errorf("offline ingest requires a payload cache")
		}
		data, ts, err := in.cache.LoadLatest()
		if err != nil {
			return nil, time.Time{}, "", fmt.Errorf("loading cached payload: %w", err)
		}
		return data, ts, "cache", nil
	}

	data, err := in.fetcher.Fetch(ctx)
	if err != nil {
		return nil, time.Time{}, "", err
	}
	now := time.Now()

	if in.cache != nil {
		if err := in.cache.Write(data, now); err != nil {
			in.logger.Warn("failed to cache body payload", "error", err)
		}
	}
	return data, now, in.fetcher.SourceURL(), nil
}
