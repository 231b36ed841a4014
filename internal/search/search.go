// Package search answers "which stored images are within D bits of this one"
// with an exact linear scan over the fingerprint store.
package search

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

var tracer = otel.Tracer("github.com/kozaktomas/photo-finder/internal/search")

// Result is a matching record and its distance from the query.
type Result struct {
	database.ImageRecord
	Distance int `json:"distance"`
}

// Engine scans a store for fingerprints near a query.
type Engine struct {
	store            database.RecordReader
	codec            *fingerprint.Codec
	defaultThreshold uint
	logger           *slog.Logger
}

// NewEngine creates an engine whose default threshold is cfg.HammingDistance.
// Zero is a valid default and means exact matches only.
func NewEngine(store database.RecordReader, codec *fingerprint.Codec, cfg config.SearchConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:            store,
		codec:            codec,
		defaultThreshold: clamp(cfg.HammingDistance),
		logger:           logger,
	}
}

// DefaultThreshold returns the threshold used when a caller supplies none.
func (e *Engine) DefaultThreshold() uint {
	return e.defaultThreshold
}

// Search returns every record whose fingerprint is within threshold bits of q.
// Thresholds above the fingerprint length match everything. Results are
// sorted by distance, then creation time, then id.
func (e *Engine) Search(ctx context.Context, q fingerprint.Fingerprint, threshold uint) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()

	threshold = clamp(threshold)
	span.SetAttributes(
		attribute.String("query", q.String()),
		attribute.Int("threshold", int(threshold)),
	)

	results := []Result{}
	scanned := 0
	for bucket, err := range e.store.IterFingerprints(ctx) {
		if err != nil {
			err = database.Wrap("search", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		scanned++
		d := bucket.Fingerprint.Distance(q)
		if uint(d) > threshold {
			continue
		}
		for _, rec := range bucket.Records {
			results = append(results, Result{ImageRecord: rec, Distance: d})
		}
	}

	slices.SortFunc(results, func(a, b Result) int {
		return cmp.Or(
			cmp.Compare(a.Distance, b.Distance),
			cmp.Compare(a.CreatedAt, b.CreatedAt),
			cmp.Compare(a.ID, b.ID),
		)
	})

	span.SetAttributes(attribute.Int("buckets_scanned", scanned), attribute.Int("results", len(results)))
	e.logger.DebugContext(ctx, "search finished",
		"query", q.String(), "threshold", threshold, "buckets", scanned, "results", len(results))
	return results, nil
}

// SearchImage decodes a query image and searches for it. A nil threshold
// means the configured default. Decoding errors are returned before the
// store is touched.
func (e *Engine) SearchImage(ctx context.Context, enc fingerprint.Encoding, data []byte, threshold *uint) ([]Result, error) {
	decoded, err := e.codec.Decode(ctx, enc, data)
	if err != nil {
		return nil, err
	}

	t := e.defaultThreshold
	if threshold != nil {
		t = *threshold
	}
	return e.Search(ctx, e.codec.Fingerprint(decoded), t)
}

func clamp(threshold uint) uint {
	return min(threshold, fingerprint.Bits)
}
