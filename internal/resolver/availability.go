// Package resolver holds the orchestration layer: the availability resolver
// that annotates search results with cache status, and the download resolver
// that drives a selected magnet to a final URL.
package resolver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/sync/errgroup"

	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/models"
)

// DefaultConcurrency bounds in-flight per-item cache checks when a provider
// has no bulk endpoint. It doubles as the chunk size: chunks run
// sequentially, requests within a chunk fully in parallel.
const DefaultConcurrency = 10

// AvailabilityResolver turns a set of magnets into hash-keyed availability
// records and keeps them for the availability TTL.
type AvailabilityResolver struct {
	cache       *ttlcache.Cache[string, *models.AvailabilityRecord]
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewAvailabilityResolver creates a resolver with the given per-item
// concurrency ceiling; zero or negative means DefaultConcurrency.
func NewAvailabilityResolver(concurrency int, logger *slog.Logger) *AvailabilityResolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AvailabilityResolver{
		cache:       ttlcache.New(ttlcache.Options[string, *models.AvailabilityRecord]{}.SetDefaultTTL(models.AvailabilityTTL)),
		logger:      logger.With("component", "availability"),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Resolve checks the given magnets against the active provider and returns
// the records of this pass. Magnets without a hash are discarded. Records
// replace any prior ones for the queried hashes.
//
// Bulk providers get exactly one request; its failure aborts the pass and
// surfaces the error. Per-item providers are queried in chunks with bounded
// concurrency, and a failing item is silently dropped rather than aborting
// its siblings.
func (r *AvailabilityResolver) Resolve(ctx context.Context, client debrid.Client, magnets []models.Magnet) (map[string]*models.AvailabilityRecord, error) {
	queued := magnets[:0:0]
	for _, m := range magnets {
		if m.Hash != "" {
			queued = append(queued, m)
		}
	}
	if len(queued) == 0 {
		return map[string]*models.AvailabilityRecord{}, nil
	}

	var (
		records map[string]*models.AvailabilityRecord
		err     error
	)
	switch checker := client.(type) {
	case debrid.BulkChecker:
		hashes := make([]string, len(queued))
		for i, m := range queued {
			hashes[i] = m.Hash
		}
		records, err = checker.CheckHashes(ctx, hashes)
		if err != nil {
			r.logger.Error("bulk availability check failed", "provider", client.Name(), "error", err)
			return map[string]*models.AvailabilityRecord{}, err
		}
	case debrid.ItemChecker:
		records = r.resolveConcurrent(ctx, checker, queued)
	default:
		r.logger.Warn("provider exposes no availability check", "provider", client.Name())
		return map[string]*models.AvailabilityRecord{}, nil
	}

	expires := r.now().Add(models.AvailabilityTTL)
	for hash, record := range records {
		record.ExpiresAt = expires
		r.cache.Set(hash, record, ttlcache.DefaultTTL)
	}
	// A queried hash that came back uncached evicts any stale record.
	for _, m := range queued {
		if _, ok := records[m.Hash]; !ok {
			r.cache.Delete(m.Hash)
		}
	}

	r.logger.Info("availability pass complete", "provider", client.Name(), "queried", len(queued), "cached", len(records))
	return records, nil
}

// resolveConcurrent fans out one request per magnet, chunked and bounded to
// the configured ceiling. Completion order is irrelevant: results merge into
// the map by hash.
func (r *AvailabilityResolver) resolveConcurrent(ctx context.Context, checker debrid.ItemChecker, magnets []models.Magnet) map[string]*models.AvailabilityRecord {
	var mu sync.Mutex
	records := make(map[string]*models.AvailabilityRecord)

	for start := 0; start < len(magnets); start += r.concurrency {
		end := start + r.concurrency
		if end > len(magnets) {
			end = len(magnets)
		}

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for _, magnet := range magnets[start:end] {
			g.Go(func() error {
				record, err := checker.CheckMagnet(ctx, magnet)
				if err != nil {
					// Dropped items read as "none"; the pass goes on.
					r.logger.Debug("item availability check failed", "hash", magnet.Hash, "error", err)
					return nil
				}
				mu.Lock()
				records[magnet.Hash] = record
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	return records
}

// Record returns the cached record for a hash, or nil when absent or
// expired.
func (r *AvailabilityResolver) Record(hash string) *models.AvailabilityRecord {
	record, ok := r.cache.Get(hash)
	if !ok {
		return nil
	}
	return record
}

// Status computes the display status for a hash on demand. Expired records
// are indistinguishable from never-queried ones.
func (r *AvailabilityResolver) Status(hash string) models.Status {
	return r.Record(hash).StatusAt(r.now())
}
