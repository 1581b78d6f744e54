// Package stats refreshes per-torrent health metrics from the managing
// service with bounded concurrency and request pacing.
package stats

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tagay1n/tt-torrent-seedbox/internal/config"
	"github.com/tagay1n/tt-torrent-seedbox/internal/porla"
	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

// Result summarizes one stats refresh run.
type Result struct {
	RunID     int64
	Tracked   int
	Refreshed int
	Missing   int
	Errors    int
}

func (r *Result) summary() string {
	return fmt.Sprintf("tracked=%d refreshed=%d missing=%d errors=%d",
		r.Tracked, r.Refreshed, r.Missing, r.Errors)
}

// Refresher pulls lifecycle state and tracker scrape counts for every
// tracked torrent.
type Refresher struct {
	cfg    *config.Config
	db     *store.DB
	client porla.Client
}

// New creates a Refresher.
func New(cfg *config.Config, db *store.DB, client porla.Client) *Refresher {
	return &Refresher{cfg: cfg, db: db, client: client}
}

// Run refreshes all tracked torrents. Per-item failures are recorded on
// the item and counted; they never abort the run. Only a store failure
// or context cancellation does.
func (r *Refresher) Run(ctx context.Context) (*Result, error) {
	run, err := r.db.StartRun(store.RunStats)
	if err != nil {
		return nil, err
	}
	result := &Result{RunID: run.ID}

	items, err := r.db.ListTracked()
	if err != nil {
		r.db.FinishRun(run.ID, false, fmt.Sprintf("reading catalog: %v", err))
		return result, fmt.Errorf("reading catalog: %w", err)
	}
	result.Tracked = len(items)

	concurrency := r.cfg.Stats.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	rps := r.cfg.Stats.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), concurrency)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range items {
		item := &items[i]
		g.Go(func() error {
			outcome, err := r.refreshOne(gctx, limiter, item)
			if err != nil {
				return err
			}
			mu.Lock()
			switch outcome {
			case outcomeRefreshed:
				result.Refreshed++
			case outcomeMissing:
				result.Missing++
			case outcomeError:
				result.Errors++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.db.FinishRun(run.ID, false, fmt.Sprintf("aborted: %v", err))
		return result, err
	}

	r.db.SetMeta("last_stats_at", store.Now())
	summary := result.summary()
	log.Printf("stats refresh complete: %s", summary)
	if err := r.db.FinishRun(run.ID, true, summary); err != nil {
		return result, fmt.Errorf("finishing run: %w", err)
	}
	return result, nil
}

type outcome int

const (
	outcomeRefreshed outcome = iota
	outcomeMissing
	outcomeError
)

// refreshOne fetches one torrent's state and tracker counts. A non-nil
// error is returned only for context cancellation; service failures are
// folded into the outcome.
func (r *Refresher) refreshOne(ctx context.Context, limiter *rate.Limiter, item *store.Torrent) (outcome, error) {
	if err := limiter.Wait(ctx); err != nil {
		return outcomeError, err
	}
	remote, err := r.client.Get(ctx, *item.PorlaID)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeError, ctx.Err()
		}
		if porla.IsNotFound(err) {
			// The torrent vanished from the service outside our control.
			// Flag it so the next reconcile re-adds or drops it.
			if dbErr := r.db.MarkTorrentMissing(item.ID, "not found on service"); dbErr != nil {
				log.Printf("marking %s missing: %v", item.TopicURL, dbErr)
			}
			return outcomeMissing, nil
		}
		if dbErr := r.db.SetTorrentError(item.ID, "stats fetch failed: "+err.Error()); dbErr != nil {
			log.Printf("recording error for %s: %v", item.TopicURL, dbErr)
		}
		return outcomeError, nil
	}

	seeders, leechers, downloaded := r.refreshTrackers(ctx, limiter, item)

	status := lifecycleStatus(remote.State)
	if err := r.db.UpdateTorrentMetrics(item.ID, remote.Name, status, remote.Infohash, remote.SizeBytes, seeders, leechers, downloaded); err != nil {
		log.Printf("updating metrics for %s: %v", item.TopicURL, err)
		return outcomeError, nil
	}
	return outcomeRefreshed, nil
}

// refreshTrackers records per-endpoint scrape outcomes and aggregates
// the counts. Multiple endpoints report overlapping swarms, so the
// maximum across successful scrapes is taken per count. All nil means
// no endpoint produced numbers; last-known values in the catalog are
// then left untouched.
func (r *Refresher) refreshTrackers(ctx context.Context, limiter *rate.Limiter, item *store.Torrent) (seeders, leechers, downloaded *int64) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, nil, nil
	}
	trackers, err := r.client.Trackers(ctx, *item.PorlaID)
	if err != nil {
		log.Printf("tracker scrape for %s: %v", item.TopicURL, err)
		return nil, nil, nil
	}

	for _, tr := range trackers {
		if tr.TrackerURL == "" {
			continue
		}
		switch tr.Status {
		case store.ScrapeUnsupported:
			if err := r.db.UpsertScrapeUnsupported(item.ID, tr.TrackerURL); err != nil {
				log.Printf("recording scrape for %s: %v", item.TopicURL, err)
			}
		case store.ScrapeError:
			detail := "scrape failed"
			if tr.LastError != nil {
				detail = *tr.LastError
			}
			if err := r.db.UpsertScrapeError(item.ID, tr.TrackerURL, detail); err != nil {
				log.Printf("recording scrape for %s: %v", item.TopicURL, err)
			}
		default:
			if err := r.db.UpsertScrapeOK(item.ID, tr.TrackerURL, tr.Complete, tr.Incomplete, tr.Downloaded); err != nil {
				log.Printf("recording scrape for %s: %v", item.TopicURL, err)
			}
			seeders = maxCount(seeders, tr.Complete)
			leechers = maxCount(leechers, tr.Incomplete)
			downloaded = maxCount(downloaded, tr.Downloaded)
		}
	}
	return seeders, leechers, downloaded
}

// lifecycleStatus maps a raw service state string onto the catalog's
// status vocabulary.
func lifecycleStatus(state string) string {
	lowered := strings.ToLower(state)
	switch {
	case strings.Contains(lowered, "error"):
		return store.StatusError
	case strings.Contains(lowered, "seed") || strings.Contains(lowered, "upload") || strings.Contains(lowered, "finished"):
		return store.StatusSeeding
	case strings.Contains(lowered, "download") || strings.Contains(lowered, "check") ||
		strings.Contains(lowered, "alloc") || strings.Contains(lowered, "metadata"):
		return store.StatusDownloading
	case strings.Contains(lowered, "queue"):
		return store.StatusQueued
	case strings.Contains(lowered, "stall") || strings.Contains(lowered, "pause"):
		return store.StatusStalled
	default:
		return store.StatusSeeding
	}
}

func maxCount(current, candidate *int64) *int64 {
	if candidate == nil {
		return current
	}
	if current == nil || *candidate > *current {
		v := *candidate
		return &v
	}
	return current
}
