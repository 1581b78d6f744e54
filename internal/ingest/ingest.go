// Package ingest discovers new torrents from the tracker's feed and
// registers them in the catalog. Items that arrive with a usable magnet
// or torrent reference are handed to the managing service immediately;
// capacity enforcement is left to the reconcile cycle.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/tagay1n/tt-torrent-seedbox/internal/config"
	"github.com/tagay1n/tt-torrent-seedbox/internal/porla"
	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

// Result summarizes one ingest run.
type Result struct {
	RunID   int64
	New     int
	Updated int
	Skipped int
	Added   int
	Errors  int
}

func (r *Result) summary() string {
	return fmt.Sprintf("new=%d updated=%d skipped=%d added=%d errors=%d",
		r.New, r.Updated, r.Skipped, r.Added, r.Errors)
}

// Ingester pulls the tracker feed and feeds the catalog.
type Ingester struct {
	cfg    *config.Config
	db     *store.DB
	client porla.Client
}

// New creates an Ingester.
func New(cfg *config.Config, db *store.DB, client porla.Client) *Ingester {
	return &Ingester{cfg: cfg, db: db, client: client}
}

// Run fetches and processes the configured feed as one recorded run.
func (ing *Ingester) Run(ctx context.Context) (*Result, error) {
	run, err := ing.db.StartRun(store.RunIngest)
	if err != nil {
		return nil, err
	}
	result := &Result{RunID: run.ID}

	parser := gofeed.NewParser()
	parser.UserAgent = ing.cfg.Tracker.UserAgent
	feed, err := parser.ParseURLWithContext(ing.cfg.Tracker.FeedURL, ctx)
	if err != nil {
		ing.db.FinishRun(run.ID, false, fmt.Sprintf("feed fetch failed: %v", err))
		return result, fmt.Errorf("fetching feed: %w", err)
	}

	ing.ProcessFeed(ctx, feed, result)

	ing.db.SetMeta("last_ingest_at", store.Now())
	summary := result.summary()
	log.Printf("ingest complete: %s", summary)
	if err := ing.db.FinishRun(run.ID, true, summary); err != nil {
		return result, fmt.Errorf("finishing run: %w", err)
	}
	return result, nil
}

// ProcessFeed walks a parsed feed and applies every admissible entry to
// the catalog, updating result counters as it goes.
func (ing *Ingester) ProcessFeed(ctx context.Context, feed *gofeed.Feed, result *Result) {
	for _, item := range feed.Items {
		topicURL := strings.TrimSpace(item.Link)
		if topicURL == "" {
			topicURL = strings.TrimSpace(item.GUID)
		}
		if topicURL == "" {
			result.Skipped++
			continue
		}
		title := strings.TrimSpace(item.Title)
		if !ing.allowed(title, topicURL, item) {
			result.Skipped++
			continue
		}
		ing.processEntry(ctx, topicURL, title, item, result)
	}
}

// allowed applies the configured allow-list filters. Empty filter lists
// admit everything.
func (ing *Ingester) allowed(title, topicURL string, item *gofeed.Item) bool {
	tracker := ing.cfg.Tracker
	if len(tracker.AllowForums) > 0 {
		forumID := parseForumID(topicURL)
		found := false
		for _, allowed := range tracker.AllowForums {
			if forumID == allowed {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(tracker.AllowTags) > 0 {
		found := false
		for _, category := range item.Categories {
			for _, allowed := range tracker.AllowTags {
				if category == allowed {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	if len(tracker.AllowRegexTitle) > 0 && !anyRegexMatch(tracker.AllowRegexTitle, title) {
		return false
	}
	return true
}

func (ing *Ingester) processEntry(ctx context.Context, topicURL, title string, item *gofeed.Item, result *Result) {
	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}
	var discoveredAt *string
	if item.PublishedParsed != nil {
		ts := item.PublishedParsed.UTC().Format(time.RFC3339)
		discoveredAt = &ts
	}

	id, created, err := ing.db.UpsertTorrent(topicURL, titlePtr, discoveredAt)
	if err != nil {
		log.Printf("upserting %s: %v", topicURL, err)
		result.Errors++
		return
	}
	if created {
		result.New++
	} else {
		result.Updated++
	}

	magnetURL, torrentURL := extractLinks(item)
	sizeBytes := parseSize(item.Description)
	var infohash *string
	if magnetURL != nil {
		infohash = extractInfohash(*magnetURL)
	}
	if err := ing.db.UpdateTorrentLinks(id, nil, magnetURL, torrentURL, infohash, sizeBytes); err != nil {
		log.Printf("updating links for %s: %v", topicURL, err)
		result.Errors++
		return
	}

	row, err := ing.db.GetTorrentByID(id)
	if err != nil || row == nil {
		log.Printf("reloading %s: %v", topicURL, err)
		result.Errors++
		return
	}
	if (row.MagnetURL == nil || *row.MagnetURL == "") && (row.TorrentURL == nil || *row.TorrentURL == "") {
		if err := ing.db.SetTorrentError(id, "missing magnet/torrent link"); err != nil {
			log.Printf("flagging %s: %v", topicURL, err)
		}
		result.Errors++
		return
	}

	// Complete items go straight to the service; the next reconcile will
	// evict them again if capacity disagrees.
	if row.PorlaID == nil {
		added, err := ing.client.Add(ctx, row.MagnetURL, row.TorrentURL, ing.cfg.Porla.ManagedTag)
		if err != nil {
			if dbErr := ing.db.SetTorrentError(id, "porla add failed: "+err.Error()); dbErr != nil {
				log.Printf("flagging %s: %v", topicURL, dbErr)
			}
			result.Errors++
			return
		}
		if err := ing.db.MarkAdded(id, added.ID, added.Name); err != nil {
			log.Printf("marking %s added: %v", topicURL, err)
			result.Errors++
			return
		}
		result.Added++
	}
}

// extractLinks pulls magnet and .torrent references from an entry's
// links, enclosures, and as a last resort the raw description.
func extractLinks(item *gofeed.Item) (magnetURL, torrentURL *string) {
	consider := func(href string) {
		switch {
		case strings.HasPrefix(href, "magnet:"):
			magnetURL = &href
		case strings.Contains(href, ".torrent"):
			torrentURL = &href
		}
	}
	for _, href := range item.Links {
		consider(href)
	}
	if item.Link != "" {
		consider(item.Link)
	}
	for _, enc := range item.Enclosures {
		if enc != nil {
			consider(enc.URL)
		}
	}
	if magnetURL == nil {
		if match := magnetHrefRe.FindString(item.Description); match != "" {
			magnetURL = &match
		}
	}
	return magnetURL, torrentURL
}
