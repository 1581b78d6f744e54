// Package reconcile diffs the policy keep-set against the managed state
// observed from Porla and applies the minimal add/remove operations,
// recording every decision in the audit trail.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tagay1n/tt-torrent-seedbox/internal/config"
	"github.com/tagay1n/tt-torrent-seedbox/internal/policy"
	"github.com/tagay1n/tt-torrent-seedbox/internal/porla"
	"github.com/tagay1n/tt-torrent-seedbox/internal/rank"
	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

// Reason codes recorded with reconcile actions.
const (
	ReasonNotManaged        = "not-managed"
	ReasonExternalError     = "external-error"
	ReasonMissingReference  = "missing-reference"
	ReasonNotInKeepSet      = "not-in-keep-set"
	ReasonGuardrailDownload = "guardrail-downloading"
	ReasonGuardrailPinned   = "guardrail-pinned"
	ReasonCapExceeded       = "cap-exceeded"
	ReasonUnknownSize       = "unknown-size"
	ReasonManaged           = "managed"
)

// Result summarizes one reconcile cycle.
type Result struct {
	RunID          int64
	Kept           int
	Added          int
	Removed        int
	Skipped        int
	Errors         int
	KeepBytes      int64
	PinnedOverflow bool
}

func (r *Result) summary() string {
	return fmt.Sprintf("kept=%d added=%d removed=%d skipped=%d errors=%d keep_bytes=%d pinned_overflow=%t",
		r.Kept, r.Added, r.Removed, r.Skipped, r.Errors, r.KeepBytes, r.PinnedOverflow)
}

// Reconciler drives the reconcile cycle.
type Reconciler struct {
	cfg    *config.Config
	db     *store.DB
	client porla.Client
	now    func() time.Time
}

// New creates a Reconciler.
func New(cfg *config.Config, db *store.DB, client porla.Client) *Reconciler {
	return &Reconciler{cfg: cfg, db: db, client: client, now: time.Now}
}

// Run executes one reconcile cycle. A still-running cycle of the same
// kind yields store.ErrRunInProgress before any external call. An
// unreachable service fails the run before any mutation. Item-level
// failures are recorded and skipped; they never abort the cycle.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	run, err := r.db.StartRun(store.RunReconcile)
	if err != nil {
		return nil, err
	}
	result := &Result{RunID: run.ID}

	// Health gate: do not reconcile against an assumed-down service.
	if err := r.client.Health(ctx); err != nil {
		r.db.FinishRun(run.ID, false, fmt.Sprintf("health check failed: %v", err))
		return result, fmt.Errorf("porla unreachable: %w", err)
	}

	pinned, err := policy.LoadPinned(r.cfg.Policy.PinnedListPath)
	if err != nil {
		r.db.FinishRun(run.ID, false, fmt.Sprintf("loading pinned list: %v", err))
		return result, fmt.Errorf("loading pinned list: %w", err)
	}

	items, err := r.db.ListTorrents()
	if err != nil {
		r.db.FinishRun(run.ID, false, fmt.Sprintf("reading catalog: %v", err))
		return result, fmt.Errorf("reading catalog: %w", err)
	}

	now := r.now()
	for i := range items {
		if err := r.db.UpdateScore(items[i].ID, rank.Score(&items[i], now)); err != nil {
			log.Printf("updating score for %s: %v", items[i].TopicURL, err)
		}
	}

	sel := policy.Select(items, pinned, policy.Limits{
		MaxCount: r.cfg.Policy.MaxTorrents,
		MaxBytes: r.cfg.Policy.MaxTotalBytes,
	}, now)
	result.KeepBytes = sel.KeepBytes
	result.PinnedOverflow = sel.PinnedOverflow
	if sel.PinnedOverflow {
		log.Printf("warning: pinned set alone exceeds capacity limits")
	}

	managed, err := r.client.List(ctx, r.cfg.Porla.ManagedTag)
	if err != nil {
		r.db.FinishRun(run.ID, false, fmt.Sprintf("listing managed torrents: %v", err))
		return result, fmt.Errorf("listing managed torrents: %w", err)
	}

	byID := make(map[string]*porla.Torrent, len(managed))
	byHash := make(map[string]*porla.Torrent, len(managed))
	for i := range managed {
		byID[managed[i].ID] = &managed[i]
		if managed[i].Infohash != nil {
			byHash[strings.ToLower(*managed[i].Infohash)] = &managed[i]
		}
	}

	keptManaged := make(map[string]struct{})
	for i := range sel.Keep {
		item := &sel.Keep[i]
		entry := matchManaged(item, byID, byHash)
		if entry != nil {
			keptManaged[entry.ID] = struct{}{}
		}
		r.reconcileKept(ctx, run.ID, item, entry, result)
	}

	catalogByID := make(map[string]*store.Torrent)
	catalogByHash := make(map[string]*store.Torrent)
	for i := range items {
		if items[i].PorlaID != nil {
			catalogByID[*items[i].PorlaID] = &items[i]
		}
		if items[i].Infohash != nil {
			catalogByHash[strings.ToLower(*items[i].Infohash)] = &items[i]
		}
	}

	for i := range managed {
		entry := &managed[i]
		if _, kept := keptManaged[entry.ID]; kept {
			continue
		}
		r.reconcileEvict(ctx, run.ID, entry, catalogByID, catalogByHash, pinned, result)
	}

	// Items kept out by capacity that are not managed need no operation,
	// but the decision is still part of the audit trail.
	for i := range sel.ExcludedByCap {
		item := &sel.ExcludedByCap[i]
		if matchManaged(item, byID, byHash) == nil {
			r.record(run.ID, &item.ID, store.ActionSkipCap, ReasonCapExceeded, true, nil)
			result.Skipped++
		}
	}
	for i := range sel.ExcludedUnknownSize {
		item := &sel.ExcludedUnknownSize[i]
		if matchManaged(item, byID, byHash) == nil {
			r.record(run.ID, &item.ID, store.ActionSkipCap, ReasonUnknownSize, true, nil)
			result.Skipped++
		}
	}

	r.db.SetMeta("last_reconcile_at", store.Now())
	summary := result.summary()
	log.Printf("reconcile complete: %s", summary)
	if err := r.db.FinishRun(run.ID, true, summary); err != nil {
		return result, fmt.Errorf("finishing run: %w", err)
	}
	return result, nil
}

// reconcileKept applies the keep-side of the decision table to one item.
func (r *Reconciler) reconcileKept(ctx context.Context, runID int64, item *store.Torrent, entry *porla.Torrent, result *Result) {
	switch {
	case entry == nil:
		r.addTorrent(ctx, runID, item, ReasonNotManaged, result)
	case strings.Contains(strings.ToLower(entry.State), "error"):
		// Present but broken on the service side: re-add, replacing the
		// external ID.
		r.addTorrent(ctx, runID, item, ReasonExternalError, result)
	default:
		r.record(runID, &item.ID, store.ActionNoop, ReasonManaged, true, nil)
		result.Kept++
	}
}

// addTorrent submits one item through the port. Failures record an
// unsuccessful action and leave the item's status unchanged; the item is
// not retried within this cycle.
func (r *Reconciler) addTorrent(ctx context.Context, runID int64, item *store.Torrent, reason string, result *Result) {
	if (item.MagnetURL == nil || *item.MagnetURL == "") && (item.TorrentURL == nil || *item.TorrentURL == "") {
		detail := "no magnet or torrent reference"
		r.record(runID, &item.ID, store.ActionAdd, ReasonMissingReference, false, &detail)
		result.Errors++
		return
	}

	added, err := r.client.Add(ctx, item.MagnetURL, item.TorrentURL, r.cfg.Porla.ManagedTag)
	if err != nil {
		detail := err.Error()
		r.record(runID, &item.ID, store.ActionAdd, reason, false, &detail)
		r.db.SetTorrentError(item.ID, "porla add failed: "+detail)
		result.Errors++
		return
	}

	if err := r.db.MarkAdded(item.ID, added.ID, added.Name); err != nil {
		detail := err.Error()
		r.record(runID, &item.ID, store.ActionAdd, reason, false, &detail)
		result.Errors++
		return
	}
	r.record(runID, &item.ID, store.ActionAdd, reason, true, nil)
	result.Added++
}

// reconcileEvict applies the evict-side of the decision table to one
// managed entry that is not in the keep-set.
func (r *Reconciler) reconcileEvict(ctx context.Context, runID int64, entry *porla.Torrent, catalogByID, catalogByHash map[string]*store.Torrent, pinned policy.PinnedSet, result *Result) {
	var item *store.Torrent
	if entry.Infohash != nil {
		item = catalogByHash[strings.ToLower(*entry.Infohash)]
	}
	if item == nil {
		item = catalogByID[entry.ID]
	}
	var itemID *int64
	if item != nil {
		itemID = &item.ID
	}

	if porla.IsActiveDownload(entry.State) {
		r.record(runID, itemID, store.ActionSkipGuardrail, ReasonGuardrailDownload, true, nil)
		result.Skipped++
		return
	}
	if pinnedEntry(entry, item, pinned) {
		r.record(runID, itemID, store.ActionSkipGuardrail, ReasonGuardrailPinned, true, nil)
		result.Skipped++
		return
	}

	// With allow_delete_data off the torrent is unloaded from the service
	// but its data stays on disk for manual handling.
	if err := r.client.Remove(ctx, entry.ID, r.cfg.Policy.AllowDeleteData); err != nil {
		detail := err.Error()
		r.record(runID, itemID, store.ActionRemove, ReasonNotInKeepSet, false, &detail)
		if item != nil {
			r.db.SetTorrentError(item.ID, "porla remove failed: "+detail)
		}
		result.Errors++
		return
	}

	if item != nil {
		if err := r.db.MarkRemoved(item.ID); err != nil {
			log.Printf("marking %s removed: %v", item.TopicURL, err)
		}
	}
	r.record(runID, itemID, store.ActionRemove, ReasonNotInKeepSet, true, nil)
	result.Removed++
}

// pinnedEntry checks the pinned set against every identity available for
// a managed entry: the catalog row's identities plus the service's own
// ID and infohash.
func pinnedEntry(entry *porla.Torrent, item *store.Torrent, pinned policy.PinnedSet) bool {
	if len(pinned) == 0 {
		return false
	}
	if item != nil && pinned.Contains(item) {
		return true
	}
	if _, ok := pinned[entry.ID]; ok {
		return true
	}
	if entry.Infohash != nil {
		if _, ok := pinned[*entry.Infohash]; ok {
			return true
		}
	}
	return false
}

func matchManaged(item *store.Torrent, byID map[string]*porla.Torrent, byHash map[string]*porla.Torrent) *porla.Torrent {
	if item.Infohash != nil {
		if entry, ok := byHash[strings.ToLower(*item.Infohash)]; ok {
			return entry
		}
	}
	if item.PorlaID != nil {
		if entry, ok := byID[*item.PorlaID]; ok {
			return entry
		}
	}
	return nil
}

func (r *Reconciler) record(runID int64, torrentID *int64, action, reason string, ok bool, detail *string) {
	if err := r.db.RecordAction(&runID, torrentID, action, reason, ok, detail); err != nil {
		log.Printf("recording action %s/%s: %v", action, reason, err)
	}
}
