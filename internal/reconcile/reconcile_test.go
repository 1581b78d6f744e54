package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/tagay1n/tt-torrent-seedbox/internal/config"
	"github.com/tagay1n/tt-torrent-seedbox/internal/porla"
	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

type removeCall struct {
	id         string
	deleteData bool
}

// fakeClient is an in-memory porla.Client for exercising reconcile
// decisions without a live service.
type fakeClient struct {
	healthErr error
	listErr   error
	addErr    error
	removeErr error
	managed   []porla.Torrent

	adds    []map[string]any
	removes []removeCall
	nextID  int
}

func (f *fakeClient) Health(ctx context.Context) error { return f.healthErr }

func (f *fakeClient) Add(ctx context.Context, magnetURL, torrentURL *string, tag string) (*porla.Torrent, error) {
	call := map[string]any{"tag": tag}
	if magnetURL != nil {
		call["magnet"] = *magnetURL
	}
	if torrentURL != nil {
		call["torrent"] = *torrentURL
	}
	f.adds = append(f.adds, call)
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.nextID++
	return &porla.Torrent{ID: fmt.Sprintf("p%d", f.nextID), Name: "added", State: "queued"}, nil
}

func (f *fakeClient) List(ctx context.Context, tag string) ([]porla.Torrent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.managed, nil
}

func (f *fakeClient) Get(ctx context.Context, torrentID string) (*porla.Torrent, error) {
	return nil, &porla.Error{Op: "get", StatusCode: 404, Err: errors.New("not found")}
}

func (f *fakeClient) Trackers(ctx context.Context, torrentID string) ([]porla.TrackerStat, error) {
	return nil, nil
}

func (f *fakeClient) Remove(ctx context.Context, torrentID string, deleteData bool) error {
	f.removes = append(f.removes, removeCall{id: torrentID, deleteData: deleteData})
	return f.removeErr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Porla.ManagedTag = "tt-archive"
	cfg.Policy.MaxTotalBytes = 1_000_000
	cfg.Policy.MaxTorrents = 100
	cfg.Policy.AllowDeleteData = false
	return cfg
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }
func i64(n int64) *int64   { return &n }

func seed(t *testing.T, db *store.DB, topic string, magnet *string, size *int64) int64 {
	t.Helper()
	id, _, err := db.UpsertTorrent(topic, ptr("title "+topic), nil)
	if err != nil {
		t.Fatalf("seeding %s: %v", topic, err)
	}
	if err := db.UpdateTorrentLinks(id, nil, magnet, nil, nil, size); err != nil {
		t.Fatalf("linking %s: %v", topic, err)
	}
	return id
}

func TestRunAddsKeptItems(t *testing.T) {
	db := openTestDB(t)
	client := &fakeClient{}
	id := seed(t, db, "https://tr.example/t1", ptr("magnet:?xt=urn:btih:aa"), i64(100))

	result, err := New(testConfig(t), db, client).Run(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Added != 1 || len(client.adds) != 1 {
		t.Fatalf("expected one add, got result=%+v adds=%d", result, len(client.adds))
	}
	if client.adds[0]["tag"] != "tt-archive" {
		t.Errorf("add used tag %v", client.adds[0]["tag"])
	}

	row, err := db.GetTorrentByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if row.PorlaID == nil || *row.PorlaID != "p1" {
		t.Errorf("expected porla id recorded, got %+v", row.PorlaID)
	}
	if row.Status != store.StatusQueued {
		t.Errorf("expected status queued, got %q", row.Status)
	}
}

func TestRunRemovesExcessWithoutDataDeletion(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(t)
	cfg.Policy.MaxTotalBytes = 150

	// Two managed items but capacity for one. The safer (more seeders)
	// item must go; data deletion is off so deleteData must be false.
	keepID := seed(t, db, "https://tr.example/rare", nil, i64(100))
	evictID := seed(t, db, "https://tr.example/safe", nil, i64(100))
	if err := db.MarkAdded(keepID, "p-rare", "rare"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkAdded(evictID, "p-safe", "safe"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateTorrentMetrics(keepID, "rare", store.StatusSeeding, nil, nil, i64(1), i64(3), nil); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateTorrentMetrics(evictID, "safe", store.StatusSeeding, nil, nil, i64(40), i64(0), nil); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{managed: []porla.Torrent{
		{ID: "p-rare", Name: "rare", State: "seeding"},
		{ID: "p-safe", Name: "safe", State: "seeding"},
	}}

	result, err := New(cfg, db, client).Run(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Removed != 1 || result.Kept != 1 {
		t.Fatalf("expected 1 removed 1 kept, got %+v", result)
	}
	if len(client.removes) != 1 || client.removes[0].id != "p-safe" {
		t.Fatalf("expected p-safe removed, got %+v", client.removes)
	}
	if client.removes[0].deleteData {
		t.Error("data deletion requested despite allow_delete_data=false")
	}

	row, err := db.GetTorrentByID(evictID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != store.StatusRemoved || row.PorlaID != nil {
		t.Errorf("expected evicted row cleared, got status=%q porla=%v", row.Status, row.PorlaID)
	}
}

func TestRunNeverRemovesActiveDownload(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(t)
	cfg.Policy.MaxTorrents = 0
	cfg.Policy.MaxTotalBytes = 1

	id := seed(t, db, "https://tr.example/busy", nil, i64(100))
	if err := db.MarkAdded(id, "p-busy", "busy"); err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{managed: []porla.Torrent{
		{ID: "p-busy", Name: "busy", State: "downloading"},
	}}

	result, err := New(cfg, db, client).Run(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(client.removes) != 0 {
		t.Fatalf("active download was removed: %+v", client.removes)
	}
	if result.Skipped == 0 {
		t.Error("expected a guardrail skip")
	}

	actions, err := db.ActionsForRun(result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range actions {
		if a.Action == store.ActionSkipGuardrail && a.Reason == ReasonGuardrailDownload {
			found = true
		}
	}
	if !found {
		t.Errorf("guardrail skip not recorded, actions: %+v", actions)
	}
}

func TestRunNeverRemovesPinned(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(t)
	cfg.Policy.MaxTorrents = 0
	cfg.Policy.MaxTotalBytes = 1

	// A managed entry with no catalog row, pinned by its service ID.
	pinPath := filepath.Join(t.TempDir(), "pinned.txt")
	if err := os.WriteFile(pinPath, []byte("p-orphan\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Policy.PinnedListPath = pinPath

	client := &fakeClient{managed: []porla.Torrent{
		{ID: "p-orphan", Name: "orphan", State: "seeding"},
	}}

	result, err := New(cfg, db, client).Run(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(client.removes) != 0 {
		t.Fatalf("pinned entry was removed: %+v", client.removes)
	}
	actions, err := db.ActionsForRun(result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Reason != ReasonGuardrailPinned {
		t.Errorf("expected single pinned guardrail action, got %+v", actions)
	}
}

func TestRunHealthGateAbortsBeforeMutation(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "https://tr.example/t1", ptr("magnet:?xt=urn:btih:aa"), i64(100))
	client := &fakeClient{healthErr: errors.New("connection refused")}

	_, err := New(testConfig(t), db, client).Run(context.Background())
	if err == nil {
		t.Fatal("expected error from health gate")
	}
	if len(client.adds) != 0 || len(client.removes) != 0 {
		t.Fatal("mutations issued despite failed health check")
	}

	runs, err := db.RecentRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].OK || runs[0].FinishedAt == nil {
		t.Errorf("expected finished failed run, got %+v", runs)
	}
}

func TestRunRejectsConcurrentCycle(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.StartRun(store.RunReconcile); err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{}

	_, err := New(testConfig(t), db, client).Run(context.Background())
	if !errors.Is(err, store.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if len(client.adds) != 0 {
		t.Error("external call made despite run conflict")
	}
}

func TestRunReAddsErroredEntry(t *testing.T) {
	db := openTestDB(t)
	id := seed(t, db, "https://tr.example/t1", ptr("magnet:?xt=urn:btih:aa"), i64(100))
	if err := db.MarkAdded(id, "p-old", "old"); err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{managed: []porla.Torrent{
		{ID: "p-old", Name: "old", State: "error"},
	}}

	result, err := New(testConfig(t), db, client).Run(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Added != 1 {
		t.Fatalf("expected re-add, got %+v", result)
	}
	row, err := db.GetTorrentByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if row.PorlaID == nil || *row.PorlaID != "p1" {
		t.Errorf("expected replaced porla id, got %v", row.PorlaID)
	}
}

func TestRunRecordsMissingReference(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "https://tr.example/bare", nil, i64(100))
	client := &fakeClient{}

	result, err := New(testConfig(t), db, client).Run(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Errors != 1 || len(client.adds) != 0 {
		t.Fatalf("expected one recorded error and no add call, got %+v adds=%d", result, len(client.adds))
	}
	actions, err := db.ActionsForRun(result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Reason != ReasonMissingReference || actions[0].OK {
		t.Errorf("unexpected audit trail: %+v", actions)
	}
}

func TestRunItemFailureDoesNotAbortCycle(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "https://tr.example/t1", ptr("magnet:?xt=urn:btih:aa"), i64(100))
	seed(t, db, "https://tr.example/t2", ptr("magnet:?xt=urn:btih:bb"), i64(100))
	client := &fakeClient{addErr: errors.New("boom")}

	result, err := New(testConfig(t), db, client).Run(context.Background())
	if err != nil {
		t.Fatalf("item failures must not fail the run: %v", err)
	}
	if result.Errors != 2 || len(client.adds) != 2 {
		t.Fatalf("expected both adds attempted and recorded, got %+v adds=%d", result, len(client.adds))
	}

	runs, err := db.RecentRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || !runs[0].OK {
		t.Errorf("run should finish ok with item failures, got %+v", runs)
	}
}

func TestRunSkipCapAudited(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(t)
	cfg.Policy.MaxTotalBytes = 100

	seed(t, db, "https://tr.example/a", ptr("magnet:?xt=urn:btih:aa"), i64(100))
	seed(t, db, "https://tr.example/b", ptr("magnet:?xt=urn:btih:bb"), i64(100))
	client := &fakeClient{}

	result, err := New(cfg, db, client).Run(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Added != 1 || result.Skipped != 1 {
		t.Fatalf("expected 1 added 1 skipped, got %+v", result)
	}
	actions, err := db.ActionsForRun(result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	capSkips := 0
	for _, a := range actions {
		if a.Action == store.ActionSkipCap && a.Reason == ReasonCapExceeded {
			capSkips++
		}
	}
	if capSkips != 1 {
		t.Errorf("expected one cap skip in audit trail, actions: %+v", actions)
	}
}
