package porla

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/tagay1n/tt-torrent-seedbox/internal/config"
)

func testClient(t *testing.T, handler http.Handler, retries int) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.Porla{
		BaseURL:               srv.URL,
		Auth:                  config.Auth{Type: "none"},
		ManagedTag:            "tt-archive",
		RequestTimeoutSeconds: 5,
		RetryCount:            retries,
		PageSize:              2,
	})
}

func TestHealthOK(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}), 0)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransientFailureIsRetried(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 1)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestTransientFailureSurfacedAfterBoundedAttempts(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}), 1)

	err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Error("expected transient classification")
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}), 3)

	err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Error("expected permanent classification for 401")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestGetNotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}), 0)

	_, err := c.Get(context.Background(), "missing-id")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("expected not-found classification, got %v", err)
	}
	if IsTransient(err) {
		t.Error("not-found must be permanent")
	}
}

func TestAddSendsReferenceAndTag(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["magnetUrl"] != "magnet:?xt=urn:btih:abc" {
			t.Errorf("unexpected magnet: %v", payload["magnetUrl"])
		}
		tags, _ := payload["tags"].([]any)
		if len(tags) != 1 || tags[0] != "tt-archive" {
			t.Errorf("unexpected tags: %v", payload["tags"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "p-1", "name": "abc.torrent", "state": "queued",
			"infoHash": "abc", "size": 1234,
		})
	}), 0)

	magnet := "magnet:?xt=urn:btih:abc"
	torrent, err := c.Add(context.Background(), &magnet, nil, "tt-archive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if torrent.ID != "p-1" {
		t.Errorf("expected id p-1, got %q", torrent.ID)
	}
	if torrent.SizeBytes == nil || *torrent.SizeBytes != 1234 {
		t.Error("expected size parsed")
	}
	if torrent.Infohash == nil || *torrent.Infohash != "abc" {
		t.Error("expected infohash parsed")
	}
}

func TestListWalksPagesWithoutDuplication(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if r.URL.Query().Get("tag") != "tt-archive" {
			t.Errorf("expected tag filter, got %q", r.URL.Query().Get("tag"))
		}
		var items []map[string]any
		switch page {
		case 1:
			items = []map[string]any{
				{"id": "a", "state": "seeding"},
				{"id": "b", "state": "seeding"},
			}
		case 2:
			// "b" moved pages between requests; it must not be doubled.
			items = []map[string]any{
				{"id": "b", "state": "seeding"},
				{"id": "c", "state": "downloading"},
			}
		default:
			items = nil
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": items, "page": page, "pageCount": 3,
		})
	}), 0)

	torrents, err := c.List(context.Background(), "tt-archive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(torrents) != 3 {
		t.Fatalf("expected 3 unique torrents, got %d", len(torrents))
	}
	ids := map[string]bool{}
	for _, torrent := range torrents {
		if ids[torrent.ID] {
			t.Errorf("duplicate id %s", torrent.ID)
		}
		ids[torrent.ID] = true
	}
}

func TestTrackersParsesAliasesAndUnsupported(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": [
			{"url": "udp://tr.example:2710", "scrapeComplete": 3, "scrapeIncomplete": 1, "scrapeDownloaded": 9, "scrapeStatus": "ok"},
			{"trackerUrl": "http://quiet.example/announce", "status": "unsupported"}
		]}`)
	}), 0)

	stats, err := c.Trackers(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(stats))
	}
	if stats[0].Complete == nil || *stats[0].Complete != 3 {
		t.Error("expected complete=3")
	}
	if stats[1].Status != "unsupported" {
		t.Errorf("expected unsupported, got %q", stats[1].Status)
	}
	if stats[1].Complete != nil {
		t.Error("unsupported endpoint must not report counts")
	}
}

func TestRemovePassesDeleteDataFlag(t *testing.T) {
	var gotDelete string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		gotDelete = r.URL.Query().Get("deleteData")
		w.WriteHeader(http.StatusOK)
	}), 0)

	if err := c.Remove(context.Background(), "p-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDelete != "false" {
		t.Errorf("expected deleteData=false, got %q", gotDelete)
	}
}

func TestTokenAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient(config.Porla{
		BaseURL:    srv.URL,
		Auth:       config.Auth{Type: "token", Token: "secret"},
		RetryCount: 0,
	})
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
}

func TestIsActiveDownload(t *testing.T) {
	for _, state := range []string{"Downloading", "queued", "checking_files", "stalledDL", "allocating"} {
		if !IsActiveDownload(state) {
			t.Errorf("expected %q active", state)
		}
	}
	for _, state := range []string{"seeding", "finished", "paused", ""} {
		if IsActiveDownload(state) {
			t.Errorf("expected %q inactive", state)
		}
	}
}
