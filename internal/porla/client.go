// Package porla is the narrow translation layer between the retention
// engine and the Porla torrent service. It is the only package that knows
// the service's protocol; everything else holds the Client contract.
package porla

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tagay1n/tt-torrent-seedbox/internal/config"
)

// Torrent is one managed entry as observed from the service.
type Torrent struct {
	ID        string
	Name      string
	State     string
	Infohash  *string
	SizeBytes *int64
}

// TrackerStat holds one endpoint's scrape counts. Nil counts were not
// reported; Status distinguishes ok, unsupported, and error outcomes.
type TrackerStat struct {
	TrackerURL string
	Complete   *int64
	Incomplete *int64
	Downloaded *int64
	Status     string
	LastError  *string
}

// Client is the port to the managing torrent service. Implementations
// classify every failure as transient or permanent (see Error) and
// perform no business logic.
type Client interface {
	Health(ctx context.Context) error
	Add(ctx context.Context, magnetURL, torrentURL *string, tag string) (*Torrent, error)
	List(ctx context.Context, tag string) ([]Torrent, error)
	Get(ctx context.Context, torrentID string) (*Torrent, error)
	Trackers(ctx context.Context, torrentID string) ([]TrackerStat, error)
	Remove(ctx context.Context, torrentID string, deleteData bool) error
}

// activeTokens mark service states that count as an active download for
// the removal guardrail.
var activeTokens = []string{"downloading", "queued", "stalled", "checking", "allocating", "metadata"}

// IsActiveDownload reports whether the raw service state blocks removal.
func IsActiveDownload(state string) bool {
	lowered := strings.ToLower(state)
	for _, token := range activeTokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

const (
	healthPath   = "/api/v1/health"
	torrentsPath = "/api/v1/torrents"
	initialDelay = 500 * time.Millisecond
)

// HTTPClient implements Client against the Porla REST API.
type HTTPClient struct {
	cfg    config.Porla
	client *http.Client
}

// NewHTTPClient creates a Porla REST adapter from config.
func NewHTTPClient(cfg config.Porla) *HTTPClient {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Health checks that the service answers.
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, "health", http.MethodGet, healthPath, nil, nil)
	return err
}

// Add submits a magnet or torrent-file reference under the managed tag
// and returns the service's view of the new torrent. Re-adding an
// existing item is safe: the service answers with the existing entry.
func (c *HTTPClient) Add(ctx context.Context, magnetURL, torrentURL *string, tag string) (*Torrent, error) {
	payload := map[string]any{"tags": []string{tag}}
	if magnetURL != nil && *magnetURL != "" {
		payload["magnetUrl"] = *magnetURL
	}
	if torrentURL != nil && *torrentURL != "" {
		payload["torrentUrl"] = *torrentURL
	}
	body, err := c.do(ctx, "add", http.MethodPost, torrentsPath, nil, payload)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &Error{Op: "add", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return parseTorrent(data), nil
}

// List returns every torrent carrying the tag, walking all pages. Pages
// are deduplicated by ID so entries shifting between pages mid-listing
// are reported once.
func (c *HTTPClient) List(ctx context.Context, tag string) ([]Torrent, error) {
	pageSize := c.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	var torrents []Torrent
	seen := make(map[string]struct{})
	for page := 1; ; page++ {
		query := url.Values{
			"tag":      {tag},
			"page":     {strconv.Itoa(page)},
			"pageSize": {strconv.Itoa(pageSize)},
		}
		body, err := c.do(ctx, "list", http.MethodGet, torrentsPath, query, nil)
		if err != nil {
			return nil, err
		}

		items, pageNum, pageCount, err := parsePage(body)
		if err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		for _, item := range items {
			t := parseTorrent(item)
			if t.ID == "" {
				continue
			}
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			torrents = append(torrents, *t)
		}

		if pageNum > 0 && pageNum >= pageCount {
			break
		}
		if len(items) < pageSize {
			break
		}
	}
	return torrents, nil
}

// Get fetches one torrent's state. Not-found is a permanent Error with
// StatusCode 404 (see IsNotFound).
func (c *HTTPClient) Get(ctx context.Context, torrentID string) (*Torrent, error) {
	body, err := c.do(ctx, "get", http.MethodGet, torrentsPath+"/"+url.PathEscape(torrentID), nil, nil)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &Error{Op: "get", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return parseTorrent(data), nil
}

// Trackers fetches per-endpoint scrape counts for a torrent.
func (c *HTTPClient) Trackers(ctx context.Context, torrentID string) ([]TrackerStat, error) {
	body, err := c.do(ctx, "trackers", http.MethodGet, torrentsPath+"/"+url.PathEscape(torrentID)+"/trackers", nil, nil)
	if err != nil {
		return nil, err
	}
	items, _, _, err := parsePage(body)
	if err != nil {
		return nil, &Error{Op: "trackers", Err: err}
	}

	var stats []TrackerStat
	for _, item := range items {
		trackerURL := firstString(item, "url", "trackerUrl")
		if trackerURL == "" {
			continue
		}
		status := firstString(item, "scrapeStatus", "status")
		if status == "" {
			status = "ok"
		}
		stat := TrackerStat{
			TrackerURL: trackerURL,
			Complete:   firstInt(item, "scrapeComplete", "complete"),
			Incomplete: firstInt(item, "scrapeIncomplete", "incomplete"),
			Downloaded: firstInt(item, "scrapeDownloaded", "downloaded"),
			Status:     status,
		}
		if msg := firstString(item, "lastError", "error"); msg != "" {
			stat.LastError = &msg
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

// Remove unloads a torrent, optionally deleting its data on disk.
func (c *HTTPClient) Remove(ctx context.Context, torrentID string, deleteData bool) error {
	query := url.Values{"deleteData": {strconv.FormatBool(deleteData)}}
	_, err := c.do(ctx, "remove", http.MethodDelete, torrentsPath+"/"+url.PathEscape(torrentID), query, nil)
	return err
}

// do issues one logical request, retrying transient failures with
// exponential backoff up to the configured attempt count. Permanent
// failures return immediately.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values, payload any) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, &Error{Op: op, Err: err}
		}
	}

	attempts := c.cfg.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := initialDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{Op: op, Transient: true, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		body, err := c.doOnce(ctx, op, method, path, query, reqBody)
		if err == nil {
			return body, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *HTTPClient) doOnce(ctx context.Context, op, method, path string, query url.Values, reqBody []byte) ([]byte, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		body = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Transient: true, Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Transient: transientStatus(resp.StatusCode)}
	}
	return respBody, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	switch c.cfg.Auth.Type {
	case "token":
		if c.cfg.Auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Auth.Token)
		}
	case "basic":
		if c.cfg.Auth.Username != "" {
			req.SetBasicAuth(c.cfg.Auth.Username, c.cfg.Auth.Password)
		}
	}
}

// parsePage accepts either {"items": [...], "page": n, "pageCount": n}
// or a bare JSON array.
func parsePage(body []byte) (items []map[string]any, page, pageCount int, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, 0, 0, fmt.Errorf("decoding list: %w", err)
		}
		return items, 0, 0, nil
	}

	var envelope struct {
		Items     []map[string]any `json:"items"`
		Page      int              `json:"page"`
		PageCount int              `json:"pageCount"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, 0, 0, fmt.Errorf("decoding page: %w", err)
	}
	pageCount = envelope.PageCount
	if pageCount == 0 {
		pageCount = 1
	}
	return envelope.Items, envelope.Page, pageCount, nil
}

// parseTorrent tolerates the field aliases different Porla versions use.
func parseTorrent(data map[string]any) *Torrent {
	t := &Torrent{
		ID:    firstString(data, "id", "torrentId", "hash", "infoHash"),
		Name:  firstString(data, "name", "title"),
		State: firstString(data, "state", "status"),
	}
	if hash := firstString(data, "infoHash", "hash"); hash != "" {
		t.Infohash = &hash
	}
	t.SizeBytes = firstInt(data, "size", "sizeBytes")
	return t
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := data[key]; ok && v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstInt(data map[string]any, keys ...string) *int64 {
	for _, key := range keys {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			i := int64(n)
			return &i
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return &i
			}
		}
	}
	return nil
}
