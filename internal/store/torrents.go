package store

import "database/sql"

const torrentCols = `id, topic_url, title, infohash, magnet_url, torrent_url, size_bytes,
	porla_torrent_id, porla_name, discovered_at, last_seen_in_feed, added_at, last_stats_at,
	seeders, leechers, downloaded, score, status, last_error`

// UpsertTorrent records a torrent seen in the discovery feed. Identity is
// the topic URL. Returns the row ID and whether the row was created.
func (db *DB) UpsertTorrent(topicURL string, title *string, discoveredAt *string) (int64, bool, error) {
	existing, err := db.GetTorrentByTopicURL(topicURL)
	if err != nil {
		return 0, false, err
	}
	now := Now()

	if existing != nil {
		if title != nil && *title != "" {
			if _, err := db.conn.Exec("UPDATE torrents SET title = ? WHERE id = ?", title, existing.ID); err != nil {
				return 0, false, err
			}
		}
		if discoveredAt != nil && existing.DiscoveredAt == nil {
			if _, err := db.conn.Exec("UPDATE torrents SET discovered_at = ? WHERE id = ?", discoveredAt, existing.ID); err != nil {
				return 0, false, err
			}
		}
		if _, err := db.conn.Exec("UPDATE torrents SET last_seen_in_feed = ? WHERE id = ?", now, existing.ID); err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}

	da := now
	if discoveredAt != nil {
		da = *discoveredAt
	}
	result, err := db.conn.Exec(
		`INSERT INTO torrents (topic_url, title, discovered_at, last_seen_in_feed, status)
		VALUES (?, ?, ?, ?, ?)`,
		topicURL, title, da, now, StatusDiscovered,
	)
	if err != nil {
		return 0, false, err
	}
	id, err := result.LastInsertId()
	return id, true, err
}

// UpdateTorrentLinks stores the references and size extracted for a topic
// and clears any prior data error.
func (db *DB) UpdateTorrentLinks(id int64, title, magnetURL, torrentURL, infohash *string, sizeBytes *int64) error {
	_, err := db.conn.Exec(
		`UPDATE torrents SET
			title = COALESCE(?, title),
			magnet_url = COALESCE(?, magnet_url),
			torrent_url = COALESCE(?, torrent_url),
			infohash = COALESCE(?, infohash),
			size_bytes = COALESCE(?, size_bytes),
			last_error = NULL
		WHERE id = ?`,
		title, magnetURL, torrentURL, infohash, sizeBytes, id,
	)
	return err
}

// SetTorrentError records an item-level error without touching the status.
func (db *DB) SetTorrentError(id int64, msg string) error {
	_, err := db.conn.Exec("UPDATE torrents SET last_error = ? WHERE id = ?", msg, id)
	return err
}

// MarkAdded records a successful add to Porla. The external ID replaces
// any previous one.
func (db *DB) MarkAdded(id int64, porlaID, porlaName string) error {
	_, err := db.conn.Exec(
		`UPDATE torrents SET porla_torrent_id = ?, porla_name = ?, added_at = ?,
			status = ?, last_error = NULL WHERE id = ?`,
		porlaID, porlaName, Now(), StatusQueued, id,
	)
	return err
}

// MarkRemoved clears the external ID after a successful removal.
func (db *DB) MarkRemoved(id int64) error {
	_, err := db.conn.Exec(
		"UPDATE torrents SET porla_torrent_id = NULL, status = ? WHERE id = ?",
		StatusRemoved, id,
	)
	return err
}

// UpdateTorrentMetrics writes the state observed during a stats refresh.
// The size is only filled in when previously unknown; zero never
// overwrites a known size.
func (db *DB) UpdateTorrentMetrics(id int64, porlaName, status string, infohash *string, sizeBytes, seeders, leechers, downloaded *int64) error {
	_, err := db.conn.Exec(
		`UPDATE torrents SET
			porla_name = ?,
			status = ?,
			infohash = COALESCE(?, infohash),
			size_bytes = COALESCE(size_bytes, ?),
			seeders = COALESCE(?, seeders),
			leechers = COALESCE(?, leechers),
			downloaded = COALESCE(?, downloaded),
			last_stats_at = ?,
			last_error = NULL
		WHERE id = ?`,
		porlaName, status, infohash, sizeBytes, seeders, leechers, downloaded, Now(), id,
	)
	return err
}

// MarkTorrentMissing flags an item whose external ID no longer resolves.
func (db *DB) MarkTorrentMissing(id int64, msg string) error {
	_, err := db.conn.Exec(
		"UPDATE torrents SET status = ?, last_error = ? WHERE id = ?",
		StatusError, msg, id,
	)
	return err
}

// UpdateScore persists the derived vulnerability score. The score is
// display-only; selection always recomputes its ordering from metrics.
func (db *DB) UpdateScore(id int64, score float64) error {
	_, err := db.conn.Exec("UPDATE torrents SET score = ? WHERE id = ?", score, id)
	return err
}

// GetTorrentByID returns a single torrent, or nil if absent.
func (db *DB) GetTorrentByID(id int64) (*Torrent, error) {
	row := db.conn.QueryRow("SELECT "+torrentCols+" FROM torrents WHERE id = ?", id)
	return scanTorrent(row)
}

// GetTorrentByTopicURL returns the torrent with the given identity key,
// or nil if absent.
func (db *DB) GetTorrentByTopicURL(topicURL string) (*Torrent, error) {
	row := db.conn.QueryRow("SELECT "+torrentCols+" FROM torrents WHERE topic_url = ?", topicURL)
	return scanTorrent(row)
}

// GetTorrentByPorlaID returns the torrent tracked under the given external
// ID, or nil if absent.
func (db *DB) GetTorrentByPorlaID(porlaID string) (*Torrent, error) {
	row := db.conn.QueryRow("SELECT "+torrentCols+" FROM torrents WHERE porla_torrent_id = ?", porlaID)
	return scanTorrent(row)
}

// ListTorrents returns the full catalog.
func (db *DB) ListTorrents() ([]Torrent, error) {
	rows, err := db.conn.Query("SELECT " + torrentCols + " FROM torrents ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTorrents(rows)
}

// ListTracked returns the stats refresher's working set: torrents that
// hold an external ID and are not removed.
func (db *DB) ListTracked() ([]Torrent, error) {
	rows, err := db.conn.Query(
		"SELECT "+torrentCols+" FROM torrents WHERE porla_torrent_id IS NOT NULL AND status != ? ORDER BY id",
		StatusRemoved,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTorrents(rows)
}

// TopVulnerable returns the highest-scored torrents for the status surface.
func (db *DB) TopVulnerable(limit int) ([]Torrent, error) {
	rows, err := db.conn.Query(
		"SELECT "+torrentCols+" FROM torrents ORDER BY score IS NULL, score DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTorrents(rows)
}

// GetOverview returns the catalog aggregates for the status surface.
// "Critical" counts items with an observed seeder count at or below one
// and demand present; never-scraped and unsupported items are excluded.
func (db *DB) GetOverview() (*Overview, error) {
	o := &Overview{LastRunByKind: make(map[string]string)}

	if err := db.conn.QueryRow("SELECT COUNT(*) FROM torrents").Scan(&o.Torrents); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM torrents WHERE porla_torrent_id IS NOT NULL").Scan(&o.Managed); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM torrents WHERE seeders IS NOT NULL AND seeders <= 1 AND leechers > 0",
	).Scan(&o.Critical); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COALESCE(SUM(size_bytes), 0) FROM torrents WHERE porla_torrent_id IS NOT NULL").Scan(&o.KnownBytes); err != nil {
		return nil, err
	}

	rows, err := db.conn.Query("SELECT status, COUNT(*) FROM torrents GROUP BY status ORDER BY COUNT(*) DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		o.StatusCounts = append(o.StatusCounts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runRows, err := db.conn.Query(
		"SELECT kind, MAX(finished_at) FROM runs WHERE finished_at IS NOT NULL GROUP BY kind",
	)
	if err != nil {
		return nil, err
	}
	defer runRows.Close()
	for runRows.Next() {
		var kind string
		var finished *string
		if err := runRows.Scan(&kind, &finished); err != nil {
			return nil, err
		}
		if finished != nil {
			o.LastRunByKind[kind] = *finished
		}
	}
	return o, runRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTorrentRow(s rowScanner) (*Torrent, error) {
	var t Torrent
	err := s.Scan(&t.ID, &t.TopicURL, &t.Title, &t.Infohash, &t.MagnetURL, &t.TorrentURL,
		&t.SizeBytes, &t.PorlaID, &t.PorlaName, &t.DiscoveredAt, &t.LastSeenInFeed,
		&t.AddedAt, &t.LastStatsAt, &t.Seeders, &t.Leechers, &t.Downloaded,
		&t.Score, &t.Status, &t.LastError)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTorrent(row *sql.Row) (*Torrent, error) {
	t, err := scanTorrentRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func scanTorrents(rows *sql.Rows) ([]Torrent, error) {
	var torrents []Torrent
	for rows.Next() {
		t, err := scanTorrentRow(rows)
		if err != nil {
			return nil, err
		}
		torrents = append(torrents, *t)
	}
	return torrents, rows.Err()
}
