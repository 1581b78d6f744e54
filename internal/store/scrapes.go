package store

// UpsertScrapeOK records a successful scrape, overwriting the stored
// counts for the endpoint.
func (db *DB) UpsertScrapeOK(torrentID int64, trackerURL string, complete, incomplete, downloaded *int64) error {
	_, err := db.conn.Exec(
		`INSERT INTO tracker_stats (torrent_id, tracker_url, last_scrape_at, complete, incomplete, downloaded, scrape_status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(torrent_id, tracker_url) DO UPDATE SET
			last_scrape_at = excluded.last_scrape_at,
			complete = excluded.complete,
			incomplete = excluded.incomplete,
			downloaded = excluded.downloaded,
			scrape_status = excluded.scrape_status,
			last_error = NULL`,
		torrentID, trackerURL, Now(), complete, incomplete, downloaded, ScrapeOK,
	)
	return err
}

// UpsertScrapeUnsupported flips an endpoint to the unsupported sentinel.
// Previously stored counts are retained; unsupported is never conflated
// with a zero observation.
func (db *DB) UpsertScrapeUnsupported(torrentID int64, trackerURL string) error {
	_, err := db.conn.Exec(
		`INSERT INTO tracker_stats (torrent_id, tracker_url, last_scrape_at, scrape_status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(torrent_id, tracker_url) DO UPDATE SET
			last_scrape_at = excluded.last_scrape_at,
			scrape_status = excluded.scrape_status,
			last_error = NULL`,
		torrentID, trackerURL, Now(), ScrapeUnsupported,
	)
	return err
}

// UpsertScrapeError records a failed scrape. Counts and any prior
// ok/unsupported knowledge of the endpoint are retained; only the outcome
// flag and error detail change.
func (db *DB) UpsertScrapeError(torrentID int64, trackerURL, detail string) error {
	_, err := db.conn.Exec(
		`INSERT INTO tracker_stats (torrent_id, tracker_url, last_scrape_at, scrape_status, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(torrent_id, tracker_url) DO UPDATE SET
			last_scrape_at = excluded.last_scrape_at,
			scrape_status = excluded.scrape_status,
			last_error = excluded.last_error`,
		torrentID, trackerURL, Now(), ScrapeError, detail,
	)
	return err
}

// GetScrapes returns all scrape records for a torrent.
func (db *DB) GetScrapes(torrentID int64) ([]ScrapeRecord, error) {
	rows, err := db.conn.Query(
		`SELECT id, torrent_id, tracker_url, last_scrape_at, complete, incomplete, downloaded, scrape_status, last_error
		FROM tracker_stats WHERE torrent_id = ? ORDER BY tracker_url`,
		torrentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ScrapeRecord
	for rows.Next() {
		var r ScrapeRecord
		if err := rows.Scan(&r.ID, &r.TorrentID, &r.TrackerURL, &r.LastScrapeAt,
			&r.Complete, &r.Incomplete, &r.Downloaded, &r.Status, &r.LastError); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
