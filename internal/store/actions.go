package store

// RecordAction appends one reconciliation decision to the audit trail.
// Rows are never mutated after write.
func (db *DB) RecordAction(runID, torrentID *int64, action, reason string, ok bool, detail *string) error {
	okVal := 0
	if ok {
		okVal = 1
	}
	_, err := db.conn.Exec(
		`INSERT INTO reconcile_actions (run_id, torrent_id, action, reason, ok, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, torrentID, action, reason, okVal, detail, Now(),
	)
	return err
}

// RecentActions returns the newest audit entries joined with the torrents
// they concern.
func (db *DB) RecentActions(limit int) ([]ActionView, error) {
	rows, err := db.conn.Query(
		`SELECT a.id, a.run_id, a.torrent_id, a.action, a.reason, a.ok, a.detail, a.created_at,
			t.title, t.topic_url
		FROM reconcile_actions a LEFT JOIN torrents t ON t.id = a.torrent_id
		ORDER BY a.id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []ActionView
	for rows.Next() {
		var v ActionView
		var ok int
		if err := rows.Scan(&v.ID, &v.RunID, &v.TorrentID, &v.Action.Action, &v.Reason,
			&ok, &v.Detail, &v.CreatedAt, &v.Title, &v.TopicURL); err != nil {
			return nil, err
		}
		v.OK = ok != 0
		views = append(views, v)
	}
	return views, rows.Err()
}

// ActionsForRun returns the full audit trail of a single run, oldest first.
func (db *DB) ActionsForRun(runID int64) ([]Action, error) {
	rows, err := db.conn.Query(
		`SELECT id, run_id, torrent_id, action, reason, ok, detail, created_at
		FROM reconcile_actions WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		var ok int
		if err := rows.Scan(&a.ID, &a.RunID, &a.TorrentID, &a.Action, &a.Reason, &ok, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.OK = ok != 0
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
