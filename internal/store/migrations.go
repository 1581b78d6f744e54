package store

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS torrents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    topic_url TEXT UNIQUE NOT NULL,
    title TEXT,
    infohash TEXT,
    magnet_url TEXT,
    torrent_url TEXT,
    size_bytes INTEGER,
    porla_torrent_id TEXT,
    porla_name TEXT,
    discovered_at TEXT,
    last_seen_in_feed TEXT,
    added_at TEXT,
    last_stats_at TEXT,
    seeders INTEGER,
    leechers INTEGER,
    downloaded INTEGER,
    score REAL,
    status TEXT NOT NULL DEFAULT 'discovered',
    last_error TEXT
);

CREATE TABLE IF NOT EXISTS tracker_stats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    torrent_id INTEGER NOT NULL REFERENCES torrents(id) ON DELETE CASCADE,
    tracker_url TEXT NOT NULL,
    last_scrape_at TEXT,
    complete INTEGER,
    incomplete INTEGER,
    downloaded INTEGER,
    scrape_status TEXT NOT NULL DEFAULT 'ok',
    last_error TEXT,
    UNIQUE (torrent_id, tracker_url)
);

CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    ok INTEGER NOT NULL DEFAULT 0,
    summary TEXT
);

CREATE TABLE IF NOT EXISTS reconcile_actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER REFERENCES runs(id),
    torrent_id INTEGER REFERENCES torrents(id) ON DELETE SET NULL,
    action TEXT NOT NULL,
    reason TEXT NOT NULL,
    ok INTEGER NOT NULL DEFAULT 1,
    detail TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT
);

CREATE INDEX IF NOT EXISTS idx_torrents_porla_id ON torrents(porla_torrent_id);
CREATE INDEX IF NOT EXISTS idx_torrents_status ON torrents(status);
CREATE INDEX IF NOT EXISTS idx_torrents_infohash ON torrents(infohash);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_actions_run ON reconcile_actions(run_id);
CREATE INDEX IF NOT EXISTS idx_actions_created ON reconcile_actions(created_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
