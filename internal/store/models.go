package store

// Torrent lifecycle statuses. Transitions are monotone along the main
// chain; "error" is reachable from any non-terminal status and recovers
// to the observed state once the condition clears.
const (
	StatusDiscovered  = "discovered"
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusSeeding     = "seeding"
	StatusStalled     = "stalled"
	StatusRemoved     = "removed"
	StatusError       = "error"
)

// Scrape outcome classifications for a tracker endpoint.
const (
	ScrapeOK = "ok"
	// ScrapeUnsupported means the endpoint does not expose scrape counts.
	// Distinct from "never observed" and never conflated with zero.
	ScrapeUnsupported = "unsupported"
	ScrapeError       = "error"
)

// Run kinds. At most one run of a given kind may be in progress.
const (
	RunIngest    = "ingest"
	RunStats     = "stats"
	RunReconcile = "reconcile"
)

// Reconcile action kinds.
const (
	ActionAdd           = "add"
	ActionRemove        = "remove"
	ActionSkipGuardrail = "skip-guardrail"
	ActionSkipCap       = "skip-cap"
	ActionNoop          = "no-op"
)

// Torrent is one catalogued content item. Nullable columns are pointers;
// a nil SizeBytes means "unknown" and keeps the item out of capacity
// accounting (never zero-as-unknown).
type Torrent struct {
	ID             int64
	TopicURL       string
	Title          *string
	Infohash       *string
	MagnetURL      *string
	TorrentURL     *string
	SizeBytes      *int64
	PorlaID        *string
	PorlaName      *string
	DiscoveredAt   *string
	LastSeenInFeed *string
	AddedAt        *string
	LastStatsAt    *string
	Seeders        *int64
	Leechers       *int64
	Downloaded     *int64
	Score          *float64
	Status         string
	LastError      *string
}

// ScrapeRecord holds the last observed scrape counts for one tracker
// endpoint of a torrent. Counts survive transient errors and
// "unsupported" responses; only a successful scrape overwrites them.
type ScrapeRecord struct {
	ID           int64
	TorrentID    int64
	TrackerURL   string
	LastScrapeAt *string
	Complete     *int64
	Incomplete   *int64
	Downloaded   *int64
	Status       string
	LastError    *string
}

// Run is one executed cycle. FinishedAt == nil means in progress.
type Run struct {
	ID         int64
	Kind       string
	StartedAt  string
	FinishedAt *string
	OK         bool
	Summary    *string
}

// Action is one reconciliation decision. Append-only.
type Action struct {
	ID        int64
	RunID     *int64
	TorrentID *int64
	Action    string
	Reason    string
	OK        bool
	Detail    *string
	CreatedAt string
}

// ActionView is an Action joined with the torrent it concerns, for the
// observability surface.
type ActionView struct {
	Action
	Title    *string
	TopicURL *string
}

// StatusCount pairs a lifecycle status with the number of torrents in it.
type StatusCount struct {
	Status string
	Count  int
}

// Overview contains the catalog aggregates shown by the status surface.
type Overview struct {
	Torrents      int
	Managed       int
	Critical      int
	KnownBytes    int64
	StatusCounts  []StatusCount
	LastRunByKind map[string]string
}
