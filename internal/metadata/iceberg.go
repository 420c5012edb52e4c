// Package metadata renders Iceberg style table metadata for the signal
// archive. Each committed parquet batch becomes a table snapshot, so query
// engines can discover archived signals and time-travel between flushes
// without listing the data prefix.
package metadata

import (
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DataFile describes one committed parquet file of archived signals.
type DataFile struct {
	Path        string         `json:"path"`
	SizeBytes   int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot holds the minimal information required for time-travel queries.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

// TableMetadata is the top level Iceberg table metadata document.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Object is one rendered metadata document. Key is relative to the table
// location; the caller stores the body wherever the table lives.
type Object struct {
	Key  string
	Body []byte
}

// Tracker accumulates the snapshots of one table and renders the metadata
// documents that accompany each committed data file. Safe for concurrent
// commits.
type Tracker struct {
	mu        sync.Mutex
	location  string
	tableName string
	tableUUID string
	snapshots []Snapshot
}

// NewTracker returns a tracker for one table rooted at location, for example
// "s3://bucket/signals".
func NewTracker(location, tableName string) *Tracker {
	return &Tracker{
		location:  location,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

// Commit records df as a new snapshot and returns the documents to store:
// the manifest for this snapshot and the refreshed table metadata. Snapshot
// IDs derive from the data file timestamp and are forced monotonic so two
// batches flushed in the same instant stay distinct.
func (t *Tracker) Commit(df DataFile) ([]Object, error) {
	ts := df.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	snapID := ts.UnixNano()
	if n := len(t.snapshots); n > 0 && snapID <= t.snapshots[n-1].SnapshotID {
		snapID = t.snapshots[n-1].SnapshotID + 1
	}

	manifestKey := fmt.Sprintf("metadata/manifest-%d.json", snapID)
	manifest, err := json.Marshal([]ManifestEntry{{Status: 1, DataFile: df}})
	if err != nil {
		return nil, err
	}

	t.snapshots = append(t.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: ts.UnixMilli(),
		Manifest:    path.Base(manifestKey),
	})

	meta, err := json.MarshalIndent(TableMetadata{
		FormatVersion:     2,
		TableUUID:         t.tableUUID,
		Location:          t.location,
		CurrentSnapshotID: snapID,
		Snapshots:         append([]Snapshot(nil), t.snapshots...),
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	return []Object{
		{Key: manifestKey, Body: manifest},
		{Key: "metadata/metadata.json", Body: meta},
	}, nil
}

// CatalogEntry renders the catalog document that points readers at the
// current table metadata.
func (t *Tracker) CatalogEntry() (Object, error) {
	entry := map[string]string{
		"name":              t.tableName,
		"metadata_location": t.location + "/metadata/metadata.json",
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return Object{}, err
	}
	return Object{Key: fmt.Sprintf("catalog/%s.json", t.tableName), Body: b}, nil
}
