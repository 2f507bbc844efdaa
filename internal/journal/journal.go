// Package journal implements the ancestor journal: the persisted
// memory of each node's last-run input signature and result, looked up
// by GUID across invocations.
//
// Grounded on src/ancestors.c in original_source/, which memory-maps a
// sorted array of fixed-size records and rewrites it whole on save.
// The teacher repo (internal/db/store.go) demonstrates the idiom this
// package follows instead: open a modernc.org/sqlite database in WAL
// mode, embed the schema, and let the driver own durability and
// atomicity rather than hand-rolling mmap + temp-file-then-rename.
// The original semantics — sorted-by-GUID uniqueness, TTL pruning, and
// persisting a fresh signature only once a node has progressed past
// scanning — are preserved exactly; only the byte-level framing
// changes. See DESIGN.md for why this trade was made.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tundra-build/tundra/internal/signature"
)

// Result mirrors a node's terminal job state without this package
// needing to import internal/job (which imports journal to persist
// results), avoiding an import cycle.
type Result uint8

const (
	ResultUnknown Result = iota
	ResultCompleted
	ResultFailed
	ResultUpToDate
	ResultCancelled
)

// Record is one ancestor journal entry.
type Record struct {
	GUID           signature.Digest
	InputSignature signature.Digest
	Result         Result
	AccessTime     time.Time
}

// TTL is how long an unvisited record survives a save before being
// pruned.
const TTL = 7 * 24 * time.Hour

// Journal holds the ancestor records loaded at engine start in a map
// keyed by GUID, which has no order; Save and Records sort by GUID to
// give deterministic output.
type Journal struct {
	db      *sql.DB
	records map[signature.Digest]Record
	claimed map[signature.Digest]bool
}

// Open loads the ancestor journal from path, creating it if absent.
func Open(ctx context.Context, path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	escaped := strings.ReplaceAll(path, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open ancestor journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS ancestors (
	guid BLOB PRIMARY KEY,
	input_signature BLOB NOT NULL,
	result INTEGER NOT NULL,
	access_time INTEGER NOT NULL
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize ancestor schema: %w", err)
	}

	j := &Journal{db: db, records: make(map[signature.Digest]Record), claimed: make(map[signature.Digest]bool)}
	if err := j.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) load(ctx context.Context) error {
	rows, err := j.db.QueryContext(ctx, `SELECT guid, input_signature, result, access_time FROM ancestors`)
	if err != nil {
		return fmt.Errorf("load ancestor journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var guidB, sigB []byte
		var result int
		var accessUnix int64
		if err := rows.Scan(&guidB, &sigB, &result, &accessUnix); err != nil {
			return fmt.Errorf("scan ancestor record: %w", err)
		}
		var rec Record
		copy(rec.GUID[:], guidB)
		copy(rec.InputSignature[:], sigB)
		rec.Result = Result(result)
		rec.AccessTime = time.Unix(accessUnix, 0)
		if _, dup := j.records[rec.GUID]; dup {
			return fmt.Errorf("corrupt ancestor journal: duplicate GUID %s", rec.GUID)
		}
		j.records[rec.GUID] = rec
	}
	return rows.Err()
}

// Lookup returns the ancestor record for guid, and whether one exists.
// A node claiming a record it has already claimed, or one claimed by
// another node this run, is a hard error the caller must check with
// Claim before trusting the lookup across concurrent callers.
func (j *Journal) Lookup(guid signature.Digest) (Record, bool) {
	rec, ok := j.records[guid]
	return rec, ok
}

// Claim marks guid as used by a node this run. It reports false if the
// GUID was already claimed, which the engine setup phase treats as a
// fatal duplicate-claim error.
func (j *Journal) Claim(guid signature.Digest) bool {
	if j.claimed[guid] {
		return false
	}
	j.claimed[guid] = true
	return true
}

// Records returns every loaded record, sorted by GUID bytes.
func (j *Journal) Records() []Record {
	out := make([]Record, 0, len(j.records))
	for _, r := range j.records {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, k int) bool { return recs[i].GUID.Less(recs[k].GUID) })
}

// Save replaces the journal contents with visited (the records for
// every node touched this run), plus every previously-loaded record
// not in visited whose AccessTime is still within TTL. The
// write happens inside one transaction so a concurrent reader never
// observes a partial journal.
func (j *Journal) Save(ctx context.Context, visited []Record) error {
	now := time.Now()
	merged := make(map[signature.Digest]Record, len(visited)+len(j.records))
	for _, r := range visited {
		merged[r.GUID] = r
	}
	for guid, r := range j.records {
		if _, overwritten := merged[guid]; overwritten {
			continue
		}
		if now.Sub(r.AccessTime) <= TTL {
			merged[guid] = r
		}
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ancestors`); err != nil {
		return fmt.Errorf("clear ancestor journal: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ancestors (guid, input_signature, result, access_time) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare ancestor insert: %w", err)
	}
	defer stmt.Close()

	ordered := make([]Record, 0, len(merged))
	for _, r := range merged {
		ordered = append(ordered, r)
	}
	sortRecords(ordered)
	for _, r := range ordered {
		if _, err := stmt.ExecContext(ctx, r.GUID[:], r.InputSignature[:], int(r.Result), r.AccessTime.Unix()); err != nil {
			return fmt.Errorf("insert ancestor record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ancestor journal: %w", err)
	}

	j.records = merged
	return nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}
