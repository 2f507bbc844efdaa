// Package relcache implements the relation cache: a persisted
// memoization of (file, salt) -> related files, used to skip scanner
// invocations across runs when the source file is unchanged.
//
// Grounded on src/relcache.c in original_source/, which defines a
// magic-versioned binary format keyed by (file-hash XOR salt). As with
// internal/journal, the byte-level framing is traded for a
// modernc.org/sqlite table in the teacher's persistence idiom; the
// freshness/staleness semantics (insert with the captured
// signature, verify lazily at query time, skip stale entries on save)
// are preserved exactly.
package relcache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tundra-build/tundra/internal/signature"
)

// TTL is how long an entry survives an unrefreshed save.
const TTL = 7 * 24 * time.Hour

type key struct {
	path string
	salt string
}

type entry struct {
	signature  signature.Digest
	related    []string
	capturedAt time.Time
}

// Cache is the process-wide relation-cache table.
type Cache struct {
	db      *sql.DB
	entries map[key]entry
}

// Open loads the relation cache from path, creating it if absent.
func Open(ctx context.Context, path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create relcache directory: %w", err)
		}
	}
	escaped := strings.ReplaceAll(path, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open relation cache: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS relations (
	path TEXT NOT NULL,
	salt TEXT NOT NULL,
	signature BLOB NOT NULL,
	related TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	PRIMARY KEY (path, salt)
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize relation schema: %w", err)
	}

	c := &Cache{db: db, entries: make(map[key]entry)}
	if err := c.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) load(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `SELECT path, salt, signature, related, captured_at FROM relations`)
	if err != nil {
		return fmt.Errorf("load relation cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p, salt, related string
		var sigB []byte
		var capturedUnix int64
		if err := rows.Scan(&p, &salt, &sigB, &related, &capturedUnix); err != nil {
			return fmt.Errorf("scan relation entry: %w", err)
		}
		var sig signature.Digest
		copy(sig[:], sigB)
		var list []string
		if related != "" {
			list = strings.Split(related, "\x00")
		}
		// Entries are inserted with the captured signature, not
		// re-verified here — staleness is discarded lazily at Get
		// time.
		c.entries[key{p, salt}] = entry{signature: sig, related: list, capturedAt: time.Unix(capturedUnix, 0)}
	}
	return rows.Err()
}

// Get returns the cached related-files list for (path, salt) if the
// stored capture signature equals currentSig; otherwise it returns
// (nil, false), since a signature mismatch means the cached scan
// result can no longer be trusted ("relation-cache
// freshness").
func (c *Cache) Get(path, salt string, currentSig signature.Digest) ([]string, bool) {
	e, ok := c.entries[key{path, salt}]
	if !ok || e.signature != currentSig {
		return nil, false
	}
	out := make([]string, len(e.related))
	copy(out, e.related)
	return out, true
}

// Set overwrites or inserts the relation-cache entry for (path, salt).
func (c *Cache) Set(path, salt string, related []string, currentSig signature.Digest) {
	out := make([]string, len(related))
	copy(out, related)
	c.entries[key{path, salt}] = entry{signature: currentSig, related: out, capturedAt: time.Now()}
}

// Save persists every entry captured within TTL, dropping the rest
// (entries with timestamp+TTL <= now are skipped).
func (c *Cache) Save(ctx context.Context) error {
	now := time.Now()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin relcache save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relations`); err != nil {
		return fmt.Errorf("clear relation cache: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO relations (path, salt, signature, related, captured_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare relation insert: %w", err)
	}
	defer stmt.Close()

	for k, e := range c.entries {
		if !e.capturedAt.Add(TTL).After(now) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, k.path, k.salt, e.signature[:], strings.Join(e.related, "\x00"), e.capturedAt.Unix()); err != nil {
			return fmt.Errorf("insert relation entry: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
