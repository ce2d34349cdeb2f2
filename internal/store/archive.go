package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Archive is the unbounded pulse history. The JSON summary files are capped
// to bound their size, so the full healing/emotion/autonomy history is
// archived here instead.
type Archive struct {
	*sql.DB
	Path string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Pulse kinds stored in the archive.
const (
	PulseHealing  = "healing"
	PulseEmotion  = "emotion"
	PulseAutonomy = "autonomy"
)

// ArchivedPulse is one archived cycle record.
type ArchivedPulse struct {
	ID      string
	Kind    string
	TS      string
	Payload json.RawMessage
}

// OpenArchive opens (or creates) the archive database at the given path,
// configures pragmas, and runs migrations.
func OpenArchive(path string) (*Archive, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newArchive(sqlDB, path)
}

// OpenArchiveMemory opens an in-memory archive for testing.
func OpenArchiveMemory() (*Archive, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return newArchive(sqlDB, ":memory:")
}

func newArchive(sqlDB *sql.DB, path string) (*Archive, error) {
	a := &Archive{
		DB:      sqlDB,
		Path:    path,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := a.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := a.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return a, nil
}

func (a *Archive) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := a.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "pulses: full history of per-cycle subsystem records",
		SQL: `
CREATE TABLE pulses (
    id       TEXT PRIMARY KEY,
    kind     TEXT NOT NULL CHECK (kind IN ('healing', 'emotion', 'autonomy')),
    ts       TEXT NOT NULL,
    payload  TEXT NOT NULL
);

CREATE INDEX idx_pulses_kind ON pulses(kind, id DESC);
`,
	},
}

func (a *Archive) migrate() error {
	_, err := a.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := a.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := a.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (a *Archive) newID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), a.entropy).String()
}

// Append stores one pulse. The payload is marshaled to JSON; the returned
// id is a ULID, so ids sort in insertion order.
func (a *Archive) Append(kind, ts string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s pulse: %w", kind, err)
	}
	id := a.newID()
	_, err = a.Exec(
		"INSERT INTO pulses (id, kind, ts, payload) VALUES (?, ?, ?, ?)",
		id, kind, ts, string(data),
	)
	if err != nil {
		return "", fmt.Errorf("insert %s pulse: %w", kind, err)
	}
	return id, nil
}

// Recent returns the most recent n pulses of a kind, newest first.
func (a *Archive) Recent(kind string, n int) ([]ArchivedPulse, error) {
	rows, err := a.Query(
		"SELECT id, kind, ts, payload FROM pulses WHERE kind = ? ORDER BY id DESC LIMIT ?",
		kind, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s pulses: %w", kind, err)
	}
	defer rows.Close()

	var out []ArchivedPulse
	for rows.Next() {
		var p ArchivedPulse
		var payload string
		if err := rows.Scan(&p.ID, &p.Kind, &p.TS, &payload); err != nil {
			return nil, fmt.Errorf("scan pulse: %w", err)
		}
		p.Payload = json.RawMessage(payload)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count returns the number of archived pulses of a kind.
func (a *Archive) Count(kind string) (int, error) {
	var n int
	err := a.QueryRow("SELECT COUNT(*) FROM pulses WHERE kind = ?", kind).Scan(&n)
	return n, err
}
