package personality

import (
	"context"
	"database/sql"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store persists trait vectors across runs, keyed by profile name.
// The backing database is a single SQLite file, so `run` today and
// `exec` tomorrow see the same personality.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed creates) the profile database at path.
// Use ":memory:" for an ephemeral store in tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open personality store %s", path)
	}
	schema := `
CREATE TABLE IF NOT EXISTS traits (
	profile TEXT NOT NULL,
	trait   TEXT NOT NULL,
	value   REAL NOT NULL,
	PRIMARY KEY (profile, trait)
);
CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	profile   TEXT NOT NULL,
	ts        TEXT NOT NULL,
	trait     TEXT NOT NULL,
	old_value REAL NOT NULL,
	new_value REAL NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "initialize personality schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save upserts the engine's current trait vector under profile, and
// flushes its buffered history events into the event log. The events
// only leave the buffer once the transaction commits; a failed save
// keeps them queued for the next attempt.
func (s *Store) Save(ctx context.Context, profile string, e *Engine) (err error) {
	events := e.History()
	defer func() {
		if err != nil {
			e.requeueHistory(events)
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "begin save")
	}
	defer tx.Rollback()

	snap := e.Snapshot()
	for _, t := range Traits {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO traits (profile, trait, value) VALUES (?, ?, ?)
			 ON CONFLICT (profile, trait) DO UPDATE SET value = excluded.value`,
			profile, string(t), snap[t])
		if err != nil {
			return pkgerrors.Wrapf(err, "save trait %s", t)
		}
	}
	for _, ev := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO events (id, profile, ts, trait, old_value, new_value)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, profile, ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			string(ev.Trait), ev.Old, ev.New)
		if err != nil {
			return pkgerrors.Wrap(err, "save history event")
		}
	}
	return pkgerrors.Wrap(tx.Commit(), "commit save")
}

// Load restores a profile's trait vector into the engine. A profile
// that was never saved leaves the engine untouched and returns false.
func (s *Store) Load(ctx context.Context, profile string, e *Engine) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trait, value FROM traits WHERE profile = ?`, profile)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "load profile %s", profile)
	}
	defer rows.Close()

	vec := TraitVector{}
	for rows.Next() {
		var trait string
		var value float64
		if err := rows.Scan(&trait, &value); err != nil {
			return false, pkgerrors.Wrap(err, "scan trait row")
		}
		vec[Trait(trait)] = value
	}
	if err := rows.Err(); err != nil {
		return false, pkgerrors.Wrap(err, "iterate trait rows")
	}
	if len(vec) == 0 {
		return false, nil
	}
	e.Restore(vec)
	return true, nil
}
