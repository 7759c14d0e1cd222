package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/store"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// lookupBatch bounds the number of ids per IN (...) query.
const lookupBatch = 500

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled and creates the
// schema if needed.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist. first_seen holds the
// DD_MM_YY day name, first_seen_on the same day as YYYY-MM-DD so it orders.
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sightings (
	id TEXT PRIMARY KEY,
	first_seen TEXT NOT NULL,
	first_seen_on TEXT NOT NULL,
	title TEXT,
	image_url TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sightings_day ON sightings(first_seen_on);

CREATE TABLE IF NOT EXISTS enrichment (
	id TEXT NOT NULL,
	day TEXT NOT NULL,
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (id, day)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_day ON enrichment(day);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Lookup returns the stored sighting for each known id.
func (s *sqliteStore) Lookup(ctx context.Context, ids []string) (map[string]story.Sighting, error) {
	out := make(map[string]story.Sighting, len(ids))
	for start := 0; start < len(ids); start += lookupBatch {
		end := start + lookupBatch
		if end > len(ids) {
			end = len(ids)
		}

		query, args, err := sq.Select("id", "first_seen", "title", "image_url").
			From("sightings").
			Where(sq.Eq{"id": ids[start:end]}).
			ToSql()
		if err != nil {
			return nil, err
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: lookup sightings: %v", internalerr.ErrStoreUnavailable, err)
		}
		for rows.Next() {
			var sg story.Sighting
			var title sql.NullString
			if err := rows.Scan(&sg.ID, &sg.Day, &title, &sg.ImageURL); err != nil {
				rows.Close()
				return nil, err
			}
			sg.Title = title.String
			out[sg.ID] = sg
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// RecordSightings inserts new ids and moves existing ones to an earlier day
// when the new sighting predates the stored one.
func (s *sqliteStore) RecordSightings(ctx context.Context, sightings []story.Sighting) error {
	if len(sightings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, sg := range sightings {
		date, err := story.ParseDay(sg.Day)
		if err != nil {
			return fmt.Errorf("%w: sighting %s: %v", internalerr.ErrInvalidInput, sg.ID, err)
		}

		query, args, err := sq.Insert("sightings").
			Columns("id", "first_seen", "first_seen_on", "title", "image_url", "recorded_at").
			Values(sg.ID, sg.Day, date.Format("2006-01-02"), sg.Title, sg.ImageURL, now).
			Suffix(`ON CONFLICT(id) DO UPDATE SET
	first_seen=excluded.first_seen,
	first_seen_on=excluded.first_seen_on,
	title=excluded.title,
	image_url=CASE WHEN excluded.image_url != '' THEN excluded.image_url ELSE sightings.image_url END,
	recorded_at=excluded.recorded_at
WHERE excluded.first_seen_on < sightings.first_seen_on`).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("record sighting %s: %w", sg.ID, err)
		}
	}
	return tx.Commit()
}

// SetImage records the image of id when it was first seen on day.
func (s *sqliteStore) SetImage(ctx context.Context, id, day, imageURL string) error {
	query, args, err := sq.Update("sightings").
		Set("image_url", imageURL).
		Where(sq.Eq{"id": id, "first_seen": day}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// CountSightings returns the number of known ids.
func (s *sqliteStore) CountSightings(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sightings").Scan(&n)
	return n, err
}

// UpsertEnrichment stores the latest state of a record.
func (s *sqliteStore) UpsertEnrichment(ctx context.Context, e store.Enrichment) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	query, args, err := sq.Insert("enrichment").
		Columns("id", "day", "state", "attempts", "last_error", "image_url", "updated_at").
		Values(e.ID, e.Day, e.State, e.Attempts, e.LastError, e.ImageURL, e.UpdatedAt.UTC().Format(time.RFC3339Nano)).
		Suffix(`ON CONFLICT(id, day) DO UPDATE SET
	state=excluded.state,
	attempts=excluded.attempts,
	last_error=excluded.last_error,
	image_url=excluded.image_url,
	updated_at=excluded.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert enrichment %s: %w", e.ID, err)
	}
	return nil
}

var enrichmentColumns = []string{"id", "day", "state", "attempts", "last_error", "image_url", "updated_at"}

// ListEnrichment returns the states recorded for day, ordered by id. An empty
// day lists everything, ordered by id then day.
func (s *sqliteStore) ListEnrichment(ctx context.Context, day string) ([]store.Enrichment, error) {
	b := sq.Select(enrichmentColumns...).From("enrichment").OrderBy("id", "day")
	if day != "" {
		b = b.Where(sq.Eq{"day": day})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list enrichment: %v", internalerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []store.Enrichment
	for rows.Next() {
		e, err := scanEnrichment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrichment(row scanner) (store.Enrichment, error) {
	var e store.Enrichment
	var updated string
	if err := row.Scan(&e.ID, &e.Day, &e.State, &e.Attempts, &e.LastError, &e.ImageURL, &updated); err != nil {
		return store.Enrichment{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		e.UpdatedAt = t
	}
	return e, nil
}
