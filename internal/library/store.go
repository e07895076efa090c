// Package library is the local media library: a DuckDB index of media
// files, the scanner and watcher that fill it, and synthetic profiles for
// seeding test libraries. A Store is a timeline.Source.
package library

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/wethinkt/go-timegrid/internal/config"
	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// ErrNotFound is returned when an item does not exist.
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schemaSQL string

// DefaultPath returns the default library location, ~/.timegrid/library.duckdb.
func DefaultPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "library.duckdb"), nil
}

// Record is an indexed media file.
type Record struct {
	timeline.Item
	Size int64
}

// Stats summarizes the library.
type Stats struct {
	Items   int
	Buckets int
	Bytes   int64
	Oldest  time.Time
	Newest  time.Time
}

// Store wraps the DuckDB connection.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open initializes or opens a library at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create library directory: %w", err)
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := harden(db); err != nil {
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// OpenReadOnly opens an existing library without write access. DuckDB does
// not allow it while another process holds the library open for writing.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=READ_ONLY")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb (read-only): %w", err)
	}
	if err := harden(db); err != nil {
		return nil, err
	}
	return &Store{db: db, path: path, readOnly: true}, nil
}

// harden disables file and network access from SQL.
func harden(db *sql.DB) error {
	if _, err := db.Exec("SET enable_external_access=false"); err != nil {
		db.Close()
		return fmt.Errorf("failed to set security settings: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// filterClause builds the WHERE conditions shared by listing and fetching.
func filterClause(f timeline.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.MediaType != "" {
		conds = append(conds, "lower(i.media_type) = lower(?)")
		args = append(args, f.MediaType)
	}
	if f.Album != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM album_items a WHERE a.item_id = i.id AND a.album = ?)")
		args = append(args, f.Album)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

// ListBuckets returns every non-empty day, newest first.
func (s *Store) ListBuckets(ctx context.Context, f timeline.Filter) ([]timeline.Bucket, error) {
	where, args := filterClause(f)
	rows, err := s.db.QueryContext(ctx,
		"SELECT i.day, count(*) FROM items i WHERE 1=1"+where+" GROUP BY i.day ORDER BY i.day DESC", args...)
	if err != nil {
		return nil, wrapQueryErr(ctx, err)
	}
	defer rows.Close()

	buckets := []timeline.Bucket{}
	for rows.Next() {
		var b timeline.Bucket
		var day string
		if err := rows.Scan(&day, &b.Count); err != nil {
			return nil, fmt.Errorf("%w: %v", timeline.ErrMalformedResponse, err)
		}
		b.Key = timeline.BucketKey(day)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr(ctx, err)
	}
	return buckets, nil
}

// FetchBucketItems returns the items of one day, newest first.
func (s *Store) FetchBucketItems(ctx context.Context, key timeline.BucketKey, f timeline.Filter) ([]timeline.Item, error) {
	key = timeline.NormalizeKey(string(key))
	where, args := filterClause(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.path, i.taken_at, i.media_type, i.width, i.height, i.color
		 FROM items i WHERE i.day = ?`+where+` ORDER BY i.taken_at DESC, i.id`,
		append([]any{string(key)}, args...)...)
	if err != nil {
		return nil, wrapQueryErr(ctx, err)
	}
	defer rows.Close()

	items := []timeline.Item{}
	for rows.Next() {
		it := timeline.Item{Bucket: key}
		if err := rows.Scan(&it.ID, &it.Path, &it.TakenAt, &it.MediaType, &it.Width, &it.Height, &it.Color); err != nil {
			return nil, fmt.Errorf("%w: %v", timeline.ErrMalformedResponse, err)
		}
		it.TakenAt = it.TakenAt.UTC()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr(ctx, err)
	}
	return items, nil
}

func wrapQueryErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", timeline.ErrFetchCancelled, err)
	}
	return fmt.Errorf("%w: %v", timeline.ErrFetchFailed, err)
}

// Upsert inserts or updates records in one transaction and returns the
// distinct bucket keys touched.
func (s *Store) Upsert(ctx context.Context, recs []Record) ([]timeline.BucketKey, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (id, path, taken_at, day, media_type, width, height, size, color, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, current_timestamp)
		ON CONFLICT (id) DO UPDATE SET
			path = excluded.path,
			taken_at = excluded.taken_at,
			day = excluded.day,
			media_type = excluded.media_type,
			width = excluded.width,
			height = excluded.height,
			size = excluded.size,
			color = excluded.color,
			indexed_at = current_timestamp`)
	if err != nil {
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	// an item moving to a new day changes its old bucket too
	old := make(map[string]string)
	for _, r := range recs {
		var day string
		err := tx.QueryRowContext(ctx, "SELECT day FROM items WHERE id = ?", r.ID).Scan(&day)
		if err == nil {
			old[r.ID] = day
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lookup %s: %w", r.ID, err)
		}
	}

	touched := newKeySet()
	for _, r := range recs {
		taken := r.TakenAt.UTC()
		day := timeline.KeyOf(taken)
		if _, err := stmt.ExecContext(ctx, r.ID, r.Path, taken, string(day), r.MediaType,
			r.Width, r.Height, r.Size, r.Color); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", r.ID, err)
		}
		touched.add(day)
		if d, ok := old[r.ID]; ok {
			touched.add(timeline.BucketKey(d))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return touched.keys(), nil
}

// DeletePath removes every item indexed from path and returns the bucket
// keys that changed.
func (s *Store) DeletePath(ctx context.Context, path string) ([]timeline.BucketKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, day FROM items WHERE path = ?", path)
	if err != nil {
		return nil, fmt.Errorf("lookup path: %w", err)
	}
	var ids []string
	touched := newKeySet()
	for rows.Next() {
		var id, day string
		if err := rows.Scan(&id, &day); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		touched.add(timeline.BucketKey(day))
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.Delete(ctx, ids...); err != nil {
		return nil, err
	}
	return touched.keys(), nil
}

// Delete removes items and their album memberships.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM album_items WHERE item_id = ?", id); err != nil {
			return fmt.Errorf("delete memberships %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// AddToAlbum adds items to an album.
func (s *Store) AddToAlbum(ctx context.Context, album string, ids ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO album_items (album, item_id) VALUES (?, ?) ON CONFLICT DO NOTHING", album, id); err != nil {
			return fmt.Errorf("add %s to %s: %w", id, album, err)
		}
	}
	return tx.Commit()
}

// Albums returns album names with their item counts.
func (s *Store) Albums(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT album, count(*) FROM album_items GROUP BY album")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// Get returns one item by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var r Record
	var day string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, path, taken_at, day, media_type, width, height, size, color FROM items WHERE id = ?", id).
		Scan(&r.ID, &r.Path, &r.TakenAt, &day, &r.MediaType, &r.Width, &r.Height, &r.Size, &r.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	r.Bucket = timeline.BucketKey(day)
	r.TakenAt = r.TakenAt.UTC()
	return r, nil
}

// ModTimes returns the indexed_at time of every indexed path, for
// incremental rescans.
func (s *Store) ModTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, max(indexed_at) FROM items GROUP BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var p string
		var t time.Time
		if err := rows.Scan(&p, &t); err != nil {
			return nil, err
		}
		out[p] = t
	}
	return out, rows.Err()
}

// Stats returns library totals.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*), count(DISTINCT day), CAST(coalesce(sum(size), 0) AS BIGINT), min(taken_at), max(taken_at) FROM items").
		Scan(&st.Items, &st.Buckets, &st.Bytes, &oldest, &newest)
	if err != nil {
		return Stats{}, err
	}
	if oldest.Valid {
		st.Oldest = oldest.Time.UTC()
	}
	if newest.Valid {
		st.Newest = newest.Time.UTC()
	}
	return st, nil
}

type keySet struct {
	seen  map[timeline.BucketKey]bool
	order []timeline.BucketKey
}

func newKeySet() *keySet { return &keySet{seen: make(map[timeline.BucketKey]bool)} }

func (k *keySet) add(key timeline.BucketKey) {
	if !k.seen[key] {
		k.seen[key] = true
		k.order = append(k.order, key)
	}
}

func (k *keySet) keys() []timeline.BucketKey { return k.order }
