// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns the full board schema with automatic creation and WAL mode

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single writer connection keeps concurrent component access safe.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS posts (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			ts       INTEGER NOT NULL,
			author   TEXT NOT NULL,
			body     TEXT NOT NULL,
			reply_to INTEGER REFERENCES posts(id)
		);

		CREATE INDEX IF NOT EXISTS idx_posts_reply_to ON posts(reply_to);

		CREATE TABLE IF NOT EXISTS kv (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS admins (
			id TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS blacklist (
			id TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS peers (
			id        TEXT PRIMARY KEY,
			last_seen INTEGER
		);

		CREATE TABLE IF NOT EXISTS seen_uids (
			uid TEXT PRIMARY KEY,
			ts  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS applied_uids (
			uid TEXT PRIMARY KEY,
			ts  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS rxparts (
			uid        TEXT PRIMARY KEY,
			total      INTEGER NOT NULL,
			got        INTEGER NOT NULL DEFAULT 0,
			data       TEXT NOT NULL DEFAULT '',
			from_id    TEXT NOT NULL,
			created_ts INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS dm_out (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			to_id        TEXT NOT NULL,
			body         TEXT NOT NULL,
			created_ts   INTEGER NOT NULL,
			delivered_ts INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_dm_out_pending ON dm_out(to_id, delivered_ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite constraint
// violation of any kind (UNIQUE, NOT NULL, ...), matched by message text
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreatePost inserts a post and returns its id. Pass replyTo for replies.
func (s *SQLiteStore) CreatePost(ctx context.Context, ts int64, author, body string, replyTo *int64) (int64, error) {
	var rt any
	if replyTo != nil {
		rt = *replyTo
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (ts, author, body, reply_to) VALUES (?, ?, ?, ?)`,
		ts, author, body, rt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting post: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting post id: %w", err)
	}

	s.logger.Debug("created post", "id", id, "author", author, "reply_to", replyTo)
	return id, nil
}

func scanPost(scan func(dest ...any) error) (*Post, error) {
	var p Post
	var replyTo sql.NullInt64
	if err := scan(&p.ID, &p.TS, &p.Author, &p.Body, &replyTo); err != nil {
		return nil, err
	}
	if replyTo.Valid {
		p.ReplyTo = &replyTo.Int64
	}
	return &p, nil
}

// GetPost retrieves a post by id. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetPost(ctx context.Context, id int64) (*Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts, author, body, reply_to FROM posts WHERE id = ?`, id)

	p, err := scanPost(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying post: %w", err)
	}
	return p, nil
}

// HasPost reports whether a post with the given id exists.
func (s *SQLiteStore) HasPost(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying post existence: %w", err)
	}
	return true, nil
}

// RecentPosts returns the newest top-level posts, newest first.
func (s *SQLiteStore) RecentPosts(ctx context.Context, limit int) ([]*Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, author, body, reply_to
		FROM posts
		WHERE reply_to IS NULL
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent posts: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// RecentPostIDs returns the newest post ids in ascending order, for the
// peer-sync inventory window.
func (s *SQLiteStore) RecentPostIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM (
			SELECT id FROM posts ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent post ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning post id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Replies returns the replies to a post in id order.
func (s *SQLiteStore) Replies(ctx context.Context, postID int64) ([]*Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, author, body, reply_to
		FROM posts
		WHERE reply_to = ?
		ORDER BY id ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("querying replies: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

func collectPosts(rows *sql.Rows) ([]*Post, error) {
	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetKV returns the value for a key. Returns ErrNotFound for unknown keys.
func (s *SQLiteStore) GetKV(ctx context.Context, k string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, k).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying kv: %w", err)
	}
	return v, nil
}

// SetKV upserts a key/value pair.
func (s *SQLiteStore) SetKV(ctx context.Context, k, v string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v
	`, k, v)
	if err != nil {
		return fmt.Errorf("setting kv: %w", err)
	}
	return nil
}

// DeleteKV removes a key. Deleting an absent key is not an error.
func (s *SQLiteStore) DeleteKV(ctx context.Context, k string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, k); err != nil {
		return fmt.Errorf("deleting kv: %w", err)
	}
	return nil
}

// addID inserts into a single-column id set, idempotently.
func (s *SQLiteStore) addID(ctx context.Context, table, id string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (id) VALUES (?)`, table), id)
	if err != nil && !isConstraintViolation(err) {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

// removeID deletes from a single-column id set, idempotently.
func (s *SQLiteStore) removeID(ctx context.Context, table, id string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}

// listIDs returns a sorted id set.
func (s *SQLiteStore) listIDs(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, table))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// containsID reports set membership.
func (s *SQLiteStore) containsID(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, table), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying %s membership: %w", table, err)
	}
	return true, nil
}

func (s *SQLiteStore) AddAdmin(ctx context.Context, id string) error {
	return s.addID(ctx, "admins", id)
}

func (s *SQLiteStore) RemoveAdmin(ctx context.Context, id string) error {
	return s.removeID(ctx, "admins", id)
}

func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, "admins")
}

func (s *SQLiteStore) IsAdmin(ctx context.Context, id string) (bool, error) {
	return s.containsID(ctx, "admins", id)
}

func (s *SQLiteStore) AddBlacklist(ctx context.Context, id string) error {
	return s.addID(ctx, "blacklist", id)
}

func (s *SQLiteStore) RemoveBlacklist(ctx context.Context, id string) error {
	return s.removeID(ctx, "blacklist", id)
}

func (s *SQLiteStore) ListBlacklist(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, "blacklist")
}

func (s *SQLiteStore) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	return s.containsID(ctx, "blacklist", id)
}

// AddPeer registers a peer gateway, idempotently.
func (s *SQLiteStore) AddPeer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO peers (id) VALUES (?)`, id)
	if err != nil && !isConstraintViolation(err) {
		return fmt.Errorf("inserting peer: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemovePeer(ctx context.Context, id string) error {
	return s.removeID(ctx, "peers", id)
}

// ListPeers returns all peers in id order.
func (s *SQLiteStore) ListPeers(ctx context.Context) ([]*Peer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, last_seen FROM peers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying peers: %w", err)
	}
	defer rows.Close()

	var peers []*Peer
	for rows.Next() {
		var p Peer
		var lastSeen sql.NullInt64
		if err := rows.Scan(&p.ID, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning peer row: %w", err)
		}
		if lastSeen.Valid {
			p.LastSeen = &lastSeen.Int64
		}
		peers = append(peers, &p)
	}
	return peers, rows.Err()
}

func (s *SQLiteStore) IsPeer(ctx context.Context, id string) (bool, error) {
	return s.containsID(ctx, "peers", id)
}

// TouchPeer updates a peer's last_seen timestamp.
func (s *SQLiteStore) TouchPeer(ctx context.Context, id string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE peers SET last_seen = ? WHERE id = ?`, ts, id)
	if err != nil {
		return fmt.Errorf("touching peer: %w", err)
	}
	return nil
}

// MarkSeenUID records the start of a peer-sync transfer, idempotently.
func (s *SQLiteStore) MarkSeenUID(ctx context.Context, uid string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_uids (uid, ts) VALUES (?, ?)`, uid, ts)
	if err != nil && !isConstraintViolation(err) {
		return fmt.Errorf("marking seen uid: %w", err)
	}
	return nil
}

// MarkAppliedUID records that a transfer body was applied, idempotently.
// AppliedUID is the authoritative dedup set for replication.
func (s *SQLiteStore) MarkAppliedUID(ctx context.Context, uid string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO applied_uids (uid, ts) VALUES (?, ?)`, uid, ts)
	if err != nil && !isConstraintViolation(err) {
		return fmt.Errorf("marking applied uid: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsAppliedUID(ctx context.Context, uid string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM applied_uids WHERE uid = ?`, uid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying applied uid: %w", err)
	}
	return true, nil
}

// CreateRxParts opens a reassembly buffer. A duplicate POST header is an
// idempotent no-op.
func (s *SQLiteStore) CreateRxParts(ctx context.Context, uid string, total int, fromID string, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rxparts (uid, total, got, data, from_id, created_ts)
		VALUES (?, ?, 0, '', ?, ?)
	`, uid, total, fromID, ts)
	if err != nil && !isConstraintViolation(err) {
		return fmt.Errorf("creating rxparts: %w", err)
	}
	return nil
}

// AppendRxPart appends a chunk in arrival order and refreshes the
// expected total, tolerating a lost POST header's count.
func (s *SQLiteStore) AppendRxPart(ctx context.Context, uid, chunk string, total int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rxparts SET data = data || ?, got = got + 1, total = ?
		WHERE uid = ?
	`, chunk, total, uid)
	if err != nil {
		return fmt.Errorf("appending rx part: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRxParts(ctx context.Context, uid string) (*RxParts, error) {
	var r RxParts
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, total, got, data, from_id, created_ts
		FROM rxparts WHERE uid = ?
	`, uid).Scan(&r.UID, &r.Total, &r.Got, &r.Data, &r.FromID, &r.CreatedTS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying rxparts: %w", err)
	}
	return &r, nil
}

// DeleteRxParts drops a reassembly buffer. Absent rows are not an error.
func (s *SQLiteStore) DeleteRxParts(ctx context.Context, uid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rxparts WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("deleting rxparts: %w", err)
	}
	return nil
}

// PruneRxParts garbage-collects buffers created before olderThan.
func (s *SQLiteStore) PruneRxParts(ctx context.Context, olderThan int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM rxparts WHERE created_ts < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning rxparts: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if pruned > 0 {
		s.logger.Debug("pruned stale rxparts", "count", pruned)
	}
	return pruned, nil
}

// EnqueueDM inserts a store-and-forward row and returns its id.
func (s *SQLiteStore) EnqueueDM(ctx context.Context, toID, body string, ts int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO dm_out (to_id, body, created_ts) VALUES (?, ?, ?)
	`, toID, body, ts)
	if err != nil {
		return 0, fmt.Errorf("enqueueing dm: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting dm id: %w", err)
	}
	s.logger.Debug("queued dm", "id", id, "to", toID)
	return id, nil
}

// PendingDMs returns up to limit undelivered rows for a recipient in id
// order. Rows created before minCreatedTS are treated as expired and
// excluded; pass 0 to disable the cutoff.
func (s *SQLiteStore) PendingDMs(ctx context.Context, toID string, limit int, minCreatedTS int64) ([]*DM, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, to_id, body, created_ts, delivered_ts
		FROM dm_out
		WHERE to_id = ? AND delivered_ts IS NULL AND created_ts >= ?
		ORDER BY id ASC
		LIMIT ?
	`, toID, minCreatedTS, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending dms: %w", err)
	}
	defer rows.Close()

	var dms []*DM
	for rows.Next() {
		var d DM
		var delivered sql.NullInt64
		if err := rows.Scan(&d.ID, &d.ToID, &d.Body, &d.CreatedTS, &delivered); err != nil {
			return nil, fmt.Errorf("scanning dm row: %w", err)
		}
		if delivered.Valid {
			d.DeliveredTS = &delivered.Int64
		}
		dms = append(dms, &d)
	}
	return dms, rows.Err()
}

// MarkDMDelivered stamps a row delivered. Already-delivered rows are left
// untouched so the first delivery time survives.
func (s *SQLiteStore) MarkDMDelivered(ctx context.Context, id, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dm_out SET delivered_ts = ? WHERE id = ? AND delivered_ts IS NULL
	`, ts, id)
	if err != nil {
		return fmt.Errorf("marking dm delivered: %w", err)
	}
	return nil
}

// Counts summarizes table sizes for the health report.
func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
	var c Counts
	queries := []struct {
		dst   *int
		query string
	}{
		{&c.Posts, `SELECT COUNT(*) FROM posts`},
		{&c.Admins, `SELECT COUNT(*) FROM admins`},
		{&c.Blacklist, `SELECT COUNT(*) FROM blacklist`},
		{&c.Peers, `SELECT COUNT(*) FROM peers`},
		{&c.SeenUIDs, `SELECT COUNT(*) FROM seen_uids`},
		{&c.AppliedUIDs, `SELECT COUNT(*) FROM applied_uids`},
		{&c.RxParts, `SELECT COUNT(*) FROM rxparts`},
		{&c.PendingDMs, `SELECT COUNT(*) FROM dm_out WHERE delivered_ts IS NULL`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, fmt.Errorf("counting: %w", err)
		}
	}
	return &c, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
