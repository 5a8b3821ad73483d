package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bskycrawler/pkg/bluesky"
	"bskycrawler/pkg/logger"
)

// SQLiteSink upserts records into a SQLite database. Rows remember the last run that saw them.
type SQLiteSink struct {
	db     *sql.DB
	runID  string
	logger logger.Logger
}

// NewSQLiteSink opens (or creates) the database at dbPath
func NewSQLiteSink(dbPath, runID string, log logger.Logger) (*SQLiteSink, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The engine writes from many workers; SQLite takes one writer at a time.
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db, runID: runID, logger: log.WithField("component", "sqlite_sink")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		uri TEXT PRIMARY KEY,
		cid TEXT NOT NULL,
		author_did TEXT NOT NULL,
		created TEXT NOT NULL,
		indexed TEXT NOT NULL,
		reply_count INTEGER NOT NULL,
		repost_count INTEGER NOT NULL,
		like_count INTEGER NOT NULL,
		quote_count INTEGER NOT NULL,
		text TEXT NOT NULL,
		langs TEXT,
		reply_parent TEXT,
		reply_root TEXT,
		run_id TEXT NOT NULL,
		crawled_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		did TEXT PRIMARY KEY,
		handle TEXT NOT NULL,
		created TEXT NOT NULL,
		avatar TEXT,
		description TEXT,
		display_name TEXT,
		indexed TEXT,
		posts_count INTEGER NOT NULL,
		followers_count INTEGER NOT NULL,
		follows_count INTEGER NOT NULL,
		run_id TEXT NOT NULL,
		crawled_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_did);
	CREATE INDEX IF NOT EXISTS idx_posts_run ON posts(run_id);
	CREATE INDEX IF NOT EXISTS idx_users_run ON users(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteSink) WritePosts(ctx context.Context, posts []bluesky.PostRecord) error {
	if len(posts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (uri, cid, author_did, created, indexed,
			reply_count, repost_count, like_count, quote_count,
			text, langs, reply_parent, reply_root, run_id, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			reply_count = excluded.reply_count,
			repost_count = excluded.repost_count,
			like_count = excluded.like_count,
			quote_count = excluded.quote_count,
			run_id = excluded.run_id,
			crawled_at = excluded.crawled_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range posts {
		if _, err := stmt.ExecContext(ctx, p.URI, p.CID, p.AuthorDID, p.CreatedAt, p.IndexedAt,
			p.ReplyCount, p.RepostCount, p.LikeCount, p.QuoteCount,
			p.Text, p.Langs, p.ReplyParent, p.ReplyRoot, s.runID, now); err != nil {
			return fmt.Errorf("failed to save post %s: %w", p.URI, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSink) WriteProfile(ctx context.Context, p bluesky.ProfileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (did, handle, created, avatar, description, display_name, indexed,
			posts_count, followers_count, follows_count, run_id, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			handle = excluded.handle,
			avatar = excluded.avatar,
			description = excluded.description,
			display_name = excluded.display_name,
			indexed = excluded.indexed,
			posts_count = excluded.posts_count,
			followers_count = excluded.followers_count,
			follows_count = excluded.follows_count,
			run_id = excluded.run_id,
			crawled_at = excluded.crawled_at
	`, p.DID, p.Handle, p.CreatedAt, p.Avatar, p.Description, p.DisplayName, p.IndexedAt,
		p.PostsCount, p.FollowersCount, p.FollowsCount, s.runID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.DID, err)
	}
	return nil
}

// CountRun returns how many posts and users were last seen by runID
func (s *SQLiteSink) CountRun(ctx context.Context, runID string) (posts, users int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE run_id = ?`, runID).Scan(&posts); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE run_id = ?`, runID).Scan(&users); err != nil {
		return 0, 0, err
	}
	return posts, users, nil
}

// Close closes the database
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
