package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"forum-throttle/forum/domain"
)

// ---- subs e metadados ----

func (s *Store) CreateSub(ctx context.Context, name, title string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("sub name is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create sub: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO sub (name, title) VALUES (?, ?)`, name, title)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("create sub: %w", err)
	}
	sid, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create sub: %w", err)
	}
	created := s.now().UTC().Format("2006-01-02 15:04:05")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sub_metadata (sid, key, value) VALUES (?, 'creation', ?)`, sid, created,
	); err != nil {
		return 0, fmt.Errorf("create sub metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create sub: %w", err)
	}
	return sid, nil
}

func (s *Store) SubByName(ctx context.Context, name string) (*domain.Sub, error) {
	sub := &domain.Sub{}
	err := s.db.QueryRowContext(ctx,
		`SELECT sid, name, title FROM sub WHERE name = ? COLLATE NOCASE`, name,
	).Scan(&sub.SID, &sub.Name, &sub.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sub %q: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get sub: %w", err)
	}
	return sub, nil
}

func (s *Store) SetSubMetadata(ctx context.Context, sid int64, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sub_metadata (sid, key, value) VALUES (?, ?, ?)`, sid, key, value)
	if err != nil {
		return fmt.Errorf("set sub metadata: %w", err)
	}
	return nil
}

// SubMetadata devolve o primeiro valor de key para o sub; ok=false se não existe.
func (s *Store) SubMetadata(ctx context.Context, sid int64, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sub_metadata WHERE sid = ? AND key = ? ORDER BY xid LIMIT 1`, sid, key,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get sub metadata: %w", err)
	}
	return v, true, nil
}

func (s *Store) SetSiteMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO site_metadata (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set site metadata: %w", err)
	}
	return nil
}

func (s *Store) SiteMetadata(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM site_metadata WHERE key = ? ORDER BY xid LIMIT 1`, key,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get site metadata: %w", err)
	}
	return v, true, nil
}

// SiteMetadataAll devolve todos os valores de key, na ordem de inserção.
func (s *Store) SiteMetadataAll(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM site_metadata WHERE key = ? ORDER BY xid`, key)
	if err != nil {
		return nil, fmt.Errorf("list site metadata: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan site metadata: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list site metadata: %w", err)
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, sid, uid int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sub_subscriber (sid, uid, status) VALUES (?, ?, 1)
ON CONFLICT (sid, uid) DO UPDATE SET status = 1`, sid, uid)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (s *Store) SubscriberCount(ctx context.Context, sid int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sub_subscriber WHERE sid = ? AND status = 1`, sid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}

func (s *Store) SubPostCount(ctx context.Context, sid int64) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sub_post WHERE sid = ?`, sid).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sub posts: %w", err)
	}
	return n, nil
}

// ---- posts e comentários ----

func (s *Store) CreatePost(ctx context.Context, sid, uid int64, title, content string) (int64, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, fmt.Errorf("post title is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sub_post (sid, uid, title, content, posted) VALUES (?, ?, ?, ?, ?)`,
		sid, uid, title, content, toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("create post: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) Post(ctx context.Context, pid int64) (*domain.Post, error) {
	p := &domain.Post{}
	var posted int64
	err := s.db.QueryRowContext(ctx,
		`SELECT pid, sid, uid, title, content, posted FROM sub_post WHERE pid = ?`, pid,
	).Scan(&p.PID, &p.SID, &p.UID, &p.Title, &p.Content, &posted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post %d: %w", pid, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	p.Posted = fromMillis(posted)
	return p, nil
}

func (s *Store) CreateComment(ctx context.Context, pid, uid int64, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sub_post_comment (pid, uid, content, score, posted) VALUES (?, ?, ?, 0, ?)`,
		pid, uid, content, toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("create comment: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) Comment(ctx context.Context, cid int64) (*domain.Comment, error) {
	c := &domain.Comment{}
	var posted int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cid, pid, uid, content, score, posted FROM sub_post_comment WHERE cid = ?`, cid,
	).Scan(&c.CID, &c.PID, &c.UID, &c.Content, &c.Score, &posted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("comment %d: %w", cid, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	c.Posted = fromMillis(posted)
	return c, nil
}

func (s *Store) CommentScore(ctx context.Context, cid int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT score FROM sub_post_comment WHERE cid = ?`, cid).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("comment %d: %w", cid, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("get comment score: %w", err)
	}
	return n, nil
}

// SearchPosts busca term no título dos posts, mais recentes primeiro.
func (s *Store) SearchPosts(ctx context.Context, term string, limit int) ([]domain.Post, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 25
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	rows, err := s.db.QueryContext(ctx, `
SELECT pid, sid, uid, title, content, posted
  FROM sub_post
 WHERE title LIKE ? ESCAPE '\'
 ORDER BY pid DESC
 LIMIT ?`, "%"+escaped+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	defer rows.Close()
	var out []domain.Post
	for rows.Next() {
		var p domain.Post
		var posted int64
		if err := rows.Scan(&p.PID, &p.SID, &p.UID, &p.Title, &p.Content, &posted); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.Posted = fromMillis(posted)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return out, nil
}
