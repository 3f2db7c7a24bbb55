// Package sqlite guarda o estado relacional do fórum em SQLite: usuários, posts,
// comentários, votos, badges e metadados de subs e do site.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"forum-throttle/forum/domain"
	"forum-throttle/forum/storage/sqlite/migrations"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var ErrAlreadyExists = errors.New("forum: already exists")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open abre o banco em path e aplica as migrations embutidas. ":memory:" não é
// aceito porque cada conexão do pool veria um banco diferente.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
}

// maxInArgs fica bem abaixo de SQLITE_MAX_VARIABLE_NUMBER (32766).
const maxInArgs = 500

// placeholders devolve "?, ?, ..." com n marcadores e os ids como []any.
func placeholders(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- usuários e score ----

func (s *Store) User(ctx context.Context, uid int64) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, name, score FROM user WHERE uid = ?`, uid,
	).Scan(&u.UID, &u.Name, &u.Score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", uid, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ScoreEpoch devolve a época do score de uid; toda invalidação a incrementa.
func (s *Store) ScoreEpoch(ctx context.Context, uid int64) (int64, error) {
	var epoch int64
	err := s.db.QueryRowContext(ctx, `SELECT score_epoch FROM user WHERE uid = ?`, uid).Scan(&epoch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user %d: %w", uid, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("get score epoch: %w", err)
	}
	return epoch, nil
}

// SetUserScore grava o score apenas se a época ainda for epoch. Devolve false
// quando um voto invalidou o score depois que epoch foi lida.
func (s *Store) SetUserScore(ctx context.Context, uid, score, epoch int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user SET score = ? WHERE uid = ? AND score_epoch = ?`,
		domain.KnownScore(score).Valuer(), uid, epoch)
	if err != nil {
		return false, fmt.Errorf("set user score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set user score: %w", err)
	}
	return n == 1, nil
}

const resetScoreQ = `UPDATE user SET score = NULL, score_epoch = score_epoch + 1 WHERE uid = ?`

// ResetUserScore marca o score como desconhecido (NULL) e avança a época.
func (s *Store) ResetUserScore(ctx context.Context, uid int64) error {
	if _, err := s.db.ExecContext(ctx, resetScoreQ, uid); err != nil {
		return fmt.Errorf("reset user score: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("user name is required")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO user (name, score) VALUES (?, NULL)`, name)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) bools(ctx context.Context, query string, args ...any) ([]bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bool
	for rows.Next() {
		var b bool
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) PostIDsByAuthor(ctx context.Context, uid int64) ([]int64, error) {
	ids, err := s.ids(ctx, `SELECT pid FROM sub_post WHERE uid = ? ORDER BY pid`, uid)
	if err != nil {
		return nil, fmt.Errorf("list posts by author: %w", err)
	}
	return ids, nil
}

func (s *Store) CommentIDsByAuthor(ctx context.Context, uid int64) ([]int64, error) {
	ids, err := s.ids(ctx, `SELECT cid FROM sub_post_comment WHERE uid = ? ORDER BY cid`, uid)
	if err != nil {
		return nil, fmt.Errorf("list comments by author: %w", err)
	}
	return ids, nil
}

// votesIn roda query (que termina em "IN (") em lotes de ids, abaixo do limite de
// parâmetros do SQLite.
func (s *Store) votesIn(ctx context.Context, query string, ids []int64) ([]bool, error) {
	var out []bool
	for len(ids) > 0 {
		n := min(len(ids), maxInArgs)
		ph, args := placeholders(ids[:n])
		votes, err := s.bools(ctx, query+ph+`)`, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, votes...)
		ids = ids[n:]
	}
	return out, nil
}

// PostVotes devolve a polaridade de cada voto nos posts pids. Sem pids, não consulta.
func (s *Store) PostVotes(ctx context.Context, pids []int64) ([]bool, error) {
	votes, err := s.votesIn(ctx, `SELECT positive FROM sub_post_vote WHERE pid IN (`, pids)
	if err != nil {
		return nil, fmt.Errorf("list post votes: %w", err)
	}
	return votes, nil
}

func (s *Store) CommentVotes(ctx context.Context, cids []int64) ([]bool, error) {
	votes, err := s.votesIn(ctx, `SELECT positive FROM sub_post_comment_vote WHERE cid IN (`, cids)
	if err != nil {
		return nil, fmt.Errorf("list comment votes: %w", err)
	}
	return votes, nil
}

// ---- badges ----

func (s *Store) CreateBadge(ctx context.Context, name string, value int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO badge (name, value) VALUES (?, ?)`, name, value)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("create badge: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) AwardBadge(ctx context.Context, uid, bid int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO user_badge (uid, bid) VALUES (?, ?)`, uid, bid)
	if err != nil {
		return fmt.Errorf("award badge: %w", err)
	}
	return nil
}

func (s *Store) BadgesByUser(ctx context.Context, uid int64) ([]domain.Badge, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT b.bid, b.name, b.value
  FROM user_badge ub JOIN badge b ON b.bid = ub.bid
 WHERE ub.uid = ?
 ORDER BY b.bid`, uid)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	defer rows.Close()
	var out []domain.Badge
	for rows.Next() {
		var b domain.Badge
		if err := rows.Scan(&b.ID, &b.Name, &b.Value); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	return out, nil
}
