package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"forum-throttle/forum/domain"
)

// CastVote grava (ou troca) o voto e, na mesma transação, zera para NULL o score
// do autor do alvo e avança sua época. Devolve o uid do autor.
func (s *Store) CastVote(ctx context.Context, v domain.Vote) (int64, error) {
	var authorQ, upsertQ string
	switch v.Kind {
	case domain.TargetPost:
		authorQ = `SELECT uid FROM sub_post WHERE pid = ?`
		upsertQ = `
INSERT INTO sub_post_vote (pid, uid, positive) VALUES (?, ?, ?)
ON CONFLICT (pid, uid) DO UPDATE SET positive = excluded.positive`
	case domain.TargetComment:
		authorQ = `SELECT uid FROM sub_post_comment WHERE cid = ?`
		upsertQ = `
INSERT INTO sub_post_comment_vote (cid, uid, positive) VALUES (?, ?, ?)
ON CONFLICT (cid, uid) DO UPDATE SET positive = excluded.positive`
	default:
		return 0, fmt.Errorf("cast vote: unknown target kind %d", v.Kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cast vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var author int64
	if err := tx.QueryRowContext(ctx, authorQ, v.TargetID).Scan(&author); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s %d: %w", v.Kind, v.TargetID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("cast vote: %w", err)
	}
	if author == v.VoterUID {
		return 0, domain.ErrSelfVote
	}

	if _, err := tx.ExecContext(ctx, upsertQ, v.TargetID, v.VoterUID, boolToInt(v.Positive)); err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("voter %d: %w", v.VoterUID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("cast vote: %w", err)
	}
	if v.Kind == domain.TargetComment {
		if _, err := tx.ExecContext(ctx, `
UPDATE sub_post_comment
   SET score = (SELECT COALESCE(SUM(CASE positive WHEN 1 THEN 1 ELSE -1 END), 0)
                  FROM sub_post_comment_vote WHERE cid = ?)
 WHERE cid = ?`, v.TargetID, v.TargetID); err != nil {
			return 0, fmt.Errorf("update comment score: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, resetScoreQ, author); err != nil {
		return 0, fmt.Errorf("reset author score: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cast vote: %w", err)
	}
	return author, nil
}

// VoteStatus devolve o voto de uid no post pid, ou VoteNone.
func (s *Store) VoteStatus(ctx context.Context, uid, pid int64) (domain.VoteStatus, error) {
	var positive bool
	err := s.db.QueryRowContext(ctx,
		`SELECT positive FROM sub_post_vote WHERE uid = ? AND pid = ?`, uid, pid,
	).Scan(&positive)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.VoteNone, nil
	case err != nil:
		return domain.VoteNone, fmt.Errorf("get vote status: %w", err)
	case positive:
		return domain.VoteUp, nil
	default:
		return domain.VoteDown, nil
	}
}

// CommentVoteBy devolve o voto de uid no comentário cid; ok=false se não votou.
func (s *Store) CommentVoteBy(ctx context.Context, uid, cid int64) (positive, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT positive FROM sub_post_comment_vote WHERE uid = ? AND cid = ?`, uid, cid,
	).Scan(&positive)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get comment vote: %w", err)
	}
	return positive, true, nil
}

func (s *Store) countVotes(ctx context.Context, table, col string, id int64) (up, down int64, err error) {
	err = s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(CASE positive WHEN 1 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE positive WHEN 1 THEN 0 ELSE 1 END), 0)
  FROM `+table+` WHERE `+col+` = ?`, id).Scan(&up, &down)
	return up, down, err
}

func (s *Store) PostVoteCounts(ctx context.Context, pid int64) (up, down int64, err error) {
	up, down, err = s.countVotes(ctx, "sub_post_vote", "pid", pid)
	if err != nil {
		return 0, 0, fmt.Errorf("count post votes: %w", err)
	}
	return up, down, nil
}

func (s *Store) CommentVoteCounts(ctx context.Context, cid int64) (up, down int64, err error) {
	up, down, err = s.countVotes(ctx, "sub_post_comment_vote", "cid", cid)
	if err != nil {
		return 0, 0, fmt.Errorf("count comment votes: %w", err)
	}
	return up, down, nil
}

// PostVoting é o saldo dos votos que uid deu em posts (+1 positivo, -1 negativo).
func (s *Store) PostVoting(ctx context.Context, uid int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(CASE positive WHEN 1 THEN 1 ELSE -1 END), 0)
  FROM sub_post_vote WHERE uid = ?`, uid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sum post voting: %w", err)
	}
	return n, nil
}
