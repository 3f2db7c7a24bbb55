// Package stats reúne as consultas derivadas do fórum que são servidas pelo cache
// memoizado. Cada consulta tem o próprio TTL, escolhido pela tolerância a dado velho
// daquele ponto de chamada.
package stats

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"forum-throttle/cache/memo"
	"forum-throttle/forum/domain"
)

const (
	TTLVoteStatus      = 5 * time.Second
	TTLVoteCount       = 20 * time.Second
	TTLHasVotedComment = 50 * time.Second
	TTLCommentScore    = 30 * time.Second
	TTLSubCounters     = 60 * time.Second
	TTLPostVoting      = 120 * time.Second
	TTLUserPostScore   = 300 * time.Second
	TTLSiteMetadata    = 600 * time.Second
	TTLUserLevel       = 10 * time.Second
)

// Source é o acesso relacional usado pelo catálogo.
type Source interface {
	User(ctx context.Context, uid int64) (*domain.User, error)
	VoteStatus(ctx context.Context, uid, pid int64) (domain.VoteStatus, error)
	PostVoteCounts(ctx context.Context, pid int64) (up, down int64, err error)
	CommentVoteCounts(ctx context.Context, cid int64) (up, down int64, err error)
	CommentVoteBy(ctx context.Context, uid, cid int64) (positive, ok bool, err error)
	CommentScore(ctx context.Context, cid int64) (int64, error)
	SubscriberCount(ctx context.Context, sid int64) (int64, error)
	SubPostCount(ctx context.Context, sid int64) (int64, error)
	SubMetadata(ctx context.Context, sid int64, key string) (string, bool, error)
	SiteMetadata(ctx context.Context, key string) (string, bool, error)
	SiteMetadataAll(ctx context.Context, key string) ([]string, error)
	PostVoting(ctx context.Context, uid int64) (int64, error)
	Post(ctx context.Context, pid int64) (*domain.Post, error)
}

// Scorer é a parte do score.Engine usada aqui.
type Scorer interface {
	PostScore(ctx context.Context, user *domain.User) (int64, error)
	Level(ctx context.Context, uid int64) (domain.Level, error)
}

type Catalog struct {
	memo   *memo.Memo
	src    Source
	scorer Scorer
}

func New(m *memo.Memo, src Source, scorer Scorer) *Catalog {
	return &Catalog{memo: m, src: src, scorer: scorer}
}

// VoteStatus devolve o voto de uid no post; uid <= 0 (anônimo) é sempre VoteNone.
func (c *Catalog) VoteStatus(ctx context.Context, uid, pid int64) (domain.VoteStatus, error) {
	if uid <= 0 {
		return domain.VoteNone, nil
	}
	return memo.GetOrCompute(ctx, c.memo, "vote-status", TTLVoteStatus, func(ctx context.Context) (domain.VoteStatus, error) {
		return c.src.VoteStatus(ctx, uid, pid)
	}, uid, pid)
}

func (c *Catalog) PostUpCount(ctx context.Context, pid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "post-upcount", TTLVoteCount, func(ctx context.Context) (int64, error) {
		up, _, err := c.src.PostVoteCounts(ctx, pid)
		return up, err
	}, pid)
}

func (c *Catalog) PostDownCount(ctx context.Context, pid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "post-downcount", TTLVoteCount, func(ctx context.Context) (int64, error) {
		_, down, err := c.src.PostVoteCounts(ctx, pid)
		return down, err
	}, pid)
}

func (c *Catalog) CommentUpCount(ctx context.Context, cid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "comment-upcount", TTLVoteCount, func(ctx context.Context) (int64, error) {
		up, _, err := c.src.CommentVoteCounts(ctx, cid)
		return up, err
	}, cid)
}

func (c *Catalog) CommentDownCount(ctx context.Context, cid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "comment-downcount", TTLVoteCount, func(ctx context.Context) (int64, error) {
		_, down, err := c.src.CommentVoteCounts(ctx, cid)
		return down, err
	}, cid)
}

// HasVotedComment diz se uid votou no comentário com a polaridade up.
func (c *Catalog) HasVotedComment(ctx context.Context, uid, cid int64, up bool) (bool, error) {
	if uid <= 0 {
		return false, nil
	}
	return memo.GetOrCompute(ctx, c.memo, "has-voted-comment", TTLHasVotedComment, func(ctx context.Context) (bool, error) {
		positive, ok, err := c.src.CommentVoteBy(ctx, uid, cid)
		return ok && positive == up, err
	}, uid, cid, up)
}

func (c *Catalog) CommentScore(ctx context.Context, cid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "comment-score", TTLCommentScore, func(ctx context.Context) (int64, error) {
		return c.src.CommentScore(ctx, cid)
	}, cid)
}

func (c *Catalog) SubscriberCount(ctx context.Context, sid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "subscriber-count", TTLSubCounters, func(ctx context.Context) (int64, error) {
		return c.src.SubscriberCount(ctx, sid)
	}, sid)
}

func (c *Catalog) SubPostCount(ctx context.Context, sid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "sub-post-count", TTLSubCounters, func(ctx context.Context) (int64, error) {
		return c.src.SubPostCount(ctx, sid)
	}, sid)
}

// IsRestricted é true quando o metadado "restricted" existe e não é "0".
func (c *Catalog) IsRestricted(ctx context.Context, sid int64) (bool, error) {
	return memo.GetOrCompute(ctx, c.memo, "sub-restricted", TTLSubCounters, func(ctx context.Context) (bool, error) {
		v, ok, err := c.src.SubMetadata(ctx, sid, "restricted")
		return ok && v != "0", err
	}, sid)
}

func (c *Catalog) PostVoting(ctx context.Context, uid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "post-voting", TTLPostVoting, func(ctx context.Context) (int64, error) {
		return c.src.PostVoting(ctx, uid)
	}, uid)
}

func (c *Catalog) UserPostScore(ctx context.Context, uid int64) (int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "user-post-score", TTLUserPostScore, func(ctx context.Context) (int64, error) {
		u, err := c.src.User(ctx, uid)
		if err != nil {
			return 0, err
		}
		return c.scorer.PostScore(ctx, u)
	}, uid)
}

// SubCreation devolve a data de criação do sub em formato ISO, ou "" se não houver.
func (c *Catalog) SubCreation(ctx context.Context, sid int64) (string, error) {
	return memo.GetOrCompute(ctx, c.memo, "sub-creation", TTLSiteMetadata, func(ctx context.Context) (string, error) {
		v, ok, err := c.src.SubMetadata(ctx, sid, "creation")
		if err != nil || !ok {
			return "", err
		}
		return strings.Replace(v, " ", "T", 1), nil
	}, sid)
}

// Announcement devolve o post de anúncio do site, ou nil.
func (c *Catalog) Announcement(ctx context.Context) (*domain.Post, error) {
	return memo.GetOrCompute(ctx, c.memo, "announcement", TTLSiteMetadata, func(ctx context.Context) (*domain.Post, error) {
		v, ok, err := c.src.SiteMetadata(ctx, "announcement")
		if err != nil || !ok {
			return nil, err
		}
		pid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, nil
		}
		p, err := c.src.Post(ctx, pid)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return p, err
	})
}

// DefaultSubs devolve os sids marcados como padrão no site.
func (c *Catalog) DefaultSubs(ctx context.Context) ([]int64, error) {
	return memo.GetOrCompute(ctx, c.memo, "default-subs", TTLSiteMetadata, func(ctx context.Context) ([]int64, error) {
		vals, err := c.src.SiteMetadataAll(ctx, "default")
		if err != nil {
			return nil, err
		}
		out := make([]int64, 0, len(vals))
		for _, v := range vals {
			if sid, err := strconv.ParseInt(v, 10, 64); err == nil {
				out = append(out, sid)
			}
		}
		return out, nil
	})
}

// UserLevel é o nível do usuário com cache curto por cima do score persistido.
func (c *Catalog) UserLevel(ctx context.Context, uid int64) (domain.Level, error) {
	return memo.GetOrCompute(ctx, c.memo, "user-level", TTLUserLevel, func(ctx context.Context) (domain.Level, error) {
		return c.scorer.Level(ctx, uid)
	}, uid)
}

// ForgetUser descarta as entradas derivadas do score do usuário.
func (c *Catalog) ForgetUser(ctx context.Context, uid int64) error {
	if err := c.memo.Invalidate(ctx, "user-level", uid); err != nil {
		return err
	}
	return c.memo.Invalidate(ctx, "user-post-score", uid)
}
