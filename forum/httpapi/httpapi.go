// Package httpapi expõe as rotas JSON do fórum. Rotas de escrita e de busca passam
// pelo rate limit do próprio endpoint; as de leitura vêm do catálogo memoizado.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"forum-throttle/forum/domain"
	"forum-throttle/middleware/ratelimit"
	rldomain "forum-throttle/middleware/ratelimit/domain"
)

// Store é a parte do armazenamento relacional usada pelas rotas.
type Store interface {
	SubByName(ctx context.Context, name string) (*domain.Sub, error)
	CreatePost(ctx context.Context, sid, uid int64, title, content string) (int64, error)
	CastVote(ctx context.Context, v domain.Vote) (int64, error)
	SearchPosts(ctx context.Context, term string, limit int) ([]domain.Post, error)
}

// Catalog é a parte do stats.Catalog usada pelas rotas.
type Catalog interface {
	UserLevel(ctx context.Context, uid int64) (domain.Level, error)
	VoteStatus(ctx context.Context, uid, pid int64) (domain.VoteStatus, error)
	PostUpCount(ctx context.Context, pid int64) (int64, error)
	PostDownCount(ctx context.Context, pid int64) (int64, error)
	SubCreation(ctx context.Context, sid int64) (string, error)
	SubscriberCount(ctx context.Context, sid int64) (int64, error)
	SubPostCount(ctx context.Context, sid int64) (int64, error)
	IsRestricted(ctx context.Context, sid int64) (bool, error)
	Announcement(ctx context.Context) (*domain.Post, error)
	ForgetUser(ctx context.Context, uid int64) error
}

type Options struct {
	Store   Store
	Catalog Catalog

	// Guards por endpoint lógico; nil deixa a rota sem rate limit.
	VoteGuard   *ratelimit.Guard
	PostGuard   *ratelimit.Guard
	SearchGuard *ratelimit.Guard

	// RateStats é servido em GET /api/ratelimit/stats quando setado.
	RateStats rldomain.StatsReader

	// Metrics é servido em GET /metrics quando setado.
	Metrics http.Handler
	// Ready é chamado por /healthz.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

type api struct {
	opts Options
}

func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := &api{opts: opts}

	mux := http.NewServeMux()
	mux.Handle("POST /api/posts/{pid}/vote", guard(opts.VoteGuard, http.HandlerFunc(a.votePost)))
	mux.Handle("POST /api/comments/{cid}/vote", guard(opts.VoteGuard, http.HandlerFunc(a.voteComment)))
	mux.Handle("POST /api/subs/{name}/posts", guard(opts.PostGuard, http.HandlerFunc(a.submitPost)))
	mux.Handle("GET /api/search/{term}", guard(opts.SearchGuard, http.HandlerFunc(a.search)))
	mux.HandleFunc("GET /api/users/{uid}/level", a.userLevel)
	mux.HandleFunc("GET /api/posts/{pid}/votes", a.postVotes)
	mux.HandleFunc("GET /api/subs/{name}", a.subInfo)
	mux.HandleFunc("GET /api/announcement", a.announcement)
	mux.HandleFunc("GET /healthz", a.healthz)
	if opts.RateStats != nil {
		mux.HandleFunc("GET /api/ratelimit/stats", a.rateStats)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ratelimit.WriteRejection(w, http.StatusNotFound, "Not found")
	})
	return mux
}

func guard(g *ratelimit.Guard, h http.Handler) http.Handler {
	if g == nil {
		return h
	}
	return g.Middleware(h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail traduz erros do domínio para status HTTP; o resto vira 500 e é logado.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		ratelimit.WriteRejection(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrSelfVote):
		ratelimit.WriteRejection(w, http.StatusBadRequest, "You can't vote on your own posts")
	default:
		a.opts.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		ratelimit.WriteRejection(w, http.StatusInternalServerError, "Internal error")
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type voteRequest struct {
	UID      int64 `json:"uid"`
	Positive bool  `json:"positive"`
}

func (a *api) votePost(w http.ResponseWriter, r *http.Request) {
	a.vote(w, r, "pid", domain.TargetPost)
}

func (a *api) voteComment(w http.ResponseWriter, r *http.Request) {
	a.vote(w, r, "cid", domain.TargetComment)
}

func (a *api) vote(w http.ResponseWriter, r *http.Request, param string, kind domain.TargetKind) {
	target, ok := pathID(r, param)
	if !ok {
		ratelimit.WriteRejection(w, http.StatusBadRequest, "Invalid "+kind.String()+" id")
		return
	}
	var req voteRequest
	if err := decodeBody(w, r, &req); err != nil || req.UID <= 0 {
		ratelimit.WriteRejection(w, http.StatusBadRequest, "Invalid vote")
		return
	}

	author, err := a.opts.Store.CastVote(r.Context(), domain.Vote{
		VoterUID: req.UID,
		TargetID: target,
		Kind:     kind,
		Positive: req.Positive,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.opts.Catalog.ForgetUser(r.Context(), author); err != nil {
		a.opts.Logger.WarnContext(r.Context(), "forget user stats failed", "uid", author, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type postRequest struct {
	UID     int64  `json:"uid"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (a *api) submitPost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := decodeBody(w, r, &req); err != nil || req.UID <= 0 || strings.TrimSpace(req.Title) == "" {
		ratelimit.WriteRejection(w, http.StatusBadRequest, "Invalid post")
		return
	}
	sub, err := a.opts.Store.SubByName(r.Context(), r.PathValue("name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	pid, err := a.opts.Store.CreatePost(r.Context(), sub.SID, req.UID, req.Title, req.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "pid": pid})
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	posts, err := a.opts.Store.SearchPosts(r.Context(), r.PathValue("term"), 25)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "posts": posts})
}

func (a *api) userLevel(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathID(r, "uid")
	if !ok {
		ratelimit.WriteRejection(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	lvl, err := a.opts.Catalog.UserLevel(r.Context(), uid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lvl)
}

func (a *api) postVotes(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(r, "pid")
	if !ok {
		ratelimit.WriteRejection(w, http.StatusBadRequest, "Invalid post id")
		return
	}
	var viewer int64
	if v := r.URL.Query().Get("uid"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			ratelimit.WriteRejection(w, http.StatusBadRequest, "Invalid user id")
			return
		}
		viewer = n
	}

	ctx := r.Context()
	up, err := a.opts.Catalog.PostUpCount(ctx, pid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	down, err := a.opts.Catalog.PostDownCount(ctx, pid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status, err := a.opts.Catalog.VoteStatus(ctx, viewer, pid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"up": up, "down": down, "vote": status})
}

func (a *api) subInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, err := a.opts.Store.SubByName(ctx, r.PathValue("name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := struct {
		*domain.Sub
		Creation    string `json:"creation"`
		Subscribers int64  `json:"subscribers"`
		Posts       int64  `json:"posts"`
		Restricted  bool   `json:"restricted"`
	}{Sub: sub}

	if resp.Creation, err = a.opts.Catalog.SubCreation(ctx, sub.SID); err != nil {
		a.fail(w, r, err)
		return
	}
	if resp.Subscribers, err = a.opts.Catalog.SubscriberCount(ctx, sub.SID); err != nil {
		a.fail(w, r, err)
		return
	}
	if resp.Posts, err = a.opts.Catalog.SubPostCount(ctx, sub.SID); err != nil {
		a.fail(w, r, err)
		return
	}
	if resp.Restricted, err = a.opts.Catalog.IsRestricted(ctx, sub.SID); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) announcement(w http.ResponseWriter, r *http.Request) {
	p, err := a.opts.Catalog.Announcement(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"announcement": p})
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready(r.Context()); err != nil {
			a.opts.Logger.WarnContext(r.Context(), "readiness check failed", "err", err)
			ratelimit.WriteRejection(w, http.StatusServiceUnavailable, ratelimit.MsgUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *api) rateStats(w http.ResponseWriter, r *http.Request) {
	snap, err := a.opts.RateStats.Snapshot(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
