package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forum-throttle/cache/memo"
	"forum-throttle/forum/score"
	"forum-throttle/forum/stats"
	"forum-throttle/forum/storage/sqlite"
	"forum-throttle/kv"
	"forum-throttle/middleware/ratelimit"
	"forum-throttle/middleware/ratelimit/domain"
	"forum-throttle/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type env struct {
	h     http.Handler
	store *sqlite.Store
	alice int64
	bob   int64
	carol int64
	sid   int64
	pid   int64
	ready error
	kv    *kv.MemoryStore
	rate  *infra.MemoryStatsStore
}

func newEnv(t *testing.T, voteLimit int64) *env {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "forum.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	e := &env{store: store, kv: kv.NewMemoryStore(), rate: infra.NewMemoryStatsStore()}
	e.alice, _ = store.CreateUser(ctx, "alice")
	e.bob, _ = store.CreateUser(ctx, "bob")
	e.carol, _ = store.CreateUser(ctx, "carol")
	e.sid, _ = store.CreateSub(ctx, "golang", "Go")
	e.pid, _ = store.CreatePost(ctx, e.sid, e.alice, "hello gophers", "")
	_ = store.Subscribe(ctx, e.sid, e.bob)

	engine := score.New(store)
	catalog := stats.New(memo.New(e.kv), store, engine)

	reg := prometheus.NewRegistry()
	e.h = NewHandler(Options{
		Store:   store,
		Catalog: catalog,
		VoteGuard: ratelimit.MustGuard(ratelimit.GuardOptions{
			Store:    e.kv,
			Stats:    e.rate,
			Policy:   domain.Policy{Limit: voteLimit, Period: time.Hour},
			Endpoint: "vote",
		}),
		PostGuard: ratelimit.MustGuard(ratelimit.GuardOptions{
			Store:    e.kv,
			Policy:   domain.Policy{Limit: 5, Period: 300 * time.Second},
			Endpoint: "submit_post",
		}),
		RateStats: e.rate,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:     func(context.Context) error { return e.ready },
	})
	return e
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.RemoteAddr = "10.0.0.1:5555"
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

func TestVoteUpdatesLevel(t *testing.T) {
	e := newEnv(t, 10)

	w := e.do(http.MethodGet, "/api/users/1/level", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body)
	}
	if got := decode(t, w); got["level"] != float64(0) || got["xp"] != float64(0) {
		t.Fatalf("unexpected level body: %v", got)
	}

	if w := e.do(http.MethodPost, "/api/posts/1/vote", `{"uid":2,"positive":true}`); w.Code != http.StatusOK {
		t.Fatalf("expected vote 200, got %d (%s)", w.Code, w.Body)
	}

	// o voto descarta o nível em cache do autor
	got := decode(t, e.do(http.MethodGet, "/api/users/1/level", ""))
	if got["xp"] != float64(1) {
		t.Fatalf("expected xp 1 after vote, got %v", got)
	}

	votes := decode(t, e.do(http.MethodGet, "/api/posts/1/votes?uid=2", ""))
	if votes["up"] != float64(1) || votes["down"] != float64(0) || votes["vote"] != float64(1) {
		t.Fatalf("unexpected votes body: %v", votes)
	}
	anon := decode(t, e.do(http.MethodGet, "/api/posts/1/votes", ""))
	if anon["vote"] != float64(-1) {
		t.Fatalf("expected -1 for anonymous viewer, got %v", anon)
	}
}

func TestVoteIsRateLimited(t *testing.T) {
	e := newEnv(t, 2)

	for i := 0; i < 2; i++ {
		if w := e.do(http.MethodPost, "/api/posts/1/vote", `{"uid":2,"positive":true}`); w.Code != http.StatusOK {
			t.Fatalf("vote %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := e.do(http.MethodPost, "/api/comments/1/vote", `{"uid":2,"positive":true}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third vote, got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "error" {
		t.Fatalf("unexpected rejection: %v", body)
	}

	// outro endpoint tem cota própria
	if w := e.do(http.MethodPost, "/api/subs/golang/posts", `{"uid":2,"title":"t"}`); w.Code != http.StatusCreated {
		t.Fatalf("expected 201 on submit, got %d (%s)", w.Code, w.Body)
	}
}

func TestVoteErrors(t *testing.T) {
	e := newEnv(t, 100)

	cases := []struct {
		path, body string
		want       int
	}{
		{"/api/posts/1/vote", `{"uid":1,"positive":true}`, http.StatusBadRequest},
		{"/api/posts/99/vote", `{"uid":2,"positive":true}`, http.StatusNotFound},
		{"/api/posts/abc/vote", `{"uid":2}`, http.StatusBadRequest},
		{"/api/posts/1/vote", `{"uid":0}`, http.StatusBadRequest},
		{"/api/posts/1/vote", `not json`, http.StatusBadRequest},
	}
	for _, c := range cases {
		if w := e.do(http.MethodPost, c.path, c.body); w.Code != c.want {
			t.Fatalf("%s %s: expected %d, got %d (%s)", c.path, c.body, c.want, w.Code, w.Body)
		}
	}
}

func TestSubmitPost(t *testing.T) {
	e := newEnv(t, 10)

	w := e.do(http.MethodPost, "/api/subs/golang/posts", `{"uid":2,"title":"generics","content":"yes"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body)
	}
	if got := decode(t, w); got["pid"] != float64(2) {
		t.Fatalf("unexpected body: %v", got)
	}
	if w := e.do(http.MethodPost, "/api/subs/rust/posts", `{"uid":2,"title":"x"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sub, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/subs/golang/posts", `{"uid":2,"title":"  "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", w.Code)
	}
}

func TestSubmitPostSixthIsRejected(t *testing.T) {
	e := newEnv(t, 10)

	for i := 1; i <= 5; i++ {
		if w := e.do(http.MethodPost, "/api/subs/golang/posts", `{"uid":2,"title":"p"}`); w.Code != http.StatusCreated {
			t.Fatalf("post %d: expected 201, got %d", i, w.Code)
		}
	}
	w := e.do(http.MethodPost, "/api/subs/golang/posts", `{"uid":2,"title":"p"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	var rej ratelimit.Rejection
	if err := json.NewDecoder(w.Body).Decode(&rej); err != nil || rej.Error[0] != ratelimit.MsgOverLimit {
		t.Fatalf("unexpected rejection %+v err=%v", rej, err)
	}
}

func TestSearch(t *testing.T) {
	e := newEnv(t, 10)

	body := decode(t, e.do(http.MethodGet, "/api/search/gopher", ""))
	posts, _ := body["posts"].([]any)
	if len(posts) != 1 {
		t.Fatalf("expected one result, got %v", body)
	}
	body = decode(t, e.do(http.MethodGet, "/api/search/nothing", ""))
	if posts, _ := body["posts"].([]any); posts == nil || len(posts) != 0 {
		t.Fatalf("expected empty list, got %v", body)
	}
}

func TestSubInfoAndAnnouncement(t *testing.T) {
	e := newEnv(t, 10)

	info := decode(t, e.do(http.MethodGet, "/api/subs/golang", ""))
	if info["name"] != "golang" || info["subscribers"] != float64(1) || info["posts"] != float64(1) || info["restricted"] != false {
		t.Fatalf("unexpected sub info: %v", info)
	}
	if c, _ := info["creation"].(string); !strings.Contains(c, "T") {
		t.Fatalf("expected ISO creation date, got %v", info["creation"])
	}
	if w := e.do(http.MethodGet, "/api/subs/rust", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	ann := decode(t, e.do(http.MethodGet, "/api/announcement", ""))
	if v, ok := ann["announcement"]; !ok || v != nil {
		t.Fatalf("expected null announcement, got %v", ann)
	}
}

func TestHealthMetricsAndNotFound(t *testing.T) {
	e := newEnv(t, 10)

	if w := e.do(http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	e.ready = errors.New("redis down")
	if w := e.do(http.MethodGet, "/healthz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", w.Code)
	}
	w := e.do(http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound || decode(t, w)["status"] != "error" {
		t.Fatalf("expected JSON 404, got %d", w.Code)
	}
}

func TestRateStatsSnapshot(t *testing.T) {
	e := newEnv(t, 1)

	e.do(http.MethodPost, "/api/posts/1/vote", `{"uid":2,"positive":true}`)
	e.do(http.MethodPost, "/api/posts/1/vote", `{"uid":3,"positive":true}`)

	w := e.do(http.MethodGet, "/api/ratelimit/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap domain.StatsSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := snap.ByEndpoint["vote"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected vote counters: %+v", got)
	}
}
