package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"forum-throttle/kv"
	"forum-throttle/middleware/ratelimit/domain"
	"forum-throttle/middleware/ratelimit/infra"
)

type countingStore struct {
	calls int
	err   error
	inner domain.CounterStore
}

func (s *countingStore) IncrementAndExpireAt(ctx context.Context, key string, exp time.Time) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.inner.IncrementAndExpireAt(ctx, key, exp)
}

var testNow = time.Unix(1_700_000_100, 0)

func newTestStore() *kv.MemoryStore {
	return kv.NewMemoryStore(kv.WithClock(func() time.Time { return testNow }))
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "http://example/api/subs/go/posts", nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGuard_AdmitsFiveThenRejectsSixth(t *testing.T) {
	calls := 0
	h := MustGuard(GuardOptions{
		Store:               newTestStore(),
		Policy:              domain.Policy{Limit: 5, Period: 300 * time.Second},
		Endpoint:            "submit_post",
		AddRateLimitHeaders: true,
		Now:                 func() time.Time { return testNow },
	}).Middleware(okHandler(&calls))

	for i := 1; i <= 5; i++ {
		w := doRequest(h, "10.0.0.1:1234")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if got, want := w.Header().Get("X-RateLimit-Remaining"), strconv.Itoa(5-i); got != want {
			t.Fatalf("request %d: expected remaining %s, got %s", i, want, got)
		}
	}

	w := doRequest(h, "10.0.0.1:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit 5, got %q", got)
	}
	// janela termina em 1_700_000_200, 100s depois de testNow
	if got := w.Header().Get("Retry-After"); got != "100" {
		t.Fatalf("expected Retry-After=100, got %q", got)
	}

	var body Rejection
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Status != "error" || len(body.Error) != 1 || body.Error[0] != MsgOverLimit {
		t.Fatalf("unexpected rejection body: %+v", body)
	}
	if calls != 5 {
		t.Fatalf("expected next handler to be called 5 times, got %d", calls)
	}
}

func TestGuard_ScopesAndEndpointsAreIndependent(t *testing.T) {
	store := newTestStore()
	calls := 0
	newGuard := func(endpoint string) http.Handler {
		return MustGuard(GuardOptions{
			Store:    store,
			Policy:   domain.Policy{Limit: 1, Period: time.Minute},
			Endpoint: endpoint,
			Now:      func() time.Time { return testNow },
		}).Middleware(okHandler(&calls))
	}
	vote, search := newGuard("vote"), newGuard("search")

	if w := doRequest(vote, "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doRequest(search, "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on other endpoint, got %d", w.Code)
	}
	if w := doRequest(vote, "10.0.0.2:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for other client, got %d", w.Code)
	}
	if w := doRequest(vote, "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestGuard_BypassCountsButNeverRejects(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	calls := 0
	h := MustGuard(GuardOptions{
		Store:    newTestStore(),
		Stats:    stats,
		Policy:   domain.Policy{Limit: 1, Period: time.Minute},
		Endpoint: "vote",
		Bypass:   true,
		Now:      func() time.Time { return testNow },
	}).Middleware(okHandler(&calls))

	for i := 0; i < 3; i++ {
		if w := doRequest(h, "10.0.0.1:1"); w.Code != http.StatusOK {
			t.Fatalf("expected 200 in bypass mode, got %d", w.Code)
		}
	}
	if calls != 3 || stats.Total().Allowed != 3 {
		t.Fatalf("expected 3 allowed, got calls=%d stats=%+v", calls, stats.Total())
	}
}

func TestGuard_ExemptSkipsStore(t *testing.T) {
	store := &countingStore{inner: newTestStore()}
	calls := 0
	h := MustGuard(GuardOptions{
		Store:    store,
		Policy:   domain.Policy{Limit: 1, Period: time.Minute},
		Endpoint: "vote",
		Exempt:   func(r *http.Request) bool { return r.Header.Get("X-Internal") == "1" },
	}).Middleware(okHandler(&calls))

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "http://example/", nil)
		r.Header.Set("X-Internal", "1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
	if store.calls != 0 {
		t.Fatalf("expected no store calls for exempt requests, got %d", store.calls)
	}
}

func TestGuard_FailurePolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy domain.FailurePolicy
		want   int
	}{
		{"open", domain.FailOpen, http.StatusOK},
		{"closed", domain.FailClosed, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			stats := infra.NewMemoryStatsStore()
			calls := 0
			h := MustGuard(GuardOptions{
				Store:         &countingStore{err: kv.ErrUnavailable},
				Stats:         stats,
				Policy:        domain.Policy{Limit: 1, Period: time.Minute},
				Endpoint:      "vote",
				FailurePolicy: c.policy,
			}).Middleware(okHandler(&calls))

			w := doRequest(h, "10.0.0.1:1")
			if w.Code != c.want {
				t.Fatalf("expected %d, got %d", c.want, w.Code)
			}
			if stats.Total().Degraded != 1 {
				t.Fatalf("expected degraded decision to be recorded")
			}
			if c.policy == domain.FailClosed {
				var body Rejection
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error[0] != MsgUnavailable {
					t.Fatalf("expected unavailable rejection, got %q", w.Body.String())
				}
			}
		})
	}
}

func TestGuard_DecideReportsStoreError(t *testing.T) {
	g := MustGuard(GuardOptions{
		Store:    &countingStore{err: kv.ErrUnavailable},
		Policy:   domain.Policy{Limit: 1, Period: time.Minute},
		Endpoint: "vote",
	})

	v := g.Decide(httptest.NewRequest(http.MethodPost, "http://example/", nil))
	if !v.Proceed || !v.Checked {
		t.Fatalf("expected fail-open by default, got %+v", v)
	}
	if !errors.Is(v.Err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", v.Err)
	}
}

func TestGuard_EmptyEndpointFromFuncIsInternalError(t *testing.T) {
	calls := 0
	h := MustGuard(GuardOptions{
		Store:      newTestStore(),
		Policy:     domain.Policy{Limit: 1, Period: time.Minute},
		EndpointFn: func(*http.Request) string { return "" },
	}).Middleware(okHandler(&calls))

	if w := doRequest(h, "10.0.0.1:1"); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("expected handler not to run")
	}
}

func TestGuard_StatusAvailableToHandler(t *testing.T) {
	var got domain.LimitStatus
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = StatusFromContext(r.Context())
	})

	h := MustGuard(GuardOptions{
		Store:    newTestStore(),
		Policy:   domain.Policy{Limit: 3, Period: time.Minute},
		Endpoint: "vote",
		Now:      func() time.Time { return testNow },
	}).Middleware(next)

	doRequest(h, "10.0.0.1:1")
	if !ok || got.Current != 1 || got.Remaining != 2 {
		t.Fatalf("expected status in context, got %+v ok=%v", got, ok)
	}
}

func TestNewGuard_InvalidOptions(t *testing.T) {
	valid := domain.Policy{Limit: 1, Period: time.Minute}
	cases := []GuardOptions{
		{Store: newTestStore(), Policy: domain.Policy{Limit: 0, Period: time.Minute}, Endpoint: "vote"},
		{Store: newTestStore(), Policy: domain.Policy{Limit: 1}, Endpoint: "vote"},
		{Policy: valid, Endpoint: "vote"},
		{Store: newTestStore(), Policy: valid},
	}
	for i, opts := range cases {
		if _, err := NewGuard(opts); !errors.Is(err, domain.ErrInvalidArguments) {
			t.Fatalf("case %d: expected ErrInvalidArguments, got %v", i, err)
		}
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustGuard to panic")
		}
	}()
	MustGuard(GuardOptions{})
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Unix(100, 0)
	if got := retryAfterSeconds(now.Add(1500*time.Millisecond), now); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := retryAfterSeconds(now.Add(-time.Second), now); got != 1 {
		t.Fatalf("expected minimum 1, got %d", got)
	}
}
