package score

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"forum-throttle/forum/domain"
)

type fakeRepo struct {
	mu           sync.Mutex
	users        map[int64]*domain.User
	posts        map[int64][]int64
	comments     map[int64][]int64
	postVotes    map[int64][]bool
	commentVotes map[int64][]bool
	badges       map[int64][]domain.Badge
	stored       map[int64]int64
	epochs       map[int64]int64

	reads atomic.Int32
	err   error
	block chan struct{}
	// afterCommentVotes roda entre a soma e a gravação, como um voto concorrente.
	afterCommentVotes func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:        map[int64]*domain.User{},
		posts:        map[int64][]int64{},
		comments:     map[int64][]int64{},
		postVotes:    map[int64][]bool{},
		commentVotes: map[int64][]bool{},
		badges:       map[int64][]domain.Badge{},
		stored:       map[int64]int64{},
		epochs:       map[int64]int64{},
	}
}

// vote registra um voto num comentário e invalida o score do autor.
func (r *fakeRepo) vote(author, cid int64, positive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commentVotes[cid] = append(r.commentVotes[cid], positive)
	r.epochs[author]++
	delete(r.stored, author)
	if u, ok := r.users[author]; ok {
		u.Score = domain.UnknownScore()
	}
}

func (r *fakeRepo) User(_ context.Context, uid int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRepo) PostIDsByAuthor(_ context.Context, uid int64) ([]int64, error) {
	r.reads.Add(1)
	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.posts[uid], nil
}

func (r *fakeRepo) PostVotes(_ context.Context, pids []int64) ([]bool, error) {
	r.reads.Add(1)
	var out []bool
	for _, pid := range pids {
		out = append(out, r.postVotes[pid]...)
	}
	return out, nil
}

func (r *fakeRepo) CommentIDsByAuthor(_ context.Context, uid int64) ([]int64, error) {
	r.reads.Add(1)
	return r.comments[uid], nil
}

func (r *fakeRepo) CommentVotes(_ context.Context, cids []int64) ([]bool, error) {
	r.reads.Add(1)
	r.mu.Lock()
	var out []bool
	for _, cid := range cids {
		out = append(out, r.commentVotes[cid]...)
	}
	r.mu.Unlock()
	if r.afterCommentVotes != nil {
		r.afterCommentVotes()
	}
	return out, nil
}

func (r *fakeRepo) BadgesByUser(_ context.Context, uid int64) ([]domain.Badge, error) {
	return r.badges[uid], nil
}

func (r *fakeRepo) ScoreEpoch(_ context.Context, uid int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epochs[uid], nil
}

func (r *fakeRepo) SetUserScore(_ context.Context, uid, score, epoch int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epochs[uid] != epoch {
		return false, nil
	}
	r.stored[uid] = score
	if u, ok := r.users[uid]; ok {
		u.Score = domain.KnownScore(score)
	}
	return true, nil
}

func TestPostScore_RecomputesAndPersists(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &domain.User{UID: 1, Score: domain.UnknownScore()}
	repo.posts[1] = []int64{10, 11}
	repo.postVotes[10] = []bool{true, true}
	repo.postVotes[11] = []bool{false}
	repo.comments[1] = []int64{20}
	repo.commentVotes[20] = []bool{true}

	e := New(repo)
	u, _ := repo.User(context.Background(), 1)
	got, err := e.PostScore(context.Background(), u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected score 2, got %d", got)
	}
	if v, ok := u.Score.Value(); !ok || v != 2 {
		t.Fatalf("expected user score updated to 2, got %s", u.Score)
	}
	if repo.stored[1] != 2 {
		t.Fatalf("expected score persisted, got %d", repo.stored[1])
	}
}

func TestPostScore_KnownScoreDoesNoReads(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo)

	u := &domain.User{UID: 1, Score: domain.KnownScore(7)}
	got, err := e.PostScore(context.Background(), u)
	if err != nil || got != 7 {
		t.Fatalf("expected 7, got %d err=%v", got, err)
	}
	if n := repo.reads.Load(); n != 0 {
		t.Fatalf("expected zero store reads, got %d", n)
	}
}

func TestPostScore_SecondCallUsesPersistedValue(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &domain.User{UID: 1}
	e := New(repo)
	u, _ := repo.User(context.Background(), 1)

	if got, _ := e.PostScore(context.Background(), u); got != 0 {
		t.Fatalf("expected 0 for user without votes, got %d", got)
	}
	if _, ok := repo.stored[1]; !ok {
		t.Fatalf("expected zero score to be persisted")
	}
	before := repo.reads.Load()

	again, _ := repo.User(context.Background(), 1)
	if !again.Score.IsKnown() {
		t.Fatalf("expected persisted score to be known")
	}
	if _, err := e.PostScore(context.Background(), again); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.reads.Load() != before {
		t.Fatalf("expected no reads on second call")
	}
}

func TestPostScore_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	repo := newFakeRepo()
	repo.err = boom
	e := New(repo)

	u := &domain.User{UID: 1}
	if _, err := e.PostScore(context.Background(), u); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if u.Score.IsKnown() {
		t.Fatalf("expected score to stay unknown after failure")
	}
	if _, ok := repo.stored[1]; ok {
		t.Fatalf("expected nothing persisted after failure")
	}
}

func TestPostScore_SingleFlightCoalesces(t *testing.T) {
	repo := newFakeRepo()
	repo.posts[1] = []int64{10}
	repo.postVotes[10] = []bool{true}
	repo.block = make(chan struct{})
	e := New(repo, WithSingleFlight())

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			u := &domain.User{UID: 1}
			if got, err := e.PostScore(context.Background(), u); err != nil || got != 1 {
				t.Errorf("expected 1, got %d err=%v", got, err)
			}
			if !u.Score.IsKnown() {
				t.Errorf("expected every caller's user to be updated")
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(repo.block)
	wg.Wait()

	// uma leitura de cada tipo: posts, votos em posts, comentários, votos em comentários
	if got := repo.reads.Load(); got != 4 {
		t.Fatalf("expected a single recompute (4 reads), got %d reads", got)
	}
}

func TestPostScore_VoteDuringRecomputeIsNotLost(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &domain.User{UID: 1}
	repo.comments[1] = []int64{20}
	repo.commentVotes[20] = []bool{true}

	var once sync.Once
	repo.afterCommentVotes = func() {
		once.Do(func() { repo.vote(1, 20, true) })
	}

	e := New(repo)
	got, err := e.PostScore(context.Background(), &domain.User{UID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected score 2 including the concurrent vote, got %d", got)
	}
	stored, ok := repo.stored[1]
	if !ok || stored != 2 {
		t.Fatalf("expected persisted score 2, got %d (stored=%v)", stored, ok)
	}
	// a primeira soma foi descartada: duas passadas completas
	if n := repo.reads.Load(); n != 8 {
		t.Fatalf("expected 8 reads across two attempts, got %d", n)
	}
}

func TestPostScore_EndlessVotesLeaveScoreUnknown(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &domain.User{UID: 1}
	repo.comments[1] = []int64{20}
	repo.afterCommentVotes = func() { repo.vote(1, 20, false) }

	e := New(repo)
	if _, err := e.PostScore(context.Background(), &domain.User{UID: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := repo.stored[1]; ok {
		t.Fatalf("expected no stale score persisted, got %d", v)
	}
	u, _ := repo.User(context.Background(), 1)
	if u.Score.IsKnown() {
		t.Fatalf("expected score to stay unknown, got %s", u.Score)
	}
}

func TestPostScore_SingleFlightSurvivesFirstCallerCancel(t *testing.T) {
	repo := newFakeRepo()
	repo.posts[1] = []int64{10}
	repo.postVotes[10] = []bool{true}
	repo.block = make(chan struct{})
	e := New(repo, WithSingleFlight())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := e.PostScore(ctx, &domain.User{UID: 1})
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		score int64
		err   error
	}
	second := make(chan result, 1)
	go func() {
		v, err := e.PostScore(context.Background(), &domain.User{UID: 1})
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first caller to see its own cancel, got %v", err)
	}
	close(repo.block)

	r := <-second
	if r.err != nil || r.score != 1 {
		t.Fatalf("expected second caller to get 1, got %d err=%v", r.score, r.err)
	}
	if got := repo.reads.Load(); got != 4 {
		t.Fatalf("expected a single recompute (4 reads), got %d reads", got)
	}
}

func TestPostScore_RecomputeLimitHonorsContext(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo, WithRecomputeLimit(0.001, 1))

	if _, err := e.PostScore(context.Background(), &domain.User{UID: 1}); err != nil {
		t.Fatalf("first recompute should use the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := e.PostScore(ctx, &domain.User{UID: 2}); err == nil {
		t.Fatalf("expected throttled recompute to fail with context deadline")
	}
}

func TestLevel(t *testing.T) {
	cases := []struct {
		votes  []bool
		badges []domain.Badge
		want   domain.Level
	}{
		{votes: []bool{false, false, false, false, false}, want: domain.Level{Level: 0, XP: -5}},
		{want: domain.Level{Level: 0, XP: 0}},
		{badges: []domain.Badge{{Value: 30}, {Value: 10}}, want: domain.Level{Level: 2, XP: 40}},
		{votes: []bool{true, true, true, true, true, true, true, true, true, true}, badges: []domain.Badge{{Value: 80}}, want: domain.Level{Level: 3, XP: 90}},
	}
	for i, c := range cases {
		repo := newFakeRepo()
		repo.users[1] = &domain.User{UID: 1}
		repo.posts[1] = []int64{10}
		repo.postVotes[10] = c.votes
		repo.badges[1] = c.badges

		got, err := New(repo).Level(context.Background(), 1)
		if err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}
		if got != c.want {
			t.Fatalf("case %d: expected %+v, got %+v", i, c.want, got)
		}
	}
}

func TestLevel_UnknownUser(t *testing.T) {
	if _, err := New(newFakeRepo()).Level(context.Background(), 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLevelFor(t *testing.T) {
	cases := map[int64]int64{-5: 0, 0: 0, 9: 0, 10: 1, 39: 1, 40: 2, 90: 3, 1000: 10}
	for xp, want := range cases {
		if got := LevelFor(xp); got.Level != want || got.XP != xp {
			t.Fatalf("LevelFor(%d) = %+v, want level %d", xp, got, want)
		}
	}
}
