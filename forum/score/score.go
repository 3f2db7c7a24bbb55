// Package score calcula o score de posts de um usuário (saldo de votos recebidos em
// posts e comentários) e o nível derivado dele.
//
// O score fica persistido no usuário e só é recalculado quando está desconhecido;
// quem registra um voto é responsável por zerá-lo e avançar a época do score. A
// gravação do recálculo só vale para a época lida antes da soma.
package score

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"forum-throttle/forum/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Repository é o acesso relacional de que o Engine precisa.
type Repository interface {
	User(ctx context.Context, uid int64) (*domain.User, error)
	PostIDsByAuthor(ctx context.Context, uid int64) ([]int64, error)
	PostVotes(ctx context.Context, pids []int64) ([]bool, error)
	CommentIDsByAuthor(ctx context.Context, uid int64) ([]int64, error)
	CommentVotes(ctx context.Context, cids []int64) ([]bool, error)
	BadgesByUser(ctx context.Context, uid int64) ([]domain.Badge, error)
	ScoreEpoch(ctx context.Context, uid int64) (int64, error)
	// SetUserScore grava score se a época ainda for epoch; false quando um voto
	// invalidou o score no meio do caminho.
	SetUserScore(ctx context.Context, uid, score, epoch int64) (bool, error)
}

const maxRecomputeAttempts = 3

var tracer = otel.Tracer("forum-throttle/forum/score")

type Engine struct {
	repo    Repository
	logger  *slog.Logger
	single  bool
	group   singleflight.Group
	limiter *rate.Limiter
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSingleFlight faz recálculos concorrentes do mesmo usuário compartilharem uma
// única leitura do histórico.
func WithSingleFlight() Option {
	return func(e *Engine) { e.single = true }
}

// WithRecomputeLimit limita quantos recálculos completos por segundo o processo faz.
// rps <= 0 desliga o limite.
func WithRecomputeLimit(rps float64, burst int) Option {
	return func(e *Engine) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func New(repo Repository, opts ...Option) *Engine {
	e := &Engine{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PostScore devolve o score do usuário. Se já conhecido, não toca no repositório;
// senão recalcula, persiste (inclusive 0) e atualiza user.Score.
func (e *Engine) PostScore(ctx context.Context, user *domain.User) (int64, error) {
	if v, ok := user.Score.Value(); ok {
		return v, nil
	}

	var (
		sum int64
		err error
	)
	if e.single {
		sum, err = e.shared(ctx, user.UID)
	} else {
		sum, err = e.recompute(ctx, user.UID)
	}
	if err != nil {
		return 0, err
	}
	user.Score = domain.KnownScore(sum)
	return sum, nil
}

// shared junta recálculos concorrentes do mesmo uid. O trabalho roda sem o
// cancelamento de quem chegou primeiro; cada chamador desiste só pelo próprio ctx.
func (e *Engine) shared(ctx context.Context, uid int64) (int64, error) {
	ch := e.group.DoChan(strconv.FormatInt(uid, 10), func() (any, error) {
		return e.recompute(context.WithoutCancel(ctx), uid)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *Engine) recompute(ctx context.Context, uid int64) (sum int64, err error) {
	ctx, span := tracer.Start(ctx, "score.recompute")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.uid", uid))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("score recompute throttled: %w", err)
		}
	}

	for attempt := 1; attempt <= maxRecomputeAttempts; attempt++ {
		epoch, err := e.repo.ScoreEpoch(ctx, uid)
		if err != nil {
			return 0, err
		}
		sum, err = e.sumVotes(ctx, uid)
		if err != nil {
			return 0, err
		}
		stored, err := e.repo.SetUserScore(ctx, uid, sum, epoch)
		if err != nil {
			return 0, err
		}
		if stored {
			span.SetAttributes(attribute.Int("score.attempts", attempt))
			e.logger.DebugContext(ctx, "user score recomputed", "uid", uid, "score", sum, "attempts", attempt)
			return sum, nil
		}
	}

	// votos seguem chegando: devolve a última soma e deixa o score desconhecido
	e.logger.WarnContext(ctx, "user score not persisted, votes kept arriving", "uid", uid, "score", sum, "attempts", maxRecomputeAttempts)
	return sum, nil
}

func (e *Engine) sumVotes(ctx context.Context, uid int64) (int64, error) {
	pids, err := e.repo.PostIDsByAuthor(ctx, uid)
	if err != nil {
		return 0, err
	}
	postVotes, err := e.repo.PostVotes(ctx, pids)
	if err != nil {
		return 0, err
	}
	cids, err := e.repo.CommentIDsByAuthor(ctx, uid)
	if err != nil {
		return 0, err
	}
	commentVotes, err := e.repo.CommentVotes(ctx, cids)
	if err != nil {
		return 0, err
	}

	var sum int64
	for _, votes := range [][]bool{postVotes, commentVotes} {
		for _, positive := range votes {
			if positive {
				sum++
			} else {
				sum--
			}
		}
	}
	return sum, nil
}

// Level devolve nível e xp do usuário: xp = score de posts + soma dos badges;
// nível = floor(sqrt(xp/10)), ou 0 quando xp <= 0.
func (e *Engine) Level(ctx context.Context, uid int64) (domain.Level, error) {
	user, err := e.repo.User(ctx, uid)
	if err != nil {
		return domain.Level{}, err
	}
	xp, err := e.PostScore(ctx, user)
	if err != nil {
		return domain.Level{}, err
	}
	badges, err := e.repo.BadgesByUser(ctx, uid)
	if err != nil {
		return domain.Level{}, err
	}
	for _, b := range badges {
		xp += b.Value
	}
	return LevelFor(xp), nil
}

func LevelFor(xp int64) domain.Level {
	if xp <= 0 {
		return domain.Level{Level: 0, XP: xp}
	}
	return domain.Level{Level: int64(math.Sqrt(float64(xp) / 10)), XP: xp}
}
