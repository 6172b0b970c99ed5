package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketcache/internal/logger"
	"marketcache/internal/pkg/circuit"
	"marketcache/internal/segment"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Policy 控制 Guard 的重试、限速与熔断。
type Policy struct {
	MaxAttempts      int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	RatePerMin       int
	Burst            int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.Burst <= 0 {
		p.Burst = 4
	}
	if p.BreakerThreshold <= 0 {
		p.BreakerThreshold = 5
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = 2 * time.Minute
	}
	return p
}

// Guard 给 Fetcher 加上令牌桶限速、指数退避重试（尊重 retry-after）和按 symbol 熔断。
type Guard struct {
	next     Fetcher
	policy   Policy
	limiter  *rate.Limiter
	breakers *circuit.Set
}

func NewGuard(next Fetcher, policy Policy) *Guard {
	policy = policy.withDefaults()
	limit := rate.Inf
	if policy.RatePerMin > 0 {
		limit = rate.Limit(float64(policy.RatePerMin) / 60.0)
	}
	return &Guard{
		next:     next,
		policy:   policy,
		limiter:  rate.NewLimiter(limit, policy.Burst),
		breakers: circuit.NewSet(policy.BreakerThreshold, policy.BreakerCooldown),
	}
}

func (g *Guard) Name() string { return g.next.Name() }

// Breakers 暴露熔断器集合，仅测试使用。
func (g *Guard) Breakers() *circuit.Set { return g.breakers }

func (g *Guard) Fetch(ctx context.Context, req Request) ([]segment.Row, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cb := g.breakers.Get(req.Asset.Symbol)
	if !cb.Allow() {
		return nil, fmt.Errorf("%s: circuit open: %w", req.Asset.Symbol, ErrUnavailable)
	}

	var rows []segment.Row
	attempt := 0
	hint := &retryAfter{}
	op := func() error {
		attempt++
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		out, err := g.next.Fetch(ctx, req)
		if err == nil {
			rows = out
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			hint.set(rl.RetryAfter)
		}
		logger.Warnf("[fetch] %s %s attempt %d/%d failed: %v", g.next.Name(), req.Key(), attempt, g.policy.MaxAttempts, err)
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = g.policy.InitialInterval
	exp.MaxInterval = g.policy.MaxInterval
	exp.MaxElapsedTime = 0
	hint.BackOff = exp
	bo := backoff.WithContext(backoff.WithMaxRetries(hint, uint64(g.policy.MaxAttempts-1)), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		if !errors.Is(err, ErrInvalidRequest) && ctx.Err() == nil {
			cb.RecordFailure()
		}
		var ff *FetchFailedError
		if errors.As(err, &ff) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInvalidRequest) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &FetchFailedError{Source: g.next.Name(), Retryable: Retryable(err), Err: err}
	}
	cb.RecordSuccess()
	return rows, nil
}

// retryAfter 让下一次等待至少为数据源给出的 retry-after。
type retryAfter struct {
	backoff.BackOff
	wait time.Duration
}

func (r *retryAfter) set(d time.Duration) { r.wait = d }

func (r *retryAfter) NextBackOff() time.Duration {
	next := r.BackOff.NextBackOff()
	if next != backoff.Stop && r.wait > next {
		next = r.wait
	}
	r.wait = 0
	return next
}
