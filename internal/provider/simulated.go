package provider

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

// Profile describes the limits and behaviour of a simulated provider.
type Profile struct {
	MinTopUp       decimal.Decimal
	MinWithdrawal  decimal.Decimal
	CommissionRate decimal.Decimal
	// FailureRate is the probability in [0,1] that a call reports failure.
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

var (
	GoodCheap = Profile{
		MinTopUp:       decimal.NewFromInt(100),
		MinWithdrawal:  decimal.NewFromInt(500),
		CommissionRate: decimal.RequireFromString("0.01"),
		FailureRate:    0.01,
		MinLatency:     100 * time.Millisecond,
		MaxLatency:     200 * time.Millisecond,
	}

	BadSlowExpensive = Profile{
		MinTopUp:       decimal.NewFromInt(100),
		MinWithdrawal:  decimal.NewFromInt(1000),
		CommissionRate: decimal.RequireFromString("0.2"),
		FailureRate:    0.5,
		MinLatency:     time.Second,
		MaxLatency:     6 * time.Second,
	}
)

type Option func(*Simulated)

// WithRandom replaces the random source used for outcomes and latency.
func WithRandom(fn func() float64) Option {
	return func(s *Simulated) { s.random = fn }
}

// WithoutLatency makes every call return immediately.
func WithoutLatency() Option {
	return func(s *Simulated) { s.noLatency = true }
}

// Simulated is a provider that fails and stalls according to its Profile.
type Simulated struct {
	name      string
	profile   Profile
	random    func() float64
	noLatency bool
}

func NewSimulated(name string, p Profile, opts ...Option) *Simulated {
	s := &Simulated{name: name, profile: p, random: rand.Float64}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Name() string { return s.name }

func (s *Simulated) MinTopUpAmount() decimal.Decimal { return s.profile.MinTopUp }

func (s *Simulated) MinWithdrawalAmount() decimal.Decimal { return s.profile.MinWithdrawal }

func (s *Simulated) Commission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.profile.CommissionRate).Round(2)
}

func (s *Simulated) TopUp(ctx context.Context, amount decimal.Decimal) (Response, error) {
	return s.call(ctx, amount)
}

func (s *Simulated) Withdraw(ctx context.Context, amount decimal.Decimal) (Response, error) {
	return s.call(ctx, amount)
}

func (s *Simulated) call(ctx context.Context, amount decimal.Decimal) (Response, error) {
	success := s.random() > s.profile.FailureRate

	if err := s.wait(ctx); err != nil {
		return Response{}, err
	}

	return Response{
		Success:   success,
		NetAmount: amount.Sub(s.Commission(amount)),
	}, nil
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.noLatency {
		return ctx.Err()
	}
	spread := s.profile.MaxLatency - s.profile.MinLatency
	d := s.profile.MinLatency + time.Duration(s.random()*float64(spread))

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
