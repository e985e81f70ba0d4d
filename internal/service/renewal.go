package service

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultRenewSkew        = 30 * time.Second
	defaultMinRenewInterval = 15 * time.Second
)

// RenewalPolicy controls the background access-token renewal task.
type RenewalPolicy struct {
	// Disabled turns the task off entirely.
	Disabled bool
	// Interval fixes the renewal period. Zero derives it from the token's exp claim.
	Interval time.Duration
	// Skew is how long before expiry a derived renewal fires.
	Skew time.Duration
	// MinInterval floors derived intervals and is used for tokens without exp.
	MinInterval time.Duration
}

func (p RenewalPolicy) normalized() RenewalPolicy {
	if p.Skew <= 0 {
		p.Skew = defaultRenewSkew
	}
	if p.MinInterval <= 0 {
		p.MinInterval = defaultMinRenewInterval
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	return p
}

// Next returns the delay before renewing accessToken, measured from now.
func (p RenewalPolicy) Next(accessToken string, now time.Time) time.Duration {
	p = p.normalized()
	if p.Interval > 0 {
		return p.Interval
	}
	exp, ok := tokenExpiry(accessToken)
	if !ok {
		return p.MinInterval
	}
	if d := exp.Sub(now) - p.Skew; d > p.MinInterval {
		return d
	}
	return p.MinInterval
}

// tokenExpiry reads the exp claim without verifying the signature; the backend
// verifies, this side only needs to know when to ask for a new token.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// renewalTask is the cancellable scheduled refresh owned by SessionStore.
type renewalTask struct {
	policy RenewalPolicy

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// startRenewal launches the renewal loop unless it is already running.
func (s *SessionStore) startRenewal(accessToken string) {
	t := &s.renewal
	if t.policy.Disabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		s.renewLoop(ctx, accessToken)
	}()
}

// stopRenewal cancels the loop without waiting; it is called from inside the loop too.
func (s *SessionStore) stopRenewal() {
	t := &s.renewal
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (s *SessionStore) renewLoop(ctx context.Context, accessToken string) {
	for {
		delay := s.renewal.policy.Next(accessToken, time.Now())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		snap := s.Refresh(ctx, false)
		if ctx.Err() != nil || !snap.Authenticated() {
			return
		}
		accessToken = snap.AccessToken
	}
}

func (t *renewalTask) close() {
	t.mu.Lock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
}
