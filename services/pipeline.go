package services

import (
	"context"
	"sync"

	"savegame-system/models"

	"github.com/shopspring/decimal"
)

// Notifier delivers a templated user-facing message. It reports success and never fails the caller.
type Notifier interface {
	Send(ctx context.Context, userID string, kind models.NotificationKind, params map[string]any) bool
}

// AchievementEvaluator awards any achievements the user newly qualifies for.
type AchievementEvaluator interface {
	Evaluate(ctx context.Context, userID string, ec EvalContext) ([]string, error)
}

// LeaderboardRecalculator rebuilds a challenge's ranking.
type LeaderboardRecalculator interface {
	Recalculate(ctx context.Context, challengeID string) ([]models.LeaderboardEntry, error)
}

// EvalContext carries the event that triggered an achievement evaluation.
type EvalContext struct {
	ChallengeID       *string
	TransactionAmount *decimal.Decimal
}

// keyedMutex serializes work per key (challenge id) inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
