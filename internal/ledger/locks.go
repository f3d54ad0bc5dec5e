package ledger

import (
	"context"
	"sync"
)

// AccountLocks is the per-account serialization point. A sync's apply
// phase and a concurrent order placement for the same account both go
// through here, so their ledger writes never interleave. Accounts are
// independent; locks for different accounts never contend.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]chan struct{})}
}

func (l *AccountLocks) sem(accountID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.locks[accountID]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[accountID] = sem
	}
	return sem
}

// TryAcquire takes the account lock without waiting. The release
// function must be called exactly once.
func (l *AccountLocks) TryAcquire(accountID string) (release func(), ok bool) {
	sem := l.sem(accountID)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	default:
		return nil, false
	}
}

// Acquire waits for the account lock, bounded by ctx. No suspension
// point in the engine is unbounded, this one included.
func (l *AccountLocks) Acquire(ctx context.Context, accountID string) (release func(), err error) {
	sem := l.sem(accountID)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
