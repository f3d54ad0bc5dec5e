package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccountLocksTryAcquire(t *testing.T) {
	locks := NewAccountLocks()

	release, ok := locks.TryAcquire("acct-1")
	require.True(t, ok)

	// Same account is held; a second attempt is rejected, not queued.
	_, ok = locks.TryAcquire("acct-1")
	require.False(t, ok)

	// Different accounts never contend.
	releaseOther, ok := locks.TryAcquire("acct-2")
	require.True(t, ok)
	releaseOther()

	release()
	release, ok = locks.TryAcquire("acct-1")
	require.True(t, ok)
	release()
}

func TestAccountLocksAcquireRespectsContext(t *testing.T) {
	locks := NewAccountLocks()

	release, ok := locks.TryAcquire("acct-1")
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := locks.Acquire(ctx, "acct-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	releaseAgain, err := locks.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	releaseAgain()
}
