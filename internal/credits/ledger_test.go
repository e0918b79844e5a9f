package credits

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerConsumeDecrementsByOne(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(3)

	for want := 2; want >= 0; want-- {
		balance, err := ledger.Consume(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, want, balance)
	}

	balance, err := ledger.Consume(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrInsufficient)
	assert.Equal(t, 0, balance)
}

func TestMemoryLedgerConcurrentConsumeNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(10)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Consume(ctx, "owner-1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	balance, err := ledger.Balance(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 10, successes)
	assert.Equal(t, 0, balance)
}

func TestMemoryLedgerGrant(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(0)

	balance, err := ledger.Grant(ctx, "owner-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	_, err = ledger.Grant(ctx, "owner-1", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMemoryLedgerRejectsEmptyOwner(t *testing.T) {
	_, err := NewMemoryLedger(1).Balance(context.Background(), " ")
	assert.ErrorIs(t, err, ErrUnknownOwner)
}
