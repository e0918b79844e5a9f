package credits

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrInsufficient  = errors.New("not enough credits")
	ErrUnknownOwner  = errors.New("unknown credit owner")
	ErrInvalidAmount = errors.New("credit amount must be positive")
)

// Ledger holds per-owner generation credits.
type Ledger interface {
	Balance(ctx context.Context, ownerID string) (int, error)
	// Consume atomically decrements the balance by one when it is above zero
	// and returns the new balance, or ErrInsufficient.
	Consume(ctx context.Context, ownerID string) (int, error)
	Grant(ctx context.Context, ownerID string, amount int) (int, error)
}

// MemoryLedger keeps balances in memory for local development and tests.
type MemoryLedger struct {
	mu             sync.Mutex
	balances       map[string]int
	defaultBalance int
}

// NewMemoryLedger creates a ledger where owners seen for the first time start
// with defaultBalance credits.
func NewMemoryLedger(defaultBalance int) *MemoryLedger {
	return &MemoryLedger{
		balances:       make(map[string]int),
		defaultBalance: defaultBalance,
	}
}

func (l *MemoryLedger) Balance(_ context.Context, ownerID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(ownerID)
}

func (l *MemoryLedger) Consume(_ context.Context, ownerID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.balanceLocked(ownerID)
	if err != nil {
		return 0, err
	}
	if balance <= 0 {
		return balance, ErrInsufficient
	}
	balance--
	l.balances[ownerID] = balance
	return balance, nil
}

func (l *MemoryLedger) Grant(_ context.Context, ownerID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.balanceLocked(ownerID)
	if err != nil {
		return 0, err
	}
	balance += amount
	l.balances[ownerID] = balance
	return balance, nil
}

func (l *MemoryLedger) balanceLocked(ownerID string) (int, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, ErrUnknownOwner
	}
	balance, ok := l.balances[ownerID]
	if !ok {
		balance = l.defaultBalance
		l.balances[ownerID] = balance
	}
	return balance, nil
}
