package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger reads and updates profiles.credits.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Balance(ctx context.Context, ownerID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx, `SELECT credits FROM profiles WHERE id = $1`, ownerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUnknownOwner
		}
		return 0, fmt.Errorf("query credits: %w", err)
	}
	return balance, nil
}

func (l *PostgresLedger) Consume(ctx context.Context, ownerID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx, `
		UPDATE profiles
		SET credits = credits - 1
		WHERE id = $1 AND credits > 0
		RETURNING credits
	`, ownerID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("consume credit: %w", err)
	}

	current, balanceErr := l.Balance(ctx, ownerID)
	if balanceErr != nil {
		return 0, balanceErr
	}
	return current, ErrInsufficient
}

func (l *PostgresLedger) Grant(ctx context.Context, ownerID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int
	err := l.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, credits) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET credits = profiles.credits + EXCLUDED.credits
		RETURNING credits
	`, ownerID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return balance, nil
}
