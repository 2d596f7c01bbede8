package core

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	retryBaseDelay = 20 * time.Millisecond
	retryMaxDelay  = 500 * time.Millisecond
)

// runInTx runs fn inside a fresh transaction and commits it. Serialization
// failures and deadlocks restart the whole unit up to maxRetries more times.
// fn must not keep state between attempts.
func runInTx(ctx context.Context, pool *pgxpool.Pool, maxRetries int, fn func(tx pgx.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := runOnce(ctx, pool, fn)
		if err == nil || !isRetryable(err) || attempt >= maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(backoffDelay(attempt)):
		}
	}
}

func runOnce(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// backoffDelay is exponential with full jitter: uniform in [0, min(max, base*2^attempt)).
func backoffDelay(attempt int) time.Duration {
	ceiling := retryBaseDelay << attempt
	if ceiling <= 0 || ceiling > retryMaxDelay {
		ceiling = retryMaxDelay
	}
	return time.Duration(rand.Int64N(int64(ceiling)))
}
