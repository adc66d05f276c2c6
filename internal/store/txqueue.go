// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-file-vault/internal/logger"
)

// txQueue serializes exclusive transactions: at most one is open at any
// time and waiters are granted strictly in arrival order. A waiter can
// abandon its place in the queue through context cancellation, but a
// running transaction is never interrupted.
type txQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

func newTxQueue() *txQueue {
	return &txQueue{}
}

// acquire blocks until the caller holds the single transaction slot or ctx
// is cancelled while still queued.
func (q *txQueue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if !q.busy {
		q.busy = true
		q.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	q.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, w := range q.waiters {
			if w == ready {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				q.mu.Unlock()
				return ctx.Err()
			}
		}
		q.mu.Unlock()

		// The slot was granted while we were cancelling; hand it on so
		// the queue does not stall.
		q.release()
		return ctx.Err()
	}
}

// release hands the slot to the oldest waiter, or frees it.
func (q *txQueue) release() {
	q.mu.Lock()
	if len(q.waiters) > 0 {
		ready := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.mu.Unlock()
		close(ready)
		return
	}
	q.busy = false
	q.mu.Unlock()
}

type txMarkerKey struct{}

// RunExclusive runs fn inside the single serialized write transaction.
//
// The call blocks behind every earlier queued transaction; cancelling ctx
// abandons the wait but cannot abort fn once it has started. An error from
// fn rolls the whole transaction back, so version-chain rewiring never
// partially applies. Calling RunExclusive again from inside fn fails with
// [ErrNestedTransaction].
//
// The context passed to fn carries the transaction trace id and should be
// propagated into every store call made with tx.
func (db *DB) RunExclusive(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if ctx.Value(txMarkerKey{}) != nil {
		return ErrNestedTransaction
	}

	if err := db.queue.acquire(ctx); err != nil {
		return err
	}
	defer db.queue.release()

	txID := uuid.NewString()
	log := db.logger.With().Str("tx", txID).Logger()
	log.Debug().Msg("transaction started")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Err(err).Msg("transaction begin failed")
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}

	txCtx := context.WithValue(ctx, txMarkerKey{}, txID)
	txCtx = (&logger.Logger{Logger: log}).WithContext(txCtx)

	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Err(rbErr).Msg("transaction rollback failed")
		}
		log.Debug().Err(err).Msg("transaction rolled back")
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Err(err).Msg("transaction commit failed")
		return fmt.Errorf("%w: %w", ErrCommittingTransaction, err)
	}
	log.Debug().Msg("transaction committed")
	return nil
}
