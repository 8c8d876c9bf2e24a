// Package runtx provides a reusable "run this inside one transaction"
// combinator over kmysql.Pool or kmysql.Conn: nested calls on the same
// context reuse the already-open Txn instead of nesting BEGINs.
package runtx

import (
	"context"
	"fmt"

	"github.com/karu-codes/kmysql/kmysql"
)

type txKey struct{}

// TxFn is a unit of work run inside a transaction.
type TxFn func(ctx context.Context) error

// TxFnResult is TxFn with a typed return value, for use with RunTransaction.
type TxFnResult[T any] func(ctx context.Context) (T, error)

// Transactable runs fn atomically, committing on success and rolling back
// on error or panic.
type Transactable interface {
	Atomically(ctx context.Context, fn TxFn) error
}

// Beginner begins a transaction. *kmysql.Pool and *kmysql.Conn both satisfy
// it, so a Runner can sit atop either a pool (each transaction leases its
// own connection) or a single pinned Conn (every transaction it opens shares
// that one connection).
type Beginner interface {
	BeginTxn(ctx context.Context, opts *kmysql.TxOptions) (*kmysql.Txn, error)
}

// Runner is the default Transactable: it begins a transaction via the given
// Beginner with the given options, unless the context already carries one.
type Runner struct {
	beginner Beginner
	opts     *kmysql.TxOptions
}

// New returns a Runner bound to beginner (a *kmysql.Pool or *kmysql.Conn),
// using opts for any transaction it begins itself.
func New(beginner Beginner, opts *kmysql.TxOptions) *Runner {
	return &Runner{beginner: beginner, opts: opts}
}

// Atomically runs fn inside a transaction. If ctx already carries one
// (a nested call from within another Atomically), fn runs directly against
// it instead of opening a second transaction.
func (r *Runner) Atomically(ctx context.Context, fn TxFn) error {
	if _, ok := ctx.Value(txKey{}).(*kmysql.Txn); ok {
		return fn(ctx)
	}

	txn, err := r.beginner.BeginTxn(ctx, r.opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var fnErr error
	defer func() {
		if p := recover(); p != nil {
			_ = txn.Rollback(ctx)
			panic(p)
		}
		if fnErr != nil {
			_ = txn.Rollback(ctx)
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, txn)
	fnErr = fn(txCtx)
	if fnErr != nil {
		return fnErr
	}

	if commitErr := txn.Commit(ctx); commitErr != nil {
		return fmt.Errorf("failed to commit transaction: %w", commitErr)
	}
	return nil
}

// RunTransaction runs fn atomically via t and returns its typed result.
func RunTransaction[T any](ctx context.Context, t Transactable, fn TxFnResult[T]) (T, error) {
	var result T
	err := t.Atomically(ctx, func(txCtx context.Context) error {
		var err error
		result, err = fn(txCtx)
		return err
	})
	return result, err
}

// GetTxn returns the transaction carried by ctx, or nil outside of
// Atomically.
func GetTxn(ctx context.Context) *kmysql.Txn {
	if txn, ok := ctx.Value(txKey{}).(*kmysql.Txn); ok {
		return txn
	}
	return nil
}
