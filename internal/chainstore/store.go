package chainstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("chainstore: not found")
	ErrAlreadyExists = errors.New("chainstore: already exists")
	ErrConflict      = errors.New("chainstore: conflicting commit")
	ErrInvalidCommit = errors.New("chainstore: invalid commit")
)

// Store persists accounts, their transaction history and the outbound
// messages still in flight. Commit writes the new account state and its
// receipt atomically, and only if the stored account is still at prevLT.
// In the same write it removes tx.Consumes from the pending set (failing
// with ErrConflict when it is no longer there) and adds PendingOf(tx).
type Store interface {
	GetAccount(ctx context.Context, addr string) (Account, error)
	CreateAccount(ctx context.Context, a Account) error
	Commit(ctx context.Context, prevLT uint64, a Account, tx Transaction) error

	GetTransaction(ctx context.Context, addr string, lt uint64) (Transaction, error)
	// ListTransactions returns up to limit receipts older than beforeLT,
	// newest first. beforeLT 0 means from the latest.
	ListTransactions(ctx context.Context, addr string, beforeLT uint64, limit int) ([]Transaction, error)
	// ListTransactionsAfter returns up to limit receipts newer than
	// afterLT, oldest first.
	ListTransactionsAfter(ctx context.Context, addr string, afterLT uint64, limit int) ([]Transaction, error)

	// ListPending returns up to limit pending messages, oldest first.
	ListPending(ctx context.Context, limit int) ([]Pending, error)
	// ReplacePending swaps the content of a pending message in place,
	// keeping its ID and position. ErrNotFound when it is not pending.
	ReplacePending(ctx context.Context, p Pending) error

	// Cursors track how far named consumers have read an account's history.
	GetCursor(ctx context.Context, name string) (uint64, error)
	SetCursor(ctx context.Context, name string, lt uint64) error
}

// ValidateCommit holds the checks every Store applies before writing.
func ValidateCommit(prevLT uint64, a Account, tx Transaction) error {
	if a.Address == "" || tx.Account != a.Address {
		return fmt.Errorf("%w: account mismatch", ErrInvalidCommit)
	}
	if a.Balance == nil || a.Balance.Sign() < 0 {
		return fmt.Errorf("%w: negative balance", ErrInvalidCommit)
	}
	if a.LastLT != tx.LT || tx.LT <= prevLT {
		return fmt.Errorf("%w: lt must advance", ErrInvalidCommit)
	}
	if tx.Consumes != nil && tx.Consumes.Account == "" {
		return fmt.Errorf("%w: consumed message without sender", ErrInvalidCommit)
	}
	for i, tr := range tx.Transfers {
		if tr.To == "" || tr.Amount == nil || tr.Amount.Sign() < 0 {
			return fmt.Errorf("%w: transfer %d", ErrInvalidCommit, i)
		}
	}
	return nil
}
