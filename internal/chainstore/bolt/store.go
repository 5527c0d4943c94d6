// Package bolt is an embedded chainstore.Store for single-node deployments.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
)

var ErrInvalidConfig = errors.New("chainstore/bolt: invalid config")

var (
	accountsBucket     = []byte("Accounts")
	transactionsBucket = []byte("Transactions")
	cursorsBucket      = []byte("Cursors")
	// Pending messages live under their sequence number; the index maps a
	// message id to that sequence.
	pendingBucket      = []byte("Pending")
	pendingIndexBucket = []byte("PendingIndex")
)

type Store struct {
	db *bbolt.DB
}

var _ chainstore.Store = (*Store)(nil)

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	db, err := bbolt.Open(path, 0o660, nil)
	if err != nil {
		return nil, fmt.Errorf("chainstore/bolt: open: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *bbolt.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil db", ErrInvalidConfig)
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, bn := range [][]byte{accountsBucket, transactionsBucket, cursorsBucket, pendingBucket, pendingIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(bn); err != nil {
				return fmt.Errorf("create bucket %s: %w", bn, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chainstore/bolt: init: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetAccount(_ context.Context, addr string) (chainstore.Account, error) {
	var a chainstore.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(accountsBucket).Get([]byte(addr))
		if v == nil {
			return chainstore.ErrNotFound
		}
		return json.Unmarshal(v, &a)
	})
	if err != nil {
		return chainstore.Account{}, err
	}
	return a, nil
}

func (s *Store) CreateAccount(_ context.Context, a chainstore.Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b.Get([]byte(a.Address)) != nil {
			return chainstore.ErrAlreadyExists
		}
		return putJSON(b, []byte(a.Address), a)
	})
}

func (s *Store) Commit(_ context.Context, prevLT uint64, a chainstore.Account, t chainstore.Transaction) error {
	if err := chainstore.ValidateCommit(prevLT, a, t); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		accounts := tx.Bucket(accountsBucket)
		v := accounts.Get([]byte(a.Address))
		if v == nil {
			return chainstore.ErrNotFound
		}
		var cur chainstore.Account
		if err := json.Unmarshal(v, &cur); err != nil {
			return fmt.Errorf("chainstore/bolt: decode account: %w", err)
		}
		if cur.LastLT != prevLT {
			return chainstore.ErrConflict
		}
		if t.Consumes != nil {
			if err := deletePending(tx, *t.Consumes); err != nil {
				return err
			}
		}
		for _, p := range chainstore.PendingOf(t) {
			if err := insertPending(tx, p); err != nil {
				return err
			}
		}
		if err := putJSON(accounts, []byte(a.Address), a); err != nil {
			return err
		}
		return putJSON(tx.Bucket(transactionsBucket), txKey(a.Address, t.LT), t)
	})
}

func (s *Store) ListPending(_ context.Context, limit int) ([]chainstore.Pending, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []chainstore.Pending
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(pendingBucket).Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			var p chainstore.Pending
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("chainstore/bolt: decode pending: %w", err)
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ReplacePending(_ context.Context, p chainstore.Pending) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		seq := tx.Bucket(pendingIndexBucket).Get(pendingIDKey(p.ID))
		if len(seq) != 8 {
			return chainstore.ErrNotFound
		}
		p.Seq = binary.BigEndian.Uint64(seq)
		return putJSON(tx.Bucket(pendingBucket), seq, p)
	})
}

func insertPending(tx *bbolt.Tx, p chainstore.Pending) error {
	b := tx.Bucket(pendingBucket)
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("chainstore/bolt: pending sequence: %w", err)
	}
	p.Seq = seq
	key := binary.BigEndian.AppendUint64(nil, seq)
	if err := putJSON(b, key, p); err != nil {
		return err
	}
	return tx.Bucket(pendingIndexBucket).Put(pendingIDKey(p.ID), key)
}

func deletePending(tx *bbolt.Tx, id chainstore.MessageID) error {
	idx := tx.Bucket(pendingIndexBucket)
	key := pendingIDKey(id)
	seq := idx.Get(key)
	if seq == nil {
		return fmt.Errorf("%w: message %+v is not pending", chainstore.ErrConflict, id)
	}
	// Keys returned by Get are only valid until the next write.
	seq = bytes.Clone(seq)
	if err := idx.Delete(key); err != nil {
		return err
	}
	return tx.Bucket(pendingBucket).Delete(seq)
}

func pendingIDKey(id chainstore.MessageID) []byte {
	return binary.BigEndian.AppendUint32(txKey(id.Account, id.LT), id.Index)
}

func (s *Store) GetTransaction(_ context.Context, addr string, lt uint64) (chainstore.Transaction, error) {
	var t chainstore.Transaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(transactionsBucket).Get(txKey(addr, lt))
		if v == nil {
			return chainstore.ErrNotFound
		}
		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return chainstore.Transaction{}, err
	}
	return t, nil
}

func (s *Store) ListTransactions(_ context.Context, addr string, beforeLT uint64, limit int) ([]chainstore.Transaction, error) {
	if limit <= 0 {
		return nil, nil
	}
	prefix := txPrefix(addr)
	var out []chainstore.Transaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(transactionsBucket).Cursor()

		upper := beforeLT
		if upper == 0 {
			upper = ^uint64(0)
		}
		// Position on the last key below upper.
		k, v := c.Seek(txKey(addr, upper))
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix) && len(out) < limit; k, v = c.Prev() {
			var t chainstore.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListTransactionsAfter(_ context.Context, addr string, afterLT uint64, limit int) ([]chainstore.Transaction, error) {
	if limit <= 0 || afterLT == ^uint64(0) {
		return nil, nil
	}
	prefix := txPrefix(addr)
	var out []chainstore.Transaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(transactionsBucket).Cursor()
		for k, v := c.Seek(txKey(addr, afterLT+1)); k != nil && bytes.HasPrefix(k, prefix) && len(out) < limit; k, v = c.Next() {
			var t chainstore.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetCursor(_ context.Context, name string) (uint64, error) {
	var lt uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(cursorsBucket).Get([]byte(name)); len(v) == 8 {
			lt = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return lt, err
}

func (s *Store) SetCursor(_ context.Context, name string, lt uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(cursorsBucket)
		if v := b.Get([]byte(name)); len(v) == 8 && binary.BigEndian.Uint64(v) >= lt {
			return nil
		}
		return b.Put([]byte(name), binary.BigEndian.AppendUint64(nil, lt))
	})
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("chainstore/bolt: encode: %w", err)
	}
	return b.Put(key, raw)
}

// Transaction keys are address, a zero separator and the big-endian lt, so
// one account's history is a contiguous, lt-ordered key range.
func txPrefix(addr string) []byte {
	return append([]byte(addr), 0)
}

func txKey(addr string, lt uint64) []byte {
	return binary.BigEndian.AppendUint64(txPrefix(addr), lt)
}
