package chainstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	txs      map[string][]Transaction
	cursors  map[string]uint64
	pending  map[MessageID]Pending
	seq      uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		txs:      make(map[string][]Transaction),
		cursors:  make(map[string]uint64),
		pending:  make(map[MessageID]Pending),
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, addr string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[addr]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.Address]; ok {
		return ErrAlreadyExists
	}
	s.accounts[a.Address] = a.Clone()
	return nil
}

func (s *MemoryStore) Commit(_ context.Context, prevLT uint64, a Account, tx Transaction) error {
	if err := ValidateCommit(prevLT, a, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[a.Address]
	if !ok {
		return ErrNotFound
	}
	if cur.LastLT != prevLT {
		return ErrConflict
	}
	if tx.Consumes != nil {
		if _, ok := s.pending[*tx.Consumes]; !ok {
			return fmt.Errorf("%w: message %+v is not pending", ErrConflict, *tx.Consumes)
		}
		delete(s.pending, *tx.Consumes)
	}
	for _, p := range PendingOf(tx) {
		s.seq++
		p.Seq = s.seq
		s.pending[p.ID] = p
	}
	s.accounts[a.Address] = a.Clone()
	s.txs[a.Address] = append(s.txs[a.Address], tx.Clone())
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	out := make([]Pending, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ReplacePending(_ context.Context, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.pending[p.ID]
	if !ok {
		return ErrNotFound
	}
	p = p.Clone()
	p.Seq = cur.Seq
	s.pending[p.ID] = p
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, addr string, lt uint64) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.txs[addr]
	i := sort.Search(len(list), func(i int) bool { return list[i].LT >= lt })
	if i == len(list) || list[i].LT != lt {
		return Transaction{}, ErrNotFound
	}
	return list[i].Clone(), nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, addr string, beforeLT uint64, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	list := s.txs[addr]
	out := make([]Transaction, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeLT != 0 && list[i].LT >= beforeLT {
			continue
		}
		out = append(out, list[i].Clone())
	}
	return out, nil
}

func (s *MemoryStore) ListTransactionsAfter(_ context.Context, addr string, afterLT uint64, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	list := s.txs[addr]
	i := sort.Search(len(list), func(i int) bool { return list[i].LT > afterLT })
	out := make([]Transaction, 0, min(limit, len(list)-i))
	for ; i < len(list) && len(out) < limit; i++ {
		out = append(out, list[i].Clone())
	}
	return out, nil
}

func (s *MemoryStore) GetCursor(_ context.Context, name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[name], nil
}

func (s *MemoryStore) SetCursor(_ context.Context, name string, lt uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Cursors never move backwards.
	if lt > s.cursors[name] {
		s.cursors[name] = lt
	}
	return nil
}
