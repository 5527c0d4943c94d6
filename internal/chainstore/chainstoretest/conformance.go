// Package chainstoretest holds the behaviour every chainstore.Store must
// share, run against each driver from its own tests.
package chainstoretest

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
)

const testAddr = "0:1111111111111111111111111111111111111111111111111111111111111111"

func receipt(lt uint64, op uint32) chainstore.Transaction {
	return chainstore.Transaction{
		Account:    testAddr,
		LT:         lt,
		Kind:       chainstore.KindInternal,
		Src:        "0:2222222222222222222222222222222222222222222222222222222222222222",
		Value:      big.NewInt(1_000_000_000),
		InBody:     []byte{0x01, 0x02},
		Op:         op,
		GasUsed:    3000,
		ComputeFee: big.NewInt(1_200_000),
		ForwardFee: big.NewInt(748_800),
		Logs:       [][]byte{{0xaa}},
		Transfers: []chainstore.Transfer{
			{To: "0:3333333333333333333333333333333333333333333333333333333333333333", Amount: big.NewInt(5), Bounce: true},
		},
	}
}

// Run exercises s, which must be empty.
func Run(t *testing.T, s chainstore.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.GetAccount(ctx, testAddr); !errors.Is(err, chainstore.ErrNotFound) {
		t.Fatalf("GetAccount(missing): expected ErrNotFound, got %v", err)
	}

	genesis := chainstore.Account{
		Address: testAddr,
		Balance: big.NewInt(10),
		Code:    []byte{0xc0},
		Data:    []byte{0xda},
	}
	if err := s.CreateAccount(ctx, genesis); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.CreateAccount(ctx, genesis); !errors.Is(err, chainstore.ErrAlreadyExists) {
		t.Fatalf("CreateAccount #2: expected ErrAlreadyExists, got %v", err)
	}

	prev := uint64(0)
	for lt := uint64(1); lt <= 5; lt++ {
		a := genesis.Clone()
		a.Balance = big.NewInt(int64(10 + lt))
		a.Data = []byte{byte(lt)}
		a.LastLT = lt
		if err := s.Commit(ctx, prev, a, receipt(lt, uint32(100+lt))); err != nil {
			t.Fatalf("Commit lt=%d: %v", lt, err)
		}
		prev = lt
	}

	stale := genesis.Clone()
	stale.LastLT = 6
	if err := s.Commit(ctx, 4, stale, receipt(6, 100)); !errors.Is(err, chainstore.ErrConflict) {
		t.Fatalf("Commit(stale): expected ErrConflict, got %v", err)
	}
	bad := genesis.Clone()
	bad.LastLT = 9
	if err := s.Commit(ctx, 5, bad, receipt(6, 100)); !errors.Is(err, chainstore.ErrInvalidCommit) {
		t.Fatalf("Commit(lt mismatch): expected ErrInvalidCommit, got %v", err)
	}

	got, err := s.GetAccount(ctx, testAddr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.LastLT != 5 || got.Balance.Cmp(big.NewInt(15)) != 0 || len(got.Data) != 1 || got.Data[0] != 5 {
		t.Fatalf("account after commits: %+v", got)
	}

	tx, err := s.GetTransaction(ctx, testAddr, 3)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Op != 103 || tx.Kind != chainstore.KindInternal || tx.ComputeFee.Cmp(big.NewInt(1_200_000)) != 0 {
		t.Fatalf("transaction 3: %+v", tx)
	}
	if len(tx.Logs) != 1 || len(tx.Transfers) != 1 || !tx.Transfers[0].Bounce {
		t.Fatalf("transaction 3 effects: %+v", tx)
	}
	if _, err := s.GetTransaction(ctx, testAddr, 42); !errors.Is(err, chainstore.ErrNotFound) {
		t.Fatalf("GetTransaction(missing): expected ErrNotFound, got %v", err)
	}

	latest, err := s.ListTransactions(ctx, testAddr, 0, 2)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(latest) != 2 || latest[0].LT != 5 || latest[1].LT != 4 {
		t.Fatalf("ListTransactions(latest): %+v", lts(latest))
	}
	older, err := s.ListTransactions(ctx, testAddr, 4, 10)
	if err != nil {
		t.Fatalf("ListTransactions(before 4): %v", err)
	}
	if len(older) != 3 || older[0].LT != 3 || older[2].LT != 1 {
		t.Fatalf("ListTransactions(before 4): %+v", lts(older))
	}

	after, err := s.ListTransactionsAfter(ctx, testAddr, 2, 2)
	if err != nil {
		t.Fatalf("ListTransactionsAfter: %v", err)
	}
	if len(after) != 2 || after[0].LT != 3 || after[1].LT != 4 {
		t.Fatalf("ListTransactionsAfter(2): %+v", lts(after))
	}
	if other, err := s.ListTransactionsAfter(ctx, "0:ff", 0, 10); err != nil || len(other) != 0 {
		t.Fatalf("ListTransactionsAfter(other account): %v, %v", lts(other), err)
	}

	if c, err := s.GetCursor(ctx, "deposits"); err != nil || c != 0 {
		t.Fatalf("GetCursor(new): %d, %v", c, err)
	}
	if err := s.SetCursor(ctx, "deposits", 4); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if err := s.SetCursor(ctx, "deposits", 2); err != nil {
		t.Fatalf("SetCursor(backwards): %v", err)
	}
	if c, err := s.GetCursor(ctx, "deposits"); err != nil || c != 4 {
		t.Fatalf("cursor must not move backwards: %d, %v", c, err)
	}

	runPending(t, s)
}

const recipientAddr = "0:3333333333333333333333333333333333333333333333333333333333333333"

// runPending expects the five committed receipts above, each emitting one
// transfer, and nothing else pending.
func runPending(t *testing.T, s chainstore.Store) {
	t.Helper()
	ctx := context.Background()

	all, err := s.ListPending(ctx, 100)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("pending after commits: got %d want 5", len(all))
	}
	for i, p := range all {
		want := chainstore.MessageID{Account: testAddr, LT: uint64(i + 1)}
		if p.ID != want || p.From != testAddr || p.To != recipientAddr || p.Amount.Cmp(big.NewInt(5)) != 0 || !p.Bounce {
			t.Fatalf("pending %d: %+v", i, p)
		}
		if i > 0 && p.Seq <= all[i-1].Seq {
			t.Fatalf("pending not in emission order: %d after %d", p.Seq, all[i-1].Seq)
		}
	}
	if head, err := s.ListPending(ctx, 2); err != nil || len(head) != 2 || head[1].ID.LT != 2 {
		t.Fatalf("ListPending(2): %+v, %v", head, err)
	}

	first := all[0].ID
	bounce := chainstore.Pending{ID: first, From: recipientAddr, Transfer: chainstore.Transfer{
		To:      testAddr,
		Amount:  big.NewInt(4),
		Bounced: true,
		Body:    []byte{0xff, 0xff, 0xff, 0xff},
	}}
	if err := s.ReplacePending(ctx, bounce); err != nil {
		t.Fatalf("ReplacePending: %v", err)
	}
	head, err := s.ListPending(ctx, 1)
	if err != nil || len(head) != 1 {
		t.Fatalf("ListPending after replace: %+v, %v", head, err)
	}
	if got := head[0]; got.ID != first || got.Seq != all[0].Seq || got.From != recipientAddr || got.To != testAddr || !got.Bounced || len(got.Body) != 4 {
		t.Fatalf("replaced message: %+v", got)
	}
	missing := chainstore.Pending{ID: chainstore.MessageID{Account: testAddr, LT: 99}, Transfer: bounce.Transfer}
	if err := s.ReplacePending(ctx, missing); !errors.Is(err, chainstore.ErrNotFound) {
		t.Fatalf("ReplacePending(missing): expected ErrNotFound, got %v", err)
	}

	wallet := chainstore.Account{Address: recipientAddr, Balance: new(big.Int)}
	if err := s.CreateAccount(ctx, wallet); err != nil {
		t.Fatalf("CreateAccount(recipient): %v", err)
	}
	second := all[1].ID
	credit := chainstore.Transaction{
		Account:    recipientAddr,
		LT:         1,
		Kind:       chainstore.KindInternal,
		Src:        testAddr,
		Value:      big.NewInt(5),
		ComputeFee: new(big.Int),
		ForwardFee: new(big.Int),
		Consumes:   &second,
	}
	wallet.Balance, wallet.LastLT = big.NewInt(5), 1
	if err := s.Commit(ctx, 0, wallet, credit); err != nil {
		t.Fatalf("Commit(consume): %v", err)
	}
	stored, err := s.GetTransaction(ctx, recipientAddr, 1)
	if err != nil {
		t.Fatalf("GetTransaction(recipient): %v", err)
	}
	if stored.Consumes == nil || *stored.Consumes != second {
		t.Fatalf("consumed id not stored: %+v", stored.Consumes)
	}

	// The same message cannot be applied twice, and a refused commit
	// leaves the account alone.
	again := credit.Clone()
	again.LT = 2
	wallet.Balance, wallet.LastLT = big.NewInt(10), 2
	if err := s.Commit(ctx, 1, wallet, again); !errors.Is(err, chainstore.ErrConflict) {
		t.Fatalf("Commit(consume twice): expected ErrConflict, got %v", err)
	}
	if a, err := s.GetAccount(ctx, recipientAddr); err != nil || a.LastLT != 1 || a.Balance.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("recipient after refused commit: %+v, %v", a, err)
	}

	rest, err := s.ListPending(ctx, 100)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(rest) != 4 || rest[0].ID != first || rest[1].ID.LT != 3 {
		t.Fatalf("pending after consume: %+v", rest)
	}
}

func lts(txs []chainstore.Transaction) []uint64 {
	out := make([]uint64, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.LT)
	}
	return out
}
