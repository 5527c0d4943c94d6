package gateway

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/blobstore"
	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

type harness struct {
	fixture
	machine  *Machine
	registry *host.Registry
	store    *chainstore.MemoryStore
	archive  *blobstore.Archive
	exec     *host.Executor
}

func newHarness(t *testing.T, balance *big.Int, opts ...func(*fixture)) *harness {
	t.Helper()
	f := newFixture(t)
	for _, opt := range opts {
		opt(&f)
	}

	m, err := NewMachine(f.schedule)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	reg := host.NewRegistry()
	code := m.Register(reg)

	blobs, err := blobstore.New(blobstore.Config{})
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	archive, err := blobstore.NewArchive(blobs)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	store := chainstore.NewMemoryStore()
	exec, err := host.New(host.Config{Store: store, Registry: reg, Archive: archive})
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}

	data, err := wire.EncodeState(f.state)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	if err := exec.Deploy(context.Background(), f.self, code, data, balance); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	return &harness{fixture: f, machine: m, registry: reg, store: store, archive: archive, exec: exec}
}

func (h *harness) sendInternal(t *testing.T, from *address.Address, value *big.Int, r wire.Request) ([]chainstore.Transaction, error) {
	t.Helper()
	return h.exec.Send(context.Background(), host.Message{
		Src:    from,
		Dst:    h.self,
		Value:  value,
		Bounce: true,
		Body:   mustRequest(t, r),
	})
}

func (h *harness) sendSigned(t *testing.T, p wire.Payload) ([]chainstore.Transaction, error) {
	t.Helper()
	in := signed(t, h.tssKey, p)
	return h.exec.Send(context.Background(), host.Message{External: true, Dst: h.self, Body: in.Body})
}

func (h *harness) gateway(t *testing.T) (host.Account, State) {
	t.Helper()
	acct, err := h.exec.Account(context.Background(), h.self)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	st, err := h.machine.GetState(acct.Data)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	return acct, st
}

func (h *harness) balanceOf(t *testing.T, a *address.Address) *big.Int {
	t.Helper()
	acct, err := h.exec.Account(context.Background(), a)
	if err != nil {
		t.Fatalf("Account(%s): %v", wire.RawAddress(a), err)
	}
	return acct.Balance
}

func TestMachine_DepositWithdrawThroughHost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, ton(0.5))

	receipts, err := h.sendInternal(t, h.user, ton(1), wire.Deposit{QueryID: 1, Recipient: remoteRecipient})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if len(receipts) != 1 || receipts[0].ExitCode != 0 || len(receipts[0].Logs) != 1 {
		t.Fatalf("unexpected deposit receipts: %+v", receipts)
	}
	acct, st := h.gateway(t)
	if st.Locked.Cmp(ton(0.99)) != 0 {
		t.Fatalf("locked: got %s want %s", st.Locked, ton(0.99))
	}
	if acct.Balance.Cmp(st.Locked) < 0 {
		t.Fatalf("balance %s below locked %s", acct.Balance, st.Locked)
	}

	// Too little value fails and the remainder bounces back to the sender,
	// which becomes a plain wallet.
	receipts, err = h.sendInternal(t, h.user, ton(0.006), wire.Deposit{QueryID: 2, Recipient: remoteRecipient})
	if err != nil {
		t.Fatalf("small deposit: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("receipts: got %d want 2", len(receipts))
	}
	if receipts[0].ExitCode != int32(ExitInsufficientValue) || len(receipts[0].Logs) != 0 {
		t.Fatalf("unexpected failed deposit receipt: %+v", receipts[0])
	}
	refund := new(big.Int).Sub(ton(0.006), receipts[0].ComputeFee)
	if got := h.balanceOf(t, h.user); got.Cmp(refund) != 0 {
		t.Fatalf("bounced refund: got %s want %s", got, refund)
	}
	if !receipts[1].Bounced {
		t.Fatalf("refund receipt not marked bounced")
	}

	before := h.balanceOf(t, h.user)
	receipts, err = h.sendSigned(t, wire.Withdraw{Recipient: h.user, Amount: ton(0.4), Seqno: 0})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(receipts) != 2 || receipts[0].Kind != chainstore.KindExternal {
		t.Fatalf("unexpected withdraw receipts: %+v", receipts)
	}
	_, st = h.gateway(t)
	if st.Locked.Cmp(ton(0.59)) != 0 || st.Seqno != 1 {
		t.Fatalf("after withdraw: locked %s seqno %d", st.Locked, st.Seqno)
	}
	if got, want := h.balanceOf(t, h.user), new(big.Int).Add(before, ton(0.4)); got.Cmp(want) != 0 {
		t.Fatalf("recipient balance: got %s want %s", got, want)
	}

	lastLT := receipts[0].LT
	if _, err := h.sendSigned(t, wire.Withdraw{Recipient: h.user, Amount: ton(0.4), Seqno: 0}); !errors.Is(err, host.ErrRejected) {
		t.Fatalf("replay: expected ErrRejected, got %v", err)
	}
	if acct, _ := h.gateway(t); acct.LastLT != lastLT {
		t.Fatalf("rejected external left a trace: lt %d want %d", acct.LastLT, lastLT)
	}
}

func TestMachine_UpdateCode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, ton(0.5))
	_, before := h.gateway(t)

	receipts, err := h.sendInternal(t, h.authority, ton(1), wire.UpdateCode{QueryID: 1, Code: Code(9)})
	if err != nil {
		t.Fatalf("update to unknown code: %v", err)
	}
	if receipts[0].ExitCode != host.ExitUnknownCode {
		t.Fatalf("exit code: got %d want %d", receipts[0].ExitCode, host.ExitUnknownCode)
	}
	acct, _ := h.gateway(t)
	if !bytes.Equal(acct.Code.Hash(), Code(CodeVersion).Hash()) {
		t.Fatalf("code changed to an unregistered revision")
	}

	// A registered revision is installed and the data carries over.
	next := Code(2)
	h.registry.Register(next, h.machine)

	if _, err := h.sendInternal(t, h.authority, ton(1), wire.UpdateCode{QueryID: 2, Code: next}); err != nil {
		t.Fatalf("update code: %v", err)
	}
	acct, after := h.gateway(t)
	if !bytes.Equal(acct.Code.Hash(), next.Hash()) {
		t.Fatalf("code not installed")
	}
	if after.Seqno != before.Seqno || after.TSS != before.TSS {
		t.Fatalf("data changed across code update")
	}
	if _, err := h.archive.GetCode(context.Background(), next.Hash()); err != nil {
		t.Fatalf("installed code not archived: %v", err)
	}
}

func TestMachine_ConservationOverRandomTraffic(t *testing.T) {
	t.Parallel()

	for _, reserve := range []*big.Int{new(big.Int), ton(0.05)} {
		t.Run("reserve="+reserve.String(), func(t *testing.T) {
			t.Parallel()
			checkConservation(t, reserve)
		})
	}
}

func checkConservation(t *testing.T, reserve *big.Int) {
	h := newHarness(t, ton(1), func(f *fixture) { f.schedule.WithdrawReserve = reserve.Uint64() })
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()
	withdrawn := 0

	for i := 0; i < 200; i++ {
		_, st := h.gateway(t)

		var (
			receipts []chainstore.Transaction
			err      error
		)
		switch rng.Intn(5) {
		case 0, 1:
			value := big.NewInt(rng.Int63n(2 * nanoPerTON))
			receipts, err = h.sendInternal(t, h.user, value, wire.Deposit{QueryID: uint64(i), Recipient: remoteRecipient})
		case 2:
			value := big.NewInt(rng.Int63n(nanoPerTON / 10))
			receipts, err = h.sendInternal(t, h.user, value, wire.DepositAndCall{QueryID: uint64(i), Recipient: remoteRecipient, CallData: []byte{byte(i)}})
		case 3:
			if st.Locked.Sign() == 0 {
				continue
			}
			amount := new(big.Int).Rand(rng, st.Locked)
			receipts, err = h.sendSigned(t, wire.Withdraw{Recipient: h.user, Amount: amount, Seqno: st.Seqno})
		case 4:
			receipts, err = h.sendInternal(t, h.user, big.NewInt(rng.Int63n(nanoPerTON)), wire.Donate{QueryID: uint64(i)})
		}
		if err != nil && !errors.Is(err, host.ErrRejected) {
			t.Fatalf("step %d: %v", i, err)
		}
		for _, tx := range receipts {
			if tx.Account == wire.RawAddress(h.self) && tx.ExitCode != 0 && len(tx.Logs) != 0 {
				t.Fatalf("step %d: failed transaction emitted logs", i)
			}
		}

		acct, st := h.gateway(t)
		if acct.Balance.Cmp(st.Locked) < 0 {
			t.Fatalf("step %d: balance %s below locked %s", i, acct.Balance, st.Locked)
		}
	}

	// Locked value is exactly what the logs credited minus what left as
	// withdrawals.
	want := new(big.Int)
	txs, err := h.store.ListTransactionsAfter(ctx, wire.RawAddress(h.self), 0, 1000)
	if err != nil {
		t.Fatalf("ListTransactionsAfter: %v", err)
	}
	for _, tx := range txs {
		for _, raw := range tx.Logs {
			c, err := wire.ParseBOC(raw)
			if err != nil {
				t.Fatalf("ParseBOC: %v", err)
			}
			l, err := wire.DecodeDepositLog(c)
			if err != nil {
				t.Fatalf("DecodeDepositLog: %v", err)
			}
			want.Add(want, l.Amount)
		}
		for _, tr := range tx.Transfers {
			if !tr.Bounced {
				want.Sub(want, tr.Amount)
				want.Sub(want, reserve)
				withdrawn++
			}
		}
	}
	if _, st := h.gateway(t); st.Locked.Cmp(want) != 0 {
		t.Fatalf("locked %s does not match ledger history %s", st.Locked, want)
	}
	if withdrawn == 0 {
		t.Fatalf("traffic never withdrew")
	}
}

func TestMachine_Getters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, ton(0.5))
	acct, _ := h.gateway(t)
	seqno, err := h.machine.GetSeqno(acct.Data)
	if err != nil || seqno != 0 {
		t.Fatalf("GetSeqno: %d, %v", seqno, err)
	}
	fee, err := h.machine.EstimateFee(wire.OpDeposit)
	if err != nil || fee.Cmp(ton(0.01)) != 0 {
		t.Fatalf("EstimateFee(deposit): %s, %v", fee, err)
	}
	if _, err := h.machine.GetState(cell.BeginCell().EndCell()); err == nil {
		t.Fatalf("expected error decoding empty data")
	}
}
