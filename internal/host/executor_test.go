package host

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/blobstore"
	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/idempotency"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

func testAddr(b byte) *address.Address {
	data := make([]byte, 32)
	for i := range data {
		data[i] = b
	}
	return address.NewAddress(0, 0, data)
}

func codeCell(tag uint64) *cell.Cell {
	return cell.BeginCell().MustStoreUInt(tag, 32).EndCell()
}

func emptyData() *cell.Cell { return cell.BeginCell().EndCell() }

type recordingMetrics struct {
	mu       sync.Mutex
	txs      int
	rejected []int32
}

func (m *recordingMetrics) ObserveTransaction(string, uint32, int32, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++
}

func (m *recordingMetrics) ObserveRejected(code int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, code)
}

type env struct {
	store   *chainstore.MemoryStore
	reg     *Registry
	exec    *Executor
	metrics *recordingMetrics
	hooked  []chainstore.Transaction
}

func newEnv(t *testing.T, mutate func(*Config)) *env {
	t.Helper()
	e := &env{store: chainstore.NewMemoryStore(), reg: NewRegistry(), metrics: &recordingMetrics{}}
	cfg := Config{
		Store:    e.store,
		Registry: e.reg,
		Metrics:  e.metrics,
		OnCommit: []func(context.Context, chainstore.Transaction){
			func(_ context.Context, tx chainstore.Transaction) { e.hooked = append(e.hooked, tx) },
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	exec, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.exec = exec
	return e
}

func (e *env) deploy(t *testing.T, addr *address.Address, tag uint64, m Machine, balance int64) {
	t.Helper()
	code := codeCell(tag)
	e.reg.Register(code, m)
	if err := e.exec.Deploy(context.Background(), addr, code, emptyData(), big.NewInt(balance)); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
}

func (e *env) balance(t *testing.T, a *address.Address) int64 {
	t.Helper()
	acct, err := e.exec.Account(context.Background(), a)
	if err != nil {
		t.Fatalf("Account(%s): %v", wire.RawAddress(a), err)
	}
	return acct.Balance.Int64()
}

func internal(from, to *address.Address, value int64, bounce bool) Message {
	return Message{Src: from, Dst: to, Value: big.NewInt(value), Bounce: bounce, Body: codeCell(1)}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Registry: NewRegistry()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for nil store, got %v", err)
	}
	if _, err := New(Config{Store: chainstore.NewMemoryStore()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for nil registry, got %v", err)
	}
}

func TestSend_CreatesWalletForPlainTransfer(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	receipts, err := e.exec.Send(context.Background(), internal(testAddr(1), testAddr(2), 500, false))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(receipts) != 1 || receipts[0].LT != 1 || receipts[0].Kind != chainstore.KindInternal {
		t.Fatalf("unexpected receipts: %+v", receipts)
	}
	if got := e.balance(t, testAddr(2)); got != 500 {
		t.Fatalf("balance: got %d want 500", got)
	}

	var bodyHash [32]byte
	copy(bodyHash[:], codeCell(1).Hash())
	want := idempotency.TransactionIDV1(wire.RawAddress(testAddr(2)), 1, bodyHash)
	if receipts[0].Hash != want {
		t.Fatalf("tx hash: got %x want %x", receipts[0].Hash, want)
	}
	if len(e.hooked) != 1 || e.metrics.txs != 1 {
		t.Fatalf("hooks=%d metrics=%d, want 1/1", len(e.hooked), e.metrics.txs)
	}
}

func TestSend_BouncesFromMissingAccount(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	receipts, err := e.exec.Send(context.Background(), internal(testAddr(1), testAddr(2), 700, true))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(receipts) != 1 || receipts[0].Account != wire.RawAddress(testAddr(1)) || !receipts[0].Bounced {
		t.Fatalf("expected one bounced receipt on the sender, got %+v", receipts)
	}
	if _, err := e.exec.Account(context.Background(), testAddr(2)); !errors.Is(err, chainstore.ErrNotFound) {
		t.Fatalf("bounceable transfer created the destination: %v", err)
	}
	if got := e.balance(t, testAddr(1)); got != 700 {
		t.Fatalf("sender balance: got %d want 700", got)
	}
	body := receipts[0].InBody
	c, err := cell.FromBOC(body)
	if err != nil {
		t.Fatalf("FromBOC: %v", err)
	}
	if op, _ := c.BeginParse().LoadUInt(32); op != bounceOp {
		t.Fatalf("bounce body op: got %x", op)
	}
}

func TestSend_ExternalRejections(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	if _, err := e.exec.Send(ctx, Message{External: true, Dst: testAddr(9), Body: codeCell(1)}); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}

	if _, err := e.exec.Send(ctx, internal(testAddr(1), testAddr(2), 1, false)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := e.exec.Send(ctx, Message{External: true, Dst: testAddr(2), Body: codeCell(1)}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected for wallet, got %v", err)
	}

	e.deploy(t, testAddr(3), 0xAA, MachineFunc(func(Env, *cell.Cell, Message) (Result, error) {
		return Result{ExitCode: 108}, errors.New("bad signature")
	}), 1000)
	_, err := e.exec.Send(ctx, Message{External: true, Dst: testAddr(3), Body: codeCell(1)})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.ExitCode != 108 {
		t.Fatalf("expected RejectedError with exit code 108, got %v", err)
	}
	acct, err := e.exec.Account(ctx, testAddr(3))
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.LastLT != 0 || acct.Balance.Int64() != 1000 {
		t.Fatalf("rejected external changed the account: %+v", acct)
	}
	if len(e.metrics.rejected) != 1 || e.metrics.rejected[0] != 108 {
		t.Fatalf("rejections observed: %v", e.metrics.rejected)
	}
}

func TestSend_FailedInternalBouncesRemainder(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	self := testAddr(3)
	e.deploy(t, self, 0xAB, MachineFunc(func(Env, *cell.Cell, Message) (Result, error) {
		return Result{Op: 101, ExitCode: 106, GasUsed: 10, ComputeFee: big.NewInt(100), Accepted: true}, errors.New("insufficient value")
	}), 1000)

	receipts, err := e.exec.Send(context.Background(), internal(testAddr(1), self, 600, true))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("receipts: got %d want 2", len(receipts))
	}
	if receipts[0].ExitCode != 106 || receipts[0].Op != 101 {
		t.Fatalf("unexpected failed receipt: %+v", receipts[0])
	}
	if len(receipts[0].Transfers) != 1 || !receipts[0].Transfers[0].Bounced || receipts[0].Transfers[0].Amount.Int64() != 500 {
		t.Fatalf("unexpected refund: %+v", receipts[0].Transfers)
	}
	if got := e.balance(t, self); got != 1000 {
		t.Fatalf("machine balance: got %d want 1000", got)
	}
	if got := e.balance(t, testAddr(1)); got != 500 {
		t.Fatalf("sender refund: got %d want 500", got)
	}
}

func TestSend_AppliesResultAndDeliversTransfersInOrder(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	self := testAddr(3)
	newData := cell.BeginCell().MustStoreUInt(77, 8).EndCell()
	e.deploy(t, self, 0xAC, MachineFunc(func(env Env, _ *cell.Cell, msg Message) (Result, error) {
		if env.Balance.Int64() != 1000+msg.Value.Int64() {
			return Result{}, errors.New("balance does not include inbound value")
		}
		return Result{
			Data: newData,
			Transfers: []Transfer{
				{To: testAddr(4), Amount: big.NewInt(200)},
				{To: testAddr(5), Amount: big.NewInt(300)},
			},
			Logs:       []*cell.Cell{codeCell(0x10)},
			ComputeFee: big.NewInt(50),
			ForwardFee: big.NewInt(25),
			Accepted:   true,
		}, nil
	}), 1000)

	receipts, err := e.exec.Send(context.Background(), internal(testAddr(1), self, 1000, true))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(receipts) != 3 {
		t.Fatalf("receipts: got %d want 3", len(receipts))
	}
	if receipts[1].Account != wire.RawAddress(testAddr(4)) || receipts[2].Account != wire.RawAddress(testAddr(5)) {
		t.Fatalf("transfers delivered out of order")
	}
	if got := e.balance(t, self); got != 1000+1000-50-25-200-300 {
		t.Fatalf("machine balance: got %d", got)
	}
	acct, err := e.exec.Account(context.Background(), self)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !bytes.Equal(acct.Data.Hash(), newData.Hash()) {
		t.Fatalf("data not updated")
	}
	if len(receipts[0].Logs) != 1 {
		t.Fatalf("logs: got %d want 1", len(receipts[0].Logs))
	}
	if pending, err := e.store.ListPending(context.Background(), 10); err != nil || len(pending) != 0 {
		t.Fatalf("pending after delivery: %+v, %v", pending, err)
	}
}

func TestSend_CascadeLimit(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(c *Config) { c.MaxCascade = 5 })
	pingPong := MachineFunc(func(env Env, _ *cell.Cell, msg Message) (Result, error) {
		return Result{Transfers: []Transfer{{To: msg.Src, Amount: msg.Value}}, Accepted: true}, nil
	})
	e.deploy(t, testAddr(3), 0xAD, pingPong, 0)
	e.deploy(t, testAddr(4), 0xAE, pingPong, 0)

	receipts, err := e.exec.Send(context.Background(), internal(testAddr(3), testAddr(4), 0, false))
	if !errors.Is(err, ErrCascadeLimit) {
		t.Fatalf("expected ErrCascadeLimit, got %v", err)
	}
	if len(receipts) != 5 {
		t.Fatalf("receipts before the limit: got %d want 5", len(receipts))
	}
	pending, err := e.store.ListPending(context.Background(), 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("undelivered transfer must stay pending: %+v, %v", pending, err)
	}
}

// withdrawer sends 300 to recipient on every message it receives.
func withdrawer(recipient *address.Address, bounce bool) Machine {
	return MachineFunc(func(Env, *cell.Cell, Message) (Result, error) {
		return Result{
			Transfers: []Transfer{{To: recipient, Amount: big.NewInt(300), Bounce: bounce}},
			Accepted:  true,
		}, nil
	})
}

func TestSend_CancelAfterCommitStillDelivers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t, func(c *Config) {
		c.OnCommit = append(c.OnCommit, func(context.Context, chainstore.Transaction) { cancel() })
	})
	self, recipient := testAddr(3), testAddr(5)
	e.deploy(t, self, 0xB0, withdrawer(recipient, false), 1000)

	receipts, err := e.exec.Send(ctx, internal(testAddr(1), self, 0, false))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("receipts: got %d want 2", len(receipts))
	}
	if got := e.balance(t, recipient); got != 300 {
		t.Fatalf("recipient balance: got %d want 300", got)
	}
	if got := e.balance(t, self); got != 700 {
		t.Fatalf("sender balance: got %d want 700", got)
	}
	want := chainstore.MessageID{Account: wire.RawAddress(self), LT: 1}
	if c := receipts[1].Consumes; c == nil || *c != want {
		t.Fatalf("delivery must consume %+v, got %+v", want, c)
	}
	if pending, err := e.store.ListPending(context.Background(), 10); err != nil || len(pending) != 0 {
		t.Fatalf("pending after delivery: %+v, %v", pending, err)
	}

	if _, err := e.exec.Send(ctx, internal(testAddr(1), self, 0, false)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send with a canceled context: expected context.Canceled, got %v", err)
	}
}

// failingStore refuses the first commit to one account.
type failingStore struct {
	*chainstore.MemoryStore
	account string
	failed  bool
}

func (s *failingStore) Commit(ctx context.Context, prevLT uint64, a chainstore.Account, tx chainstore.Transaction) error {
	if a.Address == s.account && !s.failed {
		s.failed = true
		return errors.New("disk full")
	}
	return s.MemoryStore.Commit(ctx, prevLT, a, tx)
}

func TestResume_DeliversTransfersLeftByAFailedCascade(t *testing.T) {
	t.Parallel()

	self, recipient := testAddr(3), testAddr(5)
	var store *failingStore
	e := newEnv(t, func(c *Config) {
		store = &failingStore{MemoryStore: c.Store.(*chainstore.MemoryStore), account: wire.RawAddress(recipient)}
		c.Store = store
	})
	e.deploy(t, self, 0xB1, withdrawer(recipient, false), 1000)

	receipts, err := e.exec.Send(context.Background(), internal(testAddr(1), self, 0, false))
	if err == nil {
		t.Fatalf("expected the recipient commit to fail")
	}
	if len(receipts) != 1 || e.balance(t, self) != 700 {
		t.Fatalf("sender transaction must stay committed: receipts=%d", len(receipts))
	}
	pending, err := e.store.ListPending(context.Background(), 10)
	if err != nil || len(pending) != 1 || pending[0].To != wire.RawAddress(recipient) {
		t.Fatalf("transfer must stay pending: %+v, %v", pending, err)
	}

	resumed, err := e.exec.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(resumed) != 1 || e.balance(t, recipient) != 300 {
		t.Fatalf("resume: receipts=%d recipient=%d", len(resumed), e.balance(t, recipient))
	}
	if again, err := e.exec.Resume(context.Background()); err != nil || len(again) != 0 {
		t.Fatalf("second Resume: %d receipts, %v", len(again), err)
	}
}

func TestSend_PendingTransferToMissingAccountBounces(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	self := testAddr(3)
	e.deploy(t, self, 0xB2, MachineFunc(func(_ Env, _ *cell.Cell, msg Message) (Result, error) {
		if msg.Bounced {
			return Result{Accepted: true}, nil
		}
		return Result{Transfers: []Transfer{{To: testAddr(9), Amount: big.NewInt(300), Bounce: true}}, Accepted: true}, nil
	}), 1000)

	receipts, err := e.exec.Send(context.Background(), internal(testAddr(1), self, 0, false))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(receipts) != 2 || !receipts[1].Bounced || receipts[1].Account != wire.RawAddress(self) {
		t.Fatalf("expected the transfer to bounce back to the sender: %+v", receipts)
	}
	want := chainstore.MessageID{Account: wire.RawAddress(self), LT: 1}
	if c := receipts[1].Consumes; c == nil || *c != want {
		t.Fatalf("bounce must consume the original message %+v, got %+v", want, c)
	}
	if got := e.balance(t, self); got != 1000 {
		t.Fatalf("sender balance after bounce: got %d want 1000", got)
	}
	if pending, err := e.store.ListPending(context.Background(), 10); err != nil || len(pending) != 0 {
		t.Fatalf("pending after bounce: %+v, %v", pending, err)
	}
}

func TestSend_UnregisteredCode(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	self := testAddr(3)
	if err := e.store.CreateAccount(context.Background(), chainstore.Account{
		Address: wire.RawAddress(self),
		Balance: big.NewInt(10),
		Code:    codeCell(0xDEAD).ToBOC(),
		Data:    emptyData().ToBOC(),
	}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	receipts, err := e.exec.Send(context.Background(), internal(testAddr(1), self, 90, true))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipts[0].ExitCode != ExitUnknownCode {
		t.Fatalf("exit code: got %d want %d", receipts[0].ExitCode, ExitUnknownCode)
	}
	if got := e.balance(t, testAddr(1)); got != 90 {
		t.Fatalf("refund: got %d want 90", got)
	}
}

func TestDeploy(t *testing.T) {
	t.Parallel()

	store, err := blobstore.New(blobstore.Config{})
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	archive, err := blobstore.NewArchive(store)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	e := newEnv(t, func(c *Config) {
		c.Archive = archive
		c.SnapshotEvery = 1
	})
	ctx := context.Background()

	if err := e.exec.Deploy(ctx, testAddr(3), codeCell(0xBEEF), emptyData(), big.NewInt(1)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unregistered code, got %v", err)
	}

	data := cell.BeginCell().MustStoreUInt(5, 8).EndCell()
	e.deploy(t, testAddr(3), 0xBEEF, MachineFunc(func(Env, *cell.Cell, Message) (Result, error) {
		return Result{Data: data, Accepted: true}, nil
	}), 1)
	if err := e.exec.Deploy(ctx, testAddr(3), codeCell(0xBEEF), emptyData(), big.NewInt(1)); !errors.Is(err, chainstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := archive.GetCode(ctx, codeCell(0xBEEF).Hash()); err != nil {
		t.Fatalf("deployed code not archived: %v", err)
	}

	if _, err := e.exec.Send(ctx, internal(testAddr(1), testAddr(3), 5, false)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	snap, err := archive.GetSnapshot(ctx, wire.RawAddress(testAddr(3)), 1)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if !bytes.Equal(snap.Hash(), data.Hash()) {
		t.Fatalf("snapshot mismatch")
	}
}

func TestSend_InvalidMessages(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	cases := []Message{
		{Src: testAddr(1), Value: big.NewInt(1), Body: codeCell(1)},
		{Src: testAddr(1), Dst: testAddr(2), Value: big.NewInt(1)},
		{Dst: testAddr(2), Value: big.NewInt(1), Body: codeCell(1)},
		{Src: testAddr(1), Dst: testAddr(2), Value: big.NewInt(-1), Body: codeCell(1)},
		{External: true, Dst: testAddr(2), Value: big.NewInt(1), Body: codeCell(1)},
	}
	for i, m := range cases {
		if _, err := e.exec.Send(context.Background(), m); !errors.Is(err, ErrInvalidMsg) {
			t.Fatalf("case %d: expected ErrInvalidMsg, got %v", i, err)
		}
	}
}
