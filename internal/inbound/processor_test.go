package inbound

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xssnick/tonutils-go/address"

	"github.com/juno-intents/ton-gateway/internal/authority"
	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/fees"
	"github.com/juno-intents/ton-gateway/internal/gateway"
	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/msgevent"
	"github.com/juno-intents/ton-gateway/internal/queue"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

const nano = 1_000_000_000

func testAddr(b byte) *address.Address {
	return address.NewAddress(0, 0, bytes.Repeat([]byte{b}, 32))
}

type stack struct {
	exec    *host.Executor
	machine *gateway.Machine
	store   *chainstore.MemoryStore
	self    *address.Address
	key     *ecdsa.PrivateKey
}

func newStack(t *testing.T) *stack {
	t.Helper()

	key, err := crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	machine, err := gateway.NewMachine(fees.DefaultSchedule())
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	reg := host.NewRegistry()
	code := machine.Register(reg)
	store := chainstore.NewMemoryStore()
	exec, err := host.New(host.Config{Store: store, Registry: reg})
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	s := &stack{exec: exec, machine: machine, store: store, self: testAddr(0x01), key: key}
	data, err := wire.EncodeState(wire.State{
		DepositsEnabled: true,
		Locked:          new(big.Int),
		TSS:             crypto.PubkeyToAddress(key.PublicKey),
		Authority:       testAddr(0xaa),
	})
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	if err := exec.Deploy(context.Background(), s.self, code, data, big.NewInt(nano)); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	return s
}

func envelopeLine(t *testing.T, m host.Message) string {
	t.Helper()
	b, err := json.Marshal(msgevent.FromMessage(m))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(b)
}

func depositLine(t *testing.T, from *address.Address, value int64) string {
	t.Helper()
	body, err := wire.EncodeRequest(wire.Deposit{QueryID: 7, Recipient: common.HexToAddress("0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1")})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	return envelopeLine(t, host.Message{Src: from, Value: big.NewInt(value), Bounce: true, Body: body})
}

func externalLine(t *testing.T, key *ecdsa.PrivateKey, p wire.Payload) string {
	t.Helper()
	m, err := authority.SignPayload(key, p)
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}
	body, err := wire.EncodeExternal(m)
	if err != nil {
		t.Fatalf("EncodeExternal: %v", err)
	}
	return envelopeLine(t, host.Message{External: true, Body: body})
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	if _, err := New(Config{}, s.exec, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing gateway: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(Config{Gateway: s.self}, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil sender: expected ErrInvalidConfig, got %v", err)
	}
}

func TestProcessor_RunAppliesStream(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	wrongKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	lines := []string{
		depositLine(t, testAddr(0x42), 2*nano),
		"",
		"not json",
		`{"version":"gateway.message.v1","kind":"external","body":"!!"}`,
		externalLine(t, wrongKey, wire.IncreaseSeqno{ReasonCode: 1, Seqno: 0}),
		externalLine(t, s.key, wire.IncreaseSeqno{ReasonCode: 1, Seqno: 0}),
		externalLine(t, s.key, wire.IncreaseSeqno{ReasonCode: 1, Seqno: 0}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := queue.NewConsumer(ctx, queue.ConsumerConfig{Driver: queue.DriverStdio, Reader: strings.NewReader(strings.Join(lines, "\n") + "\n")})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	defer func() { _ = c.Close() }()

	p, err := New(Config{Gateway: s.self}, s.exec, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(ctx, c); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := Stats{Applied: 2, Rejected: 2, Dropped: 2}
	if got := p.Stats(); got != want {
		t.Fatalf("stats: got %+v want %+v", got, want)
	}

	txs, err := s.store.ListTransactions(context.Background(), wire.RawAddress(s.self), 0, 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("gateway transactions: got %d want 2", len(txs))
	}

	acct, err := s.exec.Account(context.Background(), s.self)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	st, err := s.machine.GetState(acct.Data)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Seqno != 1 {
		t.Fatalf("seqno: got %d want 1", st.Seqno)
	}
	if st.Locked.Sign() <= 0 {
		t.Fatalf("locked: got %s want > 0", st.Locked)
	}
}

type failingSender struct {
	err   error
	calls int
}

func (f *failingSender) Send(context.Context, host.Message) ([]chainstore.Transaction, error) {
	f.calls++
	return nil, f.err
}

func TestProcessor_StoreErrorStopsWithoutAck(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	sender := &failingSender{err: boom}
	p, err := New(Config{Gateway: testAddr(0x01)}, sender, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lines := depositLine(t, testAddr(0x42), nano) + "\n" + depositLine(t, testAddr(0x43), nano) + "\n"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := queue.NewConsumer(ctx, queue.ConsumerConfig{Driver: queue.DriverStdio, Reader: strings.NewReader(lines)})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := p.Run(ctx, c); !errors.Is(err, boom) {
		t.Fatalf("Run: expected wrapped store error, got %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("send calls: got %d want 1", sender.calls)
	}
	if got := p.Stats(); got != (Stats{}) {
		t.Fatalf("stats: got %+v want zero", got)
	}
}

func TestProcessor_HandleClassifiesSendErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		err     error
		wantErr bool
		want    Stats
	}{
		{name: "rejected", err: &host.RejectedError{Account: "0:01", ExitCode: 108, Err: errors.New("bad sig")}, want: Stats{Rejected: 1}},
		{name: "no account", err: host.ErrNoAccount, want: Stats{Rejected: 1}},
		{name: "cascade", err: host.ErrCascadeLimit, want: Stats{Applied: 1}},
		{name: "canceled", err: context.Canceled, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := New(Config{Gateway: testAddr(0x01)}, &failingSender{err: tc.err}, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			err = p.Handle(context.Background(), queue.Message{Value: []byte(depositLine(t, testAddr(0x42), nano))})
			if (err != nil) != tc.wantErr {
				t.Fatalf("Handle: got err %v, wantErr %v", err, tc.wantErr)
			}
			if got := p.Stats(); got != tc.want {
				t.Fatalf("stats: got %+v want %+v", got, tc.want)
			}
		})
	}
}
