package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/blobstore"
	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/idempotency"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

const (
	// ExitUnknownCode is recorded when an account's code has no registered
	// machine, or a machine installs code that has none.
	ExitUnknownCode int32 = 65535

	defaultMaxCascade = 64
)

var (
	ErrInvalidConfig = errors.New("host: invalid config")
	ErrNoAccount     = errors.New("host: no such account")
	ErrRejected      = errors.New("host: external message rejected")
	ErrCascadeLimit  = errors.New("host: message cascade limit reached")
	ErrInvalidMsg    = errors.New("host: invalid message")
)

// RejectedError reports an external message the account refused to pay
// for. It matches ErrRejected.
type RejectedError struct {
	Account  string
	ExitCode int32
	Err      error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("host: external message rejected by %s (exit code %d): %v", e.Account, e.ExitCode, e.Err)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

func (e *RejectedError) Unwrap() error { return e.Err }

// Metrics receives one observation per processed message.
type Metrics interface {
	ObserveTransaction(kind string, op uint32, exitCode int32, gasUsed uint64)
	ObserveRejected(exitCode int32)
}

type Config struct {
	Store    chainstore.Store
	Registry *Registry
	// Archive, when set, receives every code cell that gets installed.
	Archive *blobstore.Archive
	// SnapshotEvery archives the data of code accounts every N logical
	// times. Zero disables snapshots.
	SnapshotEvery uint64
	MaxCascade    int

	Metrics Metrics
	// OnCommit hooks run after every committed transaction, outside any
	// store transaction.
	OnCommit []func(context.Context, chainstore.Transaction)

	Logger *slog.Logger
	Now    func() time.Time
}

// Executor applies messages to stored accounts. Messages are processed
// strictly one after another, so every account sees its inbound messages
// serially and outbound transfers are delivered in emission order.
type Executor struct {
	cfg Config
	log *slog.Logger

	mu sync.Mutex
}

func New(cfg Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrInvalidConfig)
	}
	if cfg.MaxCascade <= 0 {
		cfg.MaxCascade = defaultMaxCascade
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{cfg: cfg, log: log}, nil
}

// Deploy creates an account with the given code, data and balance. The
// code must have a registered machine.
func (e *Executor) Deploy(ctx context.Context, addr *address.Address, code, data *cell.Cell, balance *big.Int) error {
	if addr == nil || code == nil || data == nil {
		return fmt.Errorf("%w: nil deploy argument", ErrInvalidMsg)
	}
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("%w: invalid balance", ErrInvalidMsg)
	}
	if _, ok := e.cfg.Registry.Lookup(code); !ok {
		return fmt.Errorf("%w: code %x is not registered", ErrInvalidConfig, code.Hash())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	raw := wire.RawAddress(addr)
	if err := e.cfg.Store.CreateAccount(ctx, chainstore.Account{
		Address: raw,
		Balance: new(big.Int).Set(balance),
		Code:    code.ToBOC(),
		Data:    data.ToBOC(),
	}); err != nil {
		return err
	}
	e.archiveCode(ctx, code)
	e.log.Info("account deployed", "account", raw, "code_hash", fmt.Sprintf("%x", code.Hash()), "balance", balance.String())
	return nil
}

// Account loads an account and decodes its code and data.
func (e *Executor) Account(ctx context.Context, addr *address.Address) (Account, error) {
	a, err := e.cfg.Store.GetAccount(ctx, wire.RawAddress(addr))
	if err != nil {
		return Account{}, err
	}
	return decodeAccount(addr, a)
}

type Account struct {
	Address *address.Address
	Balance *big.Int
	Code    *cell.Cell
	Data    *cell.Cell
	LastLT  uint64
}

func decodeAccount(addr *address.Address, a chainstore.Account) (Account, error) {
	out := Account{Address: addr, Balance: new(big.Int).Set(a.Balance), LastLT: a.LastLT}
	if len(a.Code) > 0 {
		c, err := cell.FromBOC(a.Code)
		if err != nil {
			return Account{}, fmt.Errorf("host: decode code of %s: %w", a.Address, err)
		}
		out.Code = c
	}
	if len(a.Data) > 0 {
		d, err := cell.FromBOC(a.Data)
		if err != nil {
			return Account{}, fmt.Errorf("host: decode data of %s: %w", a.Address, err)
		}
		out.Data = d
	}
	return out, nil
}

// Send delivers msg and every transfer it causes, returning the receipts
// in processing order. A rejected external message yields ErrRejected
// wrapping the machine's error and leaves no receipt.
//
// Transfers are recorded as pending in the same commit that emits them.
// Once the first message commits, the cascade runs to the end regardless of
// ctx. If it stops early (cascade limit, store failure), the remaining
// messages stay pending and Resume or the next Send delivers them.
func (e *Executor) Send(ctx context.Context, msg Message) ([]chainstore.Transaction, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := e.resume(ctx); err != nil {
		e.log.Warn("pending messages not delivered", "err", err)
	}
	return e.cascade(ctx, []queued{{msg: msg}})
}

// Resume delivers messages that were committed by their sender but never
// applied, for example because the process stopped mid-cascade.
func (e *Executor) Resume(ctx context.Context) ([]chainstore.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resume(ctx)
}

func (e *Executor) resume(ctx context.Context) ([]chainstore.Transaction, error) {
	pending, err := e.cfg.Store.ListPending(ctx, e.cfg.MaxCascade)
	if err != nil {
		return nil, fmt.Errorf("host: list pending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	queue := make([]queued, 0, len(pending))
	for _, p := range pending {
		m, err := messageOf(p)
		if err != nil {
			return nil, err
		}
		id := p.ID
		queue = append(queue, queued{msg: m, id: &id})
	}
	e.log.Info("resuming pending messages", "count", len(queue))
	return e.cascade(ctx, queue)
}

// queued is a message waiting for delivery; id is set once the message is
// recorded as pending in the store.
type queued struct {
	msg Message
	id  *chainstore.MessageID
}

func (e *Executor) cascade(ctx context.Context, queue []queued) ([]chainstore.Transaction, error) {
	var receipts []chainstore.Transaction
	for steps := 0; len(queue) > 0; steps++ {
		if steps >= e.cfg.MaxCascade {
			return receipts, fmt.Errorf("%w: %d messages pending", ErrCascadeLimit, len(queue))
		}
		q := queue[0]
		queue = queue[1:]

		tx, next, err := e.apply(ctx, q)
		if err != nil {
			return receipts, err
		}
		if tx != nil {
			receipts = append(receipts, *tx)
		}
		queue = append(queue, next...)
		// Committed transfers are owed to their recipients.
		ctx = context.WithoutCancel(ctx)
	}
	return receipts, nil
}

func messageOf(p chainstore.Pending) (Message, error) {
	src, err := wire.ParseAddress(p.From)
	if err != nil {
		return Message{}, fmt.Errorf("host: pending %+v sender: %w", p.ID, err)
	}
	dst, err := wire.ParseAddress(p.To)
	if err != nil {
		return Message{}, fmt.Errorf("host: pending %+v recipient: %w", p.ID, err)
	}
	body := emptyBody()
	if len(p.Body) > 0 {
		if body, err = cell.FromBOC(p.Body); err != nil {
			return Message{}, fmt.Errorf("host: pending %+v body: %w", p.ID, err)
		}
	}
	amount := new(big.Int)
	if p.Amount != nil {
		amount.Set(p.Amount)
	}
	return Message{Src: src, Dst: dst, Value: amount, Bounce: p.Bounce, Bounced: p.Bounced, Body: body}, nil
}

func validateMessage(m Message) error {
	if m.Dst == nil {
		return fmt.Errorf("%w: missing destination", ErrInvalidMsg)
	}
	if m.Body == nil {
		return fmt.Errorf("%w: missing body", ErrInvalidMsg)
	}
	if m.External {
		if m.Value != nil && m.Value.Sign() != 0 {
			return fmt.Errorf("%w: external messages carry no value", ErrInvalidMsg)
		}
		return nil
	}
	if m.Src == nil {
		return fmt.Errorf("%w: missing source", ErrInvalidMsg)
	}
	if m.Value == nil || m.Value.Sign() < 0 {
		return fmt.Errorf("%w: invalid value", ErrInvalidMsg)
	}
	return nil
}

func (e *Executor) apply(ctx context.Context, q queued) (*chainstore.Transaction, []queued, error) {
	m := q.msg
	raw := wire.RawAddress(m.Dst)
	acct, err := e.cfg.Store.GetAccount(ctx, raw)
	if errors.Is(err, chainstore.ErrNotFound) {
		if m.External {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoAccount, raw)
		}
		if m.Bounce && !m.Bounced {
			e.log.Debug("bouncing message to missing account", "dst", raw, "value", m.Value.String())
			b := bounceOf(m, m.Value)
			if q.id != nil {
				p := chainstore.Pending{ID: *q.id, From: raw, Transfer: transferOf(b)}
				if err := e.cfg.Store.ReplacePending(ctx, p); err != nil {
					return nil, nil, fmt.Errorf("host: bounce pending %+v: %w", *q.id, err)
				}
			}
			return nil, []queued{{msg: b, id: q.id}}, nil
		}
		acct = chainstore.Account{Address: raw, Balance: new(big.Int)}
		if err := e.cfg.Store.CreateAccount(ctx, acct); err != nil {
			return nil, nil, err
		}
	} else if err != nil {
		return nil, nil, err
	}

	if len(acct.Code) == 0 {
		tx, err := e.credit(ctx, acct, q)
		return tx, nil, err
	}
	return e.execute(ctx, acct, q)
}

// credit applies a message to an account without code.
func (e *Executor) credit(ctx context.Context, acct chainstore.Account, q queued) (*chainstore.Transaction, error) {
	m := q.msg
	if m.External {
		return nil, &RejectedError{Account: acct.Address, Err: errors.New("account has no code")}
	}
	next := acct.Clone()
	next.Balance.Add(next.Balance, m.Value)
	next.LastLT = acct.LastLT + 1

	tx := e.receipt(next, m, Result{ComputeFee: new(big.Int), ForwardFee: new(big.Int)})
	tx.Consumes = q.id
	if err := e.commit(ctx, acct.LastLT, next, tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (e *Executor) execute(ctx context.Context, acct chainstore.Account, q queued) (*chainstore.Transaction, []queued, error) {
	m := q.msg
	view, err := decodeAccount(m.Dst, acct)
	if err != nil {
		return nil, nil, err
	}

	balance := new(big.Int).Set(acct.Balance)
	if !m.External {
		balance.Add(balance, m.Value)
	}
	lt := acct.LastLT + 1
	env := Env{Self: m.Dst, Balance: new(big.Int).Set(balance), LT: lt}

	var (
		res     Result
		execErr error
	)
	machine, ok := e.cfg.Registry.Lookup(view.Code)
	if ok {
		res, execErr = machine.Execute(env, view.Data, m)
	} else {
		// The code cannot run at all; internal value is kept, nothing else
		// happens.
		res = Result{ExitCode: ExitUnknownCode, Accepted: !m.External}
		execErr = fmt.Errorf("code %x is not registered", view.Code.Hash())
	}
	if execErr == nil && res.Code != nil {
		if _, ok := e.cfg.Registry.Lookup(res.Code); !ok {
			execErr = fmt.Errorf("installed code %x is not registered", res.Code.Hash())
			res.ExitCode = ExitUnknownCode
		}
	}
	normalizeFees(&res)

	if m.External && !res.Accepted {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.ObserveRejected(res.ExitCode)
		}
		e.log.Info("external message rejected", "account", acct.Address, "exit_code", res.ExitCode, "err", execErr)
		return nil, nil, &RejectedError{Account: acct.Address, ExitCode: res.ExitCode, Err: execErr}
	}

	next := acct.Clone()
	next.LastLT = lt
	var out []Message

	if execErr == nil {
		balance.Sub(balance, res.ComputeFee)
		balance.Sub(balance, res.ForwardFee)
		for _, tr := range res.Transfers {
			balance.Sub(balance, tr.Amount)
			out = append(out, Message{Src: m.Dst, Dst: tr.To, Value: new(big.Int).Set(tr.Amount), Bounce: tr.Bounce, Body: emptyBody()})
		}
		if res.Data != nil {
			next.Data = res.Data.ToBOC()
		}
		if res.Code != nil {
			next.Code = res.Code.ToBOC()
		}
	} else {
		res.Transfers, res.Logs, res.Code = nil, nil, nil
		res.ForwardFee = new(big.Int)
		balance.Sub(balance, res.ComputeFee)
		if !m.External && m.Bounce && !m.Bounced {
			refund := new(big.Int).Sub(m.Value, res.ComputeFee)
			if refund.Sign() > 0 {
				balance.Sub(balance, refund)
				out = append(out, bounceOf(m, refund))
			}
		}
	}
	if balance.Sign() < 0 {
		return nil, nil, fmt.Errorf("host: %s would go negative at lt %d", acct.Address, lt)
	}
	next.Balance = balance

	tx := e.receipt(next, m, res)
	tx.Consumes = q.id
	emitted := make([]queued, 0, len(out))
	for i, o := range out {
		tx.Transfers = append(tx.Transfers, transferOf(o))
		emitted = append(emitted, queued{msg: o, id: &chainstore.MessageID{Account: acct.Address, LT: lt, Index: uint32(i)}})
	}
	if err := e.commit(ctx, acct.LastLT, next, tx); err != nil {
		return nil, nil, err
	}

	if res.Code != nil {
		e.archiveCode(ctx, res.Code)
	}
	if e.cfg.SnapshotEvery > 0 && lt%e.cfg.SnapshotEvery == 0 && res.Data != nil {
		e.archiveSnapshot(ctx, acct.Address, lt, res.Data)
	}
	if execErr != nil {
		e.log.Warn("transaction failed", "account", acct.Address, "lt", lt, "op", res.Op, "exit_code", res.ExitCode, "err", execErr)
	}
	return &tx, emitted, nil
}

func transferOf(m Message) chainstore.Transfer {
	return chainstore.Transfer{
		To:      wire.RawAddress(m.Dst),
		Amount:  new(big.Int).Set(m.Value),
		Bounce:  m.Bounce,
		Bounced: m.Bounced,
		Body:    m.Body.ToBOC(),
	}
}

func normalizeFees(r *Result) {
	if r.ComputeFee == nil {
		r.ComputeFee = new(big.Int)
	}
	if r.ForwardFee == nil {
		r.ForwardFee = new(big.Int)
	}
}

func (e *Executor) receipt(a chainstore.Account, m Message, res Result) chainstore.Transaction {
	var bodyHash [32]byte
	copy(bodyHash[:], m.Body.Hash())

	tx := chainstore.Transaction{
		Account:    a.Address,
		LT:         a.LastLT,
		Hash:       idempotency.TransactionIDV1(a.Address, a.LastLT, bodyHash),
		Kind:       chainstore.KindInternal,
		Value:      new(big.Int),
		Bounced:    m.Bounced,
		InBody:     m.Body.ToBOC(),
		Op:         res.Op,
		ExitCode:   res.ExitCode,
		GasUsed:    res.GasUsed,
		ComputeFee: new(big.Int).Set(res.ComputeFee),
		ForwardFee: new(big.Int).Set(res.ForwardFee),
		CreatedAt:  e.cfg.Now().UTC(),
	}
	if m.External {
		tx.Kind = chainstore.KindExternal
	} else {
		tx.Src = wire.RawAddress(m.Src)
		tx.Value.Set(m.Value)
	}
	for _, l := range res.Logs {
		tx.Logs = append(tx.Logs, l.ToBOC())
	}
	return tx
}

func (e *Executor) commit(ctx context.Context, prevLT uint64, a chainstore.Account, tx chainstore.Transaction) error {
	if err := e.cfg.Store.Commit(ctx, prevLT, a, tx); err != nil {
		return fmt.Errorf("host: commit %s lt %d: %w", a.Address, tx.LT, err)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ObserveTransaction(tx.Kind.String(), tx.Op, tx.ExitCode, tx.GasUsed)
	}
	e.log.Debug("transaction committed", "account", a.Address, "lt", tx.LT, "op", tx.Op, "exit_code", tx.ExitCode, "logs", len(tx.Logs))
	for _, hook := range e.cfg.OnCommit {
		hook(ctx, tx.Clone())
	}
	return nil
}

func (e *Executor) archiveCode(ctx context.Context, code *cell.Cell) {
	if e.cfg.Archive == nil {
		return
	}
	if _, err := e.cfg.Archive.PutCode(ctx, code); err != nil {
		e.log.Error("archive code", "code_hash", fmt.Sprintf("%x", code.Hash()), "err", err)
	}
}

func (e *Executor) archiveSnapshot(ctx context.Context, account string, lt uint64, data *cell.Cell) {
	if e.cfg.Archive == nil {
		return
	}
	if _, err := e.cfg.Archive.PutSnapshot(ctx, account, lt, data); err != nil {
		e.log.Error("archive snapshot", "account", account, "lt", lt, "err", err)
	}
}

const bounceOp = 0xFFFFFFFF

// bounceOf returns value to the sender of m with the standard bounce body:
// 0xFFFFFFFF followed by the first 256 bits of the original body.
func bounceOf(m Message, value *big.Int) Message {
	b := cell.BeginCell()
	_ = b.StoreUInt(bounceOp, 32)
	if m.Body != nil {
		s := m.Body.BeginParse()
		n := min(s.BitsLeft(), 256)
		if n > 0 {
			if data, err := s.LoadSlice(n); err == nil {
				_ = b.StoreSlice(data, n)
			}
		}
	}
	return Message{
		Src:     m.Dst,
		Dst:     m.Src,
		Value:   new(big.Int).Set(value),
		Bounced: true,
		Body:    b.EndCell(),
	}
}

func emptyBody() *cell.Cell {
	return cell.BeginCell().EndCell()
}
