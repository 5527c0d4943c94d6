package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
)

var ErrInvalidConfig = errors.New("chainstore/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

var _ chainstore.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("chainstore/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, addr string) (chainstore.Account, error) {
	var (
		a       chainstore.Account
		balance string
		lastLT  int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT address, balance::text, code, data, last_lt
		FROM chain_accounts
		WHERE address = $1
	`, addr).Scan(&a.Address, &balance, &a.Code, &a.Data, &lastLT)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chainstore.Account{}, chainstore.ErrNotFound
		}
		return chainstore.Account{}, fmt.Errorf("chainstore/postgres: get account: %w", err)
	}
	if a.Balance, err = parseNumeric(balance); err != nil {
		return chainstore.Account{}, err
	}
	a.LastLT = uint64(lastLT)
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a chainstore.Account) error {
	if a.Balance == nil || a.Balance.Sign() < 0 {
		return fmt.Errorf("%w: negative balance", chainstore.ErrInvalidCommit)
	}
	if a.LastLT > math.MaxInt64 {
		return fmt.Errorf("%w: lt too large", chainstore.ErrInvalidCommit)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chain_accounts (address, balance, code, data, last_lt, created_at, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5, now(), now())
		ON CONFLICT (address) DO NOTHING
	`, a.Address, a.Balance.String(), a.Code, a.Data, int64(a.LastLT))
	if err != nil {
		return fmt.Errorf("chainstore/postgres: insert account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chainstore.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, prevLT uint64, a chainstore.Account, t chainstore.Transaction) error {
	if err := chainstore.ValidateCommit(prevLT, a, t); err != nil {
		return err
	}
	if t.LT > math.MaxInt64 {
		return fmt.Errorf("%w: lt too large", chainstore.ErrInvalidCommit)
	}
	transfers, err := json.Marshal(transferRows(t.Transfers))
	if err != nil {
		return fmt.Errorf("chainstore/postgres: encode transfers: %w", err)
	}
	logs := t.Logs
	if logs == nil {
		logs = [][]byte{}
	}
	var consumes []byte
	if t.Consumes != nil {
		if t.Consumes.LT > math.MaxInt64 {
			return fmt.Errorf("%w: consumed lt too large", chainstore.ErrInvalidCommit)
		}
		if consumes, err = json.Marshal(messageIDRow(*t.Consumes)); err != nil {
			return fmt.Errorf("chainstore/postgres: encode consumes: %w", err)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("chainstore/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE chain_accounts
		SET balance = $2::numeric, code = $3, data = $4, last_lt = $5, updated_at = now()
		WHERE address = $1 AND last_lt = $6
	`, a.Address, a.Balance.String(), a.Code, a.Data, int64(a.LastLT), int64(prevLT))
	if err != nil {
		return fmt.Errorf("chainstore/postgres: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chain_accounts WHERE address = $1)`, a.Address).Scan(&exists); err != nil {
			return fmt.Errorf("chainstore/postgres: check account: %w", err)
		}
		if !exists {
			return chainstore.ErrNotFound
		}
		return chainstore.ErrConflict
	}

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO chain_transactions (
			account, lt, hash,
			kind, src, value, bounced, in_body,
			op, exit_code, gas_used, compute_fee, forward_fee,
			logs, transfers, consumes, created_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11,$12::numeric,$13::numeric,$14,$15::jsonb,$16::jsonb,$17)
	`,
		t.Account, int64(t.LT), t.Hash[:],
		int16(t.Kind), t.Src, numericString(t.Value), t.Bounced, t.InBody,
		int64(t.Op), t.ExitCode, int64(t.GasUsed), numericString(t.ComputeFee), numericString(t.ForwardFee),
		logs, string(transfers), nullableJSON(consumes), createdAt,
	)
	if err != nil {
		return fmt.Errorf("chainstore/postgres: insert transaction: %w", err)
	}

	if c := t.Consumes; c != nil {
		tag, err := tx.Exec(ctx, `
			DELETE FROM chain_pending WHERE src = $1 AND src_lt = $2 AND idx = $3
		`, c.Account, int64(c.LT), int32(c.Index))
		if err != nil {
			return fmt.Errorf("chainstore/postgres: consume pending: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: message %+v is not pending", chainstore.ErrConflict, *c)
		}
	}
	for _, p := range chainstore.PendingOf(t) {
		_, err := tx.Exec(ctx, `
			INSERT INTO chain_pending (src, src_lt, idx, sender, dst, amount, bounce, bounced, body)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
		`, p.ID.Account, int64(p.ID.LT), int32(p.ID.Index), p.From, p.To, numericString(p.Amount), p.Bounce, p.Bounced, p.Body)
		if err != nil {
			return fmt.Errorf("chainstore/postgres: insert pending: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chainstore/postgres: commit: %w", err)
	}
	return nil
}

const txColumns = `
	account, lt, hash,
	kind, src, value::text, bounced, in_body,
	op, exit_code, gas_used, compute_fee::text, forward_fee::text,
	logs, transfers, consumes, created_at
`

func (s *Store) GetTransaction(ctx context.Context, addr string, lt uint64) (chainstore.Transaction, error) {
	if lt > math.MaxInt64 {
		return chainstore.Transaction{}, chainstore.ErrNotFound
	}
	rows, err := s.pool.Query(ctx, `SELECT `+txColumns+` FROM chain_transactions WHERE account = $1 AND lt = $2`, addr, int64(lt))
	if err != nil {
		return chainstore.Transaction{}, fmt.Errorf("chainstore/postgres: get transaction: %w", err)
	}
	txs, err := scanTransactions(rows)
	if err != nil {
		return chainstore.Transaction{}, err
	}
	if len(txs) == 0 {
		return chainstore.Transaction{}, chainstore.ErrNotFound
	}
	return txs[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, addr string, beforeLT uint64, limit int) ([]chainstore.Transaction, error) {
	if limit <= 0 {
		return nil, nil
	}
	upper := int64(math.MaxInt64)
	if beforeLT != 0 && beforeLT <= math.MaxInt64 {
		upper = int64(beforeLT)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM chain_transactions
		WHERE account = $1 AND lt < $2
		ORDER BY lt DESC
		LIMIT $3
	`, addr, upper, limit)
	if err != nil {
		return nil, fmt.Errorf("chainstore/postgres: list transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (s *Store) ListTransactionsAfter(ctx context.Context, addr string, afterLT uint64, limit int) ([]chainstore.Transaction, error) {
	if limit <= 0 || afterLT >= math.MaxInt64 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM chain_transactions
		WHERE account = $1 AND lt > $2
		ORDER BY lt ASC
		LIMIT $3
	`, addr, int64(afterLT), limit)
	if err != nil {
		return nil, fmt.Errorf("chainstore/postgres: list transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]chainstore.Pending, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, src, src_lt, idx, sender, dst, amount::text, bounce, bounced, body
		FROM chain_pending
		ORDER BY seq ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("chainstore/postgres: list pending: %w", err)
	}
	defer rows.Close()

	var out []chainstore.Pending
	for rows.Next() {
		var (
			p          chainstore.Pending
			seq, lt    int64
			idx        int32
			amountText string
		)
		if err := rows.Scan(&seq, &p.ID.Account, &lt, &idx, &p.From, &p.To, &amountText, &p.Bounce, &p.Bounced, &p.Body); err != nil {
			return nil, fmt.Errorf("chainstore/postgres: scan pending: %w", err)
		}
		p.Seq, p.ID.LT, p.ID.Index = uint64(seq), uint64(lt), uint32(idx)
		if p.Amount, err = parseNumeric(amountText); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chainstore/postgres: rows: %w", err)
	}
	return out, nil
}

func (s *Store) ReplacePending(ctx context.Context, p chainstore.Pending) error {
	if p.ID.LT > math.MaxInt64 {
		return chainstore.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE chain_pending
		SET sender = $4, dst = $5, amount = $6::numeric, bounce = $7, bounced = $8, body = $9
		WHERE src = $1 AND src_lt = $2 AND idx = $3
	`, p.ID.Account, int64(p.ID.LT), int32(p.ID.Index), p.From, p.To, numericString(p.Amount), p.Bounce, p.Bounced, p.Body)
	if err != nil {
		return fmt.Errorf("chainstore/postgres: replace pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chainstore.ErrNotFound
	}
	return nil
}

func (s *Store) GetCursor(ctx context.Context, name string) (uint64, error) {
	var lt int64
	err := s.pool.QueryRow(ctx, `SELECT lt FROM chain_cursors WHERE name = $1`, name).Scan(&lt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("chainstore/postgres: get cursor: %w", err)
	}
	return uint64(lt), nil
}

func (s *Store) SetCursor(ctx context.Context, name string, lt uint64) error {
	if lt > math.MaxInt64 {
		return fmt.Errorf("%w: lt too large", chainstore.ErrInvalidCommit)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chain_cursors (name, lt, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET lt = GREATEST(chain_cursors.lt, EXCLUDED.lt), updated_at = now()
	`, name, int64(lt))
	if err != nil {
		return fmt.Errorf("chainstore/postgres: set cursor: %w", err)
	}
	return nil
}

type transferRow struct {
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Bounce  bool   `json:"bounce"`
	Bounced bool   `json:"bounced,omitempty"`
	Body    []byte `json:"body,omitempty"`
}

func transferRows(in []chainstore.Transfer) []transferRow {
	out := make([]transferRow, 0, len(in))
	for _, tr := range in {
		out = append(out, transferRow{To: tr.To, Amount: numericString(tr.Amount), Bounce: tr.Bounce, Bounced: tr.Bounced, Body: tr.Body})
	}
	return out
}

type messageIDRow struct {
	Account string `json:"account"`
	LT      uint64 `json:"lt"`
	Index   uint32 `json:"index"`
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanTransactions(rows pgx.Rows) ([]chainstore.Transaction, error) {
	defer rows.Close()

	var out []chainstore.Transaction
	for rows.Next() {
		var (
			t                             chainstore.Transaction
			lt, op, gasUsed               int64
			kind                          int16
			hash                          []byte
			value, computeFee, forwardFee string
			transfersRaw, consumesRaw     []byte
		)
		if err := rows.Scan(
			&t.Account, &lt, &hash,
			&kind, &t.Src, &value, &t.Bounced, &t.InBody,
			&op, &t.ExitCode, &gasUsed, &computeFee, &forwardFee,
			&t.Logs, &transfersRaw, &consumesRaw, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("chainstore/postgres: scan transaction: %w", err)
		}
		if len(hash) != 32 {
			return nil, fmt.Errorf("chainstore/postgres: invalid hash length %d", len(hash))
		}
		copy(t.Hash[:], hash)
		t.LT = uint64(lt)
		t.Op = uint32(op)
		t.GasUsed = uint64(gasUsed)
		t.Kind = chainstore.Kind(kind)

		var err error
		if t.Value, err = parseNumeric(value); err != nil {
			return nil, err
		}
		if t.ComputeFee, err = parseNumeric(computeFee); err != nil {
			return nil, err
		}
		if t.ForwardFee, err = parseNumeric(forwardFee); err != nil {
			return nil, err
		}

		var trs []transferRow
		if err := json.Unmarshal(transfersRaw, &trs); err != nil {
			return nil, fmt.Errorf("chainstore/postgres: decode transfers: %w", err)
		}
		for _, tr := range trs {
			amount, err := parseNumeric(tr.Amount)
			if err != nil {
				return nil, err
			}
			t.Transfers = append(t.Transfers, chainstore.Transfer{To: tr.To, Amount: amount, Bounce: tr.Bounce, Bounced: tr.Bounced, Body: tr.Body})
		}
		if len(consumesRaw) > 0 {
			var id messageIDRow
			if err := json.Unmarshal(consumesRaw, &id); err != nil {
				return nil, fmt.Errorf("chainstore/postgres: decode consumes: %w", err)
			}
			t.Consumes = &chainstore.MessageID{Account: id.Account, LT: id.LT, Index: id.Index}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chainstore/postgres: rows: %w", err)
	}
	return out, nil
}

func numericString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("chainstore/postgres: invalid numeric %q", s)
	}
	return v, nil
}
