// Package gatewayapi serves the gateway's getters, receipts and external
// message submission over HTTP.
package gatewayapi

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/depositevent"
	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

var ErrInvalidConfig = errors.New("gatewayapi: invalid config")

type Config struct {
	Gateway      *address.Address
	Getters      Getters
	Accounts     AccountReader
	Transactions TransactionReader
	// Submitter is optional; without it external submission answers 503.
	Submitter Submitter

	Metrics        Metrics
	MetricsHandler http.Handler

	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int
	MaxBodyBytes            int64
	MaxListLimit            int

	Now    func() time.Time
	Logger *slog.Logger
}

type Getters interface {
	GetState(data *cell.Cell) (wire.State, error)
	EstimateFee(op wire.Op) (*big.Int, error)
}

type AccountReader interface {
	Account(ctx context.Context, addr *address.Address) (host.Account, error)
}

type TransactionReader interface {
	GetTransaction(ctx context.Context, addr string, lt uint64) (chainstore.Transaction, error)
	ListTransactions(ctx context.Context, addr string, beforeLT uint64, limit int) ([]chainstore.Transaction, error)
}

type Metrics interface {
	ObserveHTTP(route string, code int)
}

func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("%w: missing gateway address", ErrInvalidConfig)
	}
	if cfg.Getters == nil || cfg.Accounts == nil || cfg.Transactions == nil {
		return nil, fmt.Errorf("%w: nil readers", ErrInvalidConfig)
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.MaxListLimit <= 0 {
		cfg.MaxListLimit = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := &handler{
		cfg:     cfg,
		account: wire.RawAddress(cfg.Gateway),
		limiter: newClientLimiter(cfg.RateLimitPerIPPerSecond, cfg.RateLimitBurst, cfg.RateLimitMaxTrackedIPs),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/state", h.handleState)
	mux.HandleFunc("GET /v1/seqno", h.handleSeqno)
	mux.HandleFunc("GET /v1/balance", h.handleBalance)
	mux.HandleFunc("GET /v1/fees/{op}", h.handleFee)
	mux.HandleFunc("GET /v1/transactions", h.handleTransactions)
	mux.HandleFunc("GET /v1/transactions/{lt}", h.handleTransaction)
	mux.HandleFunc("POST /v1/messages/external", h.handleSubmitExternal)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			if h.cfg.Metrics != nil {
				h.cfg.Metrics.ObserveHTTP(route, sw.code)
			}
		}()

		// Health checks and scrapes must never be throttled.
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			mux.ServeHTTP(sw, r)
			return
		}

		ok, wait := h.limiter.take(clientKey(r), h.cfg.Now().UTC())
		sw.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !ok {
			sw.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			writeError(sw, http.StatusTooManyRequests, "rate_limited")
			return
		}
		mux.ServeHTTP(sw, r)
	}), nil
}

type handler struct {
	cfg     Config
	account string
	limiter *clientLimiter
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// loadState returns the gateway account and its decoded state, writing the
// error response itself when it fails.
func (h *handler) loadState(w http.ResponseWriter, r *http.Request) (host.Account, wire.State, bool) {
	acct, err := h.cfg.Accounts.Account(r.Context(), h.cfg.Gateway)
	if errors.Is(err, chainstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_deployed")
		return host.Account{}, wire.State{}, false
	}
	if err != nil {
		h.cfg.Logger.Error("load gateway account", "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return host.Account{}, wire.State{}, false
	}
	st, err := h.cfg.Getters.GetState(acct.Data)
	if err != nil {
		h.cfg.Logger.Error("decode gateway state", "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return host.Account{}, wire.State{}, false
	}
	return acct, st, true
}

func (h *handler) handleState(w http.ResponseWriter, r *http.Request) {
	acct, st, ok := h.loadState(w, r)
	if !ok {
		return
	}
	codeHash := ""
	if acct.Code != nil {
		codeHash = hex.EncodeToString(acct.Code.Hash())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":         "v1",
		"address":         h.account,
		"depositsEnabled": st.DepositsEnabled,
		"locked":          st.Locked.String(),
		"lockedTon":       formatTON(st.Locked),
		"seqno":           st.Seqno,
		"tss":             st.TSS.Hex(),
		"authority":       wire.RawAddress(st.Authority),
		"codeHash":        codeHash,
		"lastLt":          strconv.FormatUint(acct.LastLT, 10),
	})
}

func (h *handler) handleSeqno(w http.ResponseWriter, r *http.Request) {
	_, st, ok := h.loadState(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"seqno":   st.Seqno,
	})
}

func (h *handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.cfg.Accounts.Account(r.Context(), h.cfg.Gateway)
	if errors.Is(err, chainstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_deployed")
		return
	}
	if err != nil {
		h.cfg.Logger.Error("load gateway account", "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    "v1",
		"balance":    acct.Balance.String(),
		"balanceTon": formatTON(acct.Balance),
	})
}

func (h *handler) handleFee(w http.ResponseWriter, r *http.Request) {
	op, err := wire.ParseOp(r.PathValue("op"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_op")
		return
	}
	fee, err := h.cfg.Getters.EstimateFee(op)
	if err != nil {
		h.cfg.Logger.Error("estimate fee", "op", op.String(), "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"op":      op.String(),
		"fee":     fee.String(),
		"feeTon":  formatTON(fee),
	})
}

func (h *handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = min(n, h.cfg.MaxListLimit)
	}
	var before uint64
	if raw := strings.TrimSpace(q.Get("before")); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_before")
			return
		}
		before = n
	}

	txs, err := h.cfg.Transactions.ListTransactions(r.Context(), h.account, before, limit)
	if err != nil {
		h.cfg.Logger.Error("list transactions", "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for _, tx := range txs {
		out = append(out, renderTransaction(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":      "v1",
		"transactions": out,
	})
}

func (h *handler) handleTransaction(w http.ResponseWriter, r *http.Request) {
	lt, err := strconv.ParseUint(r.PathValue("lt"), 10, 64)
	if err != nil || lt == 0 {
		writeError(w, http.StatusBadRequest, "invalid_lt")
		return
	}
	tx, err := h.cfg.Transactions.GetTransaction(r.Context(), h.account, lt)
	if errors.Is(err, chainstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		h.cfg.Logger.Error("get transaction", "lt", lt, "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     "v1",
		"transaction": renderTransaction(tx),
	})
}

type submitExternalBody struct {
	BOC string `json:"boc"`
}

func (h *handler) handleSubmitExternal(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "submit_unavailable")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, ok := decodeJSONBody[submitExternalBody](w, r)
	if !ok {
		return
	}
	msg, err := wire.ParseBase64BOC(body.BOC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_boc")
		return
	}

	res, err := h.cfg.Submitter.SubmitExternal(r.Context(), msg)
	var rej *host.RejectedError
	switch {
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"version":  "v1",
			"error":    "rejected",
			"exitCode": rej.ExitCode,
		})
		return
	case err != nil:
		h.cfg.Logger.Error("submit external message", "err", err)
		writeError(w, http.StatusBadGateway, "submit_failed")
		return
	}

	if res.Queued {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"version": "v1",
			"queued":  true,
		})
		return
	}
	out := make([]transactionJSON, 0, len(res.Transactions))
	for _, tx := range res.Transactions {
		out = append(out, renderTransaction(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":      "v1",
		"accepted":     true,
		"transactions": out,
	})
}

type transferJSON struct {
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Bounce  bool   `json:"bounce"`
	Bounced bool   `json:"bounced,omitempty"`
}

type transactionJSON struct {
	Account    string                 `json:"account"`
	LT         string                 `json:"lt"`
	Hash       string                 `json:"hash"`
	Kind       string                 `json:"kind"`
	Src        string                 `json:"src,omitempty"`
	Value      string                 `json:"value"`
	Bounced    bool                   `json:"bounced,omitempty"`
	Op         uint32                 `json:"op"`
	Inbound    *wire.Description      `json:"inbound,omitempty"`
	ExitCode   int32                  `json:"exitCode"`
	GasUsed    uint64                 `json:"gasUsed"`
	ComputeFee string                 `json:"computeFee"`
	ForwardFee string                 `json:"forwardFee"`
	Logs       []string               `json:"logs,omitempty"`
	Deposits   []depositevent.Payload `json:"deposits,omitempty"`
	Transfers  []transferJSON         `json:"transfers,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

func renderTransaction(tx chainstore.Transaction) transactionJSON {
	out := transactionJSON{
		Account:    tx.Account,
		LT:         strconv.FormatUint(tx.LT, 10),
		Hash:       "0x" + hex.EncodeToString(tx.Hash[:]),
		Kind:       tx.Kind.String(),
		Src:        tx.Src,
		Value:      bigString(tx.Value),
		Bounced:    tx.Bounced,
		Op:         tx.Op,
		ExitCode:   tx.ExitCode,
		GasUsed:    tx.GasUsed,
		ComputeFee: bigString(tx.ComputeFee),
		ForwardFee: bigString(tx.ForwardFee),
		CreatedAt:  tx.CreatedAt.UTC(),
	}
	if body, err := cell.FromBOC(tx.InBody); err == nil {
		if d, err := wire.DescribeInbound(body); err == nil {
			out.Inbound = &d
		}
	}
	for _, l := range tx.Logs {
		out.Logs = append(out.Logs, base64.StdEncoding.EncodeToString(l))
	}
	if deps, err := depositevent.FromTransaction(tx); err == nil {
		out.Deposits = deps
	}
	for _, tr := range tx.Transfers {
		out.Transfers = append(out.Transfers, transferJSON{
			To:      tr.To,
			Amount:  bigString(tr.Amount),
			Bounce:  tr.Bounce,
			Bounced: tr.Bounced,
		})
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatTON(v *big.Int) string {
	if v == nil {
		v = new(big.Int)
	}
	return tlb.FromNanoTON(v).String()
}

func writeError(w http.ResponseWriter, code int, reason string) {
	writeJSON(w, code, map[string]any{
		"version": "v1",
		"error":   reason,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var out T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return out, false
	}
	return out, true
}
