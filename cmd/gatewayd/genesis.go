package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/config"
	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

type deployer interface {
	Deploy(ctx context.Context, addr *address.Address, code, data *cell.Cell, balance *big.Int) error
	Account(ctx context.Context, addr *address.Address) (host.Account, error)
}

// deployGenesis installs the configured gateway unless the store already
// holds it. A stored account with different code is left alone and logged.
func deployGenesis(ctx context.Context, d deployer, code *cell.Cell, g config.Genesis, log *slog.Logger) error {
	acct, err := d.Account(ctx, g.Address)
	switch {
	case err == nil:
		if acct.Code == nil || string(acct.Code.Hash()) != string(code.Hash()) {
			log.Warn("stored gateway runs different code", "account", wire.RawAddress(g.Address))
		}
		log.Info("gateway already deployed", "account", wire.RawAddress(g.Address), "lastLt", acct.LastLT)
		return nil
	case !errors.Is(err, chainstore.ErrNotFound):
		return fmt.Errorf("load gateway account: %w", err)
	}

	data, err := wire.EncodeState(g.State)
	if err != nil {
		return fmt.Errorf("encode genesis state: %w", err)
	}
	if err := d.Deploy(ctx, g.Address, code, data, g.Balance); err != nil && !errors.Is(err, chainstore.ErrAlreadyExists) {
		return err
	}
	return nil
}

type stateReader interface {
	GetState(data *cell.Cell) (wire.State, error)
}

type ledgerGauges interface {
	SetLedger(balance, locked *big.Int, seqno uint32)
}

func updateLedger(ctx context.Context, d deployer, m stateReader, g config.Genesis, gauges ledgerGauges, log *slog.Logger) {
	acct, err := d.Account(ctx, g.Address)
	if err != nil {
		log.Warn("read gateway account for metrics", "err", err)
		return
	}
	st, err := m.GetState(acct.Data)
	if err != nil {
		log.Warn("decode gateway state for metrics", "err", err)
		return
	}
	gauges.SetLedger(acct.Balance, st.Locked, st.Seqno)
}
