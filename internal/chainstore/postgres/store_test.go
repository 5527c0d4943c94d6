package postgres

import (
	"errors"
	"math/big"
	"testing"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
)

func TestNew_RejectsNilPool(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTransferRows_Numeric(t *testing.T) {
	t.Parallel()

	rows := transferRows([]chainstore.Transfer{{To: "0:aa", Amount: new(big.Int).Lsh(big.NewInt(1), 100), Bounce: true}, {To: "0:bb"}})
	if rows[0].Amount != "1267650600228229401496703205376" || rows[1].Amount != "0" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if _, err := parseNumeric("12x"); err == nil {
		t.Fatalf("expected parse error")
	}
}
