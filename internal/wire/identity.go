package wire

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const identityBits = 160

// ParseRemoteIdentity parses a 0x-prefixed, 40 hex digit EVM address.
func ParseRemoteIdentity(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("%w: want 0x followed by 40 hex digits", ErrInvalidIdentity)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return common.BytesToAddress(b), nil
}

func storeIdentity(b *cell.Builder, id common.Address) error {
	return b.StoreSlice(id[:], identityBits)
}

func loadIdentity(s *cell.Slice) (common.Address, error) {
	raw, err := s.LoadSlice(identityBits)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: identity: %v", ErrMalformed, err)
	}
	return common.BytesToAddress(raw), nil
}

// SameAddress compares workchain and account id, ignoring the
// bounceable/testnet flags carried by the user-friendly form.
func SameAddress(a, b *address.Address) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Workchain() == b.Workchain() && bytes.Equal(a.Data(), b.Data())
}

func storeAddr(b *cell.Builder, a *address.Address) error {
	if a == nil {
		return fmt.Errorf("%w: nil address", ErrMalformed)
	}
	return b.StoreAddr(a)
}

func loadAddr(s *cell.Slice) (*address.Address, error) {
	a, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: address: %v", ErrMalformed, err)
	}
	if len(a.Data()) != 32 {
		return nil, fmt.Errorf("%w: address is not a standard internal address", ErrMalformed)
	}
	return a, nil
}

// RawAddress renders a as workchain:hex, the form stores key accounts by.
func RawAddress(a *address.Address) string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%d:%s", a.Workchain(), hex.EncodeToString(a.Data()))
}

// ParseAddress accepts the raw workchain:hex form or any user-friendly
// form tonutils understands.
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	wc, hexPart, ok := strings.Cut(s, ":")
	if !ok {
		a, err := address.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: address %q: %v", ErrMalformed, s, err)
		}
		return a, nil
	}
	n, err := strconv.ParseInt(wc, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: workchain %q", ErrMalformed, wc)
	}
	data, err := hex.DecodeString(hexPart)
	if err != nil || len(data) != 32 {
		return nil, fmt.Errorf("%w: account id %q", ErrMalformed, hexPart)
	}
	return address.NewAddress(0, byte(int8(n)), data), nil
}
