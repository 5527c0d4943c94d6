// Package authority implements the gateway's two authorization channels:
// the on-chain authority identified by the direct sender of an internal
// message, and the TSS quorum identified by a recoverable secp256k1
// signature over a payload cell hash.
package authority

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/wire"
)

var (
	ErrInvalidAuthority = errors.New("authority: sender is not the authority")
	ErrInvalidSignature = errors.New("authority: invalid signature")
	ErrHashMismatch     = errors.New("authority: payload hash mismatch")
)

// VerifySender accepts sender only when it is the stored authority.
func VerifySender(sender, authority *address.Address) error {
	if !wire.SameAddress(sender, authority) {
		return ErrInvalidAuthority
	}
	return nil
}

// PayloadHash is the representation hash of the payload cell alone.
// Anything other than a 32-byte hash is a broken invariant, not bad input.
func PayloadHash(payload *cell.Cell) common.Hash {
	h := payload.Hash()
	if len(h) != common.HashLength {
		panic(fmt.Sprintf("authority: payload hash has %d bytes", len(h)))
	}
	return common.BytesToHash(h)
}

// RecoverSigner returns the address that produced sig over hash. v may be
// in {0,1} or {27,28}.
func RecoverSigner(hash common.Hash, sig wire.Signature) (common.Address, error) {
	raw := sig.Bytes()
	switch raw[64] {
	case 0, 1:
	case 27, 28:
		raw[64] -= 27
	default:
		return common.Address{}, fmt.Errorf("%w: bad v %d", ErrInvalidSignature, raw[64])
	}

	pub, err := crypto.SigToPub(hash[:], raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks the framing hash against the payload and that
// the payload was signed by tss.
func VerifySignature(m wire.External, tss common.Address) error {
	hash := PayloadHash(m.Payload)
	if hash != common.Hash(m.PayloadHash) {
		return ErrHashMismatch
	}
	signer, err := RecoverSigner(hash, m.Signature)
	if err != nil {
		return err
	}
	if signer != tss {
		return ErrInvalidSignature
	}
	return nil
}

// SignPayload signs the payload hash with key and returns a framed
// external message ready for EncodeExternal.
func SignPayload(key *ecdsa.PrivateKey, p wire.Payload) (wire.External, error) {
	if key == nil {
		return wire.External{}, errors.New("authority: nil private key")
	}
	payload, err := wire.EncodePayload(p)
	if err != nil {
		return wire.External{}, err
	}
	hash := PayloadHash(payload)
	raw, err := crypto.Sign(hash[:], key)
	if err != nil {
		return wire.External{}, fmt.Errorf("authority: sign payload: %w", err)
	}
	sig, err := wire.SignatureFromBytes(raw)
	if err != nil {
		return wire.External{}, fmt.Errorf("authority: unexpected signature: %w", err)
	}
	return wire.External{Op: p.Op(), Signature: sig, PayloadHash: hash, Payload: payload}, nil
}
