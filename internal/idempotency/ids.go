package idempotency

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	transactionIDPrefixV1 = "ton_gateway_tx_v1"
	depositLogIDPrefixV1  = "ton_gateway_deposit_log_v1"
)

// TransactionIDV1 identifies a receipt:
//
//	txId = keccak256("ton_gateway_tx_v1" || account || 0x00 || ltBE64 || inBodyHash)
//
// account is the raw workchain:hex form.
func TransactionIDV1(account string, lt uint64, inBodyHash [32]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(transactionIDPrefixV1))
	writeAccountLT(h, account, lt)
	_, _ = h.Write(inBodyHash[:])
	return common.BytesToHash(h.Sum(nil))
}

// DepositLogIDV1 identifies the index-th deposit log of a transaction, so
// downstream consumers can drop redeliveries:
//
//	logId = keccak256("ton_gateway_deposit_log_v1" || account || 0x00 || ltBE64 || indexBE32)
func DepositLogIDV1(account string, lt uint64, index uint32) common.Hash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(depositLogIDPrefixV1))
	writeAccountLT(h, account, lt)

	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	_, _ = h.Write(idx[:])
	return common.BytesToHash(h.Sum(nil))
}

func writeAccountLT(h interface{ Write([]byte) (int, error) }, account string, lt uint64) {
	_, _ = h.Write([]byte(account))
	_, _ = h.Write([]byte{0})

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], lt)
	_, _ = h.Write(b[:])
}
