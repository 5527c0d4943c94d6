package wire

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	// MaxCallDataSize bounds the call data a DepositAndCall or Call may carry.
	MaxCallDataSize = 2048

	snakeSegmentBytes = 127
	// maxCellDepth is the deepest reference chain a cell may have.
	maxCellDepth = 1024
)

// EncodeSnake lays data out as a chain of cells holding up to 127 bytes
// each, every cell referencing the next one.
func EncodeSnake(data []byte) (*cell.Cell, error) {
	if len(data) > MaxCallDataSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidCallData, len(data), MaxCallDataSize)
	}

	var chunks [][]byte
	for rest := data; len(rest) > 0; {
		n := min(len(rest), snakeSegmentBytes)
		chunks = append(chunks, rest[:n])
		rest = rest[n:]
	}
	if len(chunks) == 0 {
		return cell.BeginCell().EndCell(), nil
	}

	var next *cell.Cell
	for i := len(chunks) - 1; i >= 0; i-- {
		b := cell.BeginCell()
		if err := b.StoreSlice(chunks[i], uint(len(chunks[i])*8)); err != nil {
			return nil, fmt.Errorf("wire: store snake segment: %w", err)
		}
		if next != nil {
			if err := b.StoreRef(next); err != nil {
				return nil, fmt.Errorf("wire: store snake ref: %w", err)
			}
		}
		next = b.EndCell()
	}
	return next, nil
}

// DecodeSnake reads a snake chain back into bytes, failing with
// ErrInvalidCallData when a segment is not byte aligned, branches, the chain
// is deeper than a cell may be, or the total exceeds limit bytes. Segments
// may be shorter than 127 bytes.
func DecodeSnake(c *cell.Cell, limit int) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: missing", ErrInvalidCallData)
	}
	var out []byte
	s := c.BeginParse()
	for seg := 0; ; seg++ {
		if seg > maxCellDepth {
			return nil, fmt.Errorf("%w: chain deeper than %d", ErrInvalidCallData, maxCellDepth)
		}
		bits := s.BitsLeft()
		if bits%8 != 0 {
			return nil, fmt.Errorf("%w: segment %d has %d bits", ErrInvalidCallData, seg, bits)
		}
		refs := s.RefsNum()
		if refs > 1 {
			return nil, fmt.Errorf("%w: segment %d has %d refs", ErrInvalidCallData, seg, refs)
		}
		if bits > 0 {
			chunk, err := s.LoadSlice(bits)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidCallData, err)
			}
			out = append(out, chunk...)
		}
		if len(out) > limit {
			return nil, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidCallData, limit)
		}
		if refs == 0 {
			return out, nil
		}
		next, err := s.LoadRef()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCallData, err)
		}
		s = next
	}
}

// HexToCell snake-encodes a hex string, with or without a 0x prefix.
func HexToCell(s string) (*cell.Cell, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallData, err)
	}
	return EncodeSnake(b)
}

// CellToHex is the inverse of HexToCell; the result carries a 0x prefix.
func CellToHex(c *cell.Cell) (string, error) {
	b, err := DecodeSnake(c, MaxCallDataSize)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}
