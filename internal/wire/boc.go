package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

// ParseBOC decodes a serialized bag of cells holding a single root.
func ParseBOC(b []byte) (*cell.Cell, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty boc", ErrMalformed)
	}
	c, err := cell.FromBOC(b)
	if err != nil {
		return nil, fmt.Errorf("%w: boc: %v", ErrMalformed, err)
	}
	return c, nil
}

func ParseBase64BOC(s string) (*cell.Cell, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}
	return ParseBOC(b)
}

func Base64BOC(c *cell.Cell) string {
	return base64.StdEncoding.EncodeToString(c.ToBOC())
}

// MaxMessageCells bounds the distinct cells reachable from one message body.
const MaxMessageCells = 8192

var ErrTooManyCells = fmt.Errorf("%w: too many cells", ErrMalformed)

// TreeStats reports the distinct cells reachable from c and their data bits.
// A cell referenced from several parents counts once. The walk stops with
// ErrTooManyCells as soon as more than limit cells have been seen.
func TreeStats(c *cell.Cell, limit uint64) (cells, bits uint64, err error) {
	if c == nil {
		return 0, 0, nil
	}
	seen := make(map[string]struct{}, 8)
	stack := []*cell.Cell{c}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		h := string(cur.Hash())
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if cells++; cells > limit {
			return 0, 0, fmt.Errorf("%w: more than %d", ErrTooManyCells, limit)
		}
		bits += uint64(cur.BitsSize())

		s := cur.BeginParse()
		for s.RefsNum() > 0 {
			ref, err := s.LoadRefCell()
			if err != nil {
				return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			stack = append(stack, ref)
		}
	}
	return cells, bits, nil
}
