package gateway

import (
	"fmt"
	"math"

	"github.com/juno-intents/ton-gateway/internal/wire"
)

// checkSeqno accepts only the current seqno. The counter cannot advance
// past the top of its range; ResetSeqno is the way out.
func (t *transition) checkSeqno(seqno uint32) error {
	if seqno != t.st.Seqno {
		return fmt.Errorf("%w: got %d want %d", ErrInvalidSeqno, seqno, t.st.Seqno)
	}
	if t.st.Seqno == math.MaxUint32 {
		return fmt.Errorf("%w: seqno exhausted", ErrInvalidSeqno)
	}
	return nil
}

func (t *transition) advanceSeqno() {
	t.st.Seqno++
}

// increaseSeqno burns the current seqno with no other effect.
func (t *transition) increaseSeqno(m wire.External, p wire.IncreaseSeqno) error {
	if err := t.authorizeSigned(m, p.Seqno); err != nil {
		return err
	}
	if err := t.requireSurplus(wire.OpIncreaseSeqno); err != nil {
		return err
	}
	t.advanceSeqno()
	return nil
}

func (t *transition) resetSeqno(r wire.ResetSeqno) error {
	if err := t.requireAuthority(); err != nil {
		return err
	}
	t.st.Seqno = r.NewSeqno
	return nil
}
