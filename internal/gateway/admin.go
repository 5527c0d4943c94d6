package gateway

import (
	"github.com/juno-intents/ton-gateway/internal/authority"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

// Administrative commands arrive as internal messages and are authorized
// by their direct sender.

func (t *transition) requireAuthority() error {
	return authority.VerifySender(t.in.Sender, t.st.Authority)
}

func (t *transition) setDepositsEnabled(r wire.SetDepositsEnabled) error {
	if err := t.requireAuthority(); err != nil {
		return err
	}
	t.st.DepositsEnabled = r.Enabled
	return nil
}

func (t *transition) updateTSS(r wire.UpdateTSS) error {
	if err := t.requireAuthority(); err != nil {
		return err
	}
	t.st.TSS = r.NewTSS
	return nil
}

// updateCode leaves the data cell untouched; the host swaps the code
// once the transition commits.
func (t *transition) updateCode(r wire.UpdateCode) error {
	if err := t.requireAuthority(); err != nil {
		return err
	}
	t.newCode = r.Code
	return nil
}

func (t *transition) updateAuthority(r wire.UpdateAuthority) error {
	if err := t.requireAuthority(); err != nil {
		return err
	}
	t.st.Authority = r.NewAuthority
	return nil
}
