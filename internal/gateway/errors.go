package gateway

import (
	"errors"
	"fmt"

	"github.com/juno-intents/ton-gateway/internal/authority"
	"github.com/juno-intents/ton-gateway/internal/fees"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

// ExitCode is the numeric result of a transition, stable for collaborators.
type ExitCode int32

const (
	ExitOK ExitCode = 0

	// Host platform codes.
	ExitCellUnderflow ExitCode = 9
	ExitOutOfGas      ExitCode = -14
	ExitUnknownCode   ExitCode = 65535

	ExitNoIntent            ExitCode = 101
	ExitInvalidCallData     ExitCode = 104
	ExitInsufficientValue   ExitCode = 106
	ExitInvalidSignature    ExitCode = 108
	ExitInvalidSeqno        ExitCode = 109
	ExitDepositsDisabled    ExitCode = 110
	ExitInvalidAuthority    ExitCode = 111
	ExitInvalidTVMRecipient ExitCode = 112

	// ExitUnclassified marks an error that carries no exit code.
	ExitUnclassified ExitCode = -1
)

type ExitError struct {
	Code ExitCode
	Name string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("gateway: %s (exit code %d)", e.Name, e.Code)
}

var (
	ErrCellUnderflow       = &ExitError{Code: ExitCellUnderflow, Name: "cell underflow"}
	ErrOutOfGas            = &ExitError{Code: ExitOutOfGas, Name: "out of gas"}
	ErrUnknownCode         = &ExitError{Code: ExitUnknownCode, Name: "unknown code"}
	ErrNoIntent            = &ExitError{Code: ExitNoIntent, Name: "no intent"}
	ErrInvalidCallData     = &ExitError{Code: ExitInvalidCallData, Name: "invalid call data"}
	ErrInsufficientValue   = &ExitError{Code: ExitInsufficientValue, Name: "insufficient value"}
	ErrInvalidSignature    = &ExitError{Code: ExitInvalidSignature, Name: "invalid signature"}
	ErrInvalidSeqno        = &ExitError{Code: ExitInvalidSeqno, Name: "invalid seqno"}
	ErrDepositsDisabled    = &ExitError{Code: ExitDepositsDisabled, Name: "deposits disabled"}
	ErrInvalidAuthority    = &ExitError{Code: ExitInvalidAuthority, Name: "invalid authority"}
	ErrInvalidTVMRecipient = &ExitError{Code: ExitInvalidTVMRecipient, Name: "invalid tvm recipient"}
)

// ExitCodeOf returns the exit code carried by err, ExitOK for nil.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitUnclassified
}

// classify maps codec, fee and authorization errors onto exit errors.
// Errors that already carry an exit code pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return err
	}
	var target *ExitError
	switch {
	case errors.Is(err, wire.ErrUnknownOp):
		target = ErrNoIntent
	case errors.Is(err, wire.ErrInvalidCallData):
		target = ErrInvalidCallData
	case errors.Is(err, wire.ErrMalformed):
		target = ErrCellUnderflow
	case errors.Is(err, fees.ErrOutOfGas):
		target = ErrOutOfGas
	case errors.Is(err, authority.ErrInvalidAuthority):
		target = ErrInvalidAuthority
	case errors.Is(err, authority.ErrInvalidSignature), errors.Is(err, authority.ErrHashMismatch):
		target = ErrInvalidSignature
	default:
		return err
	}
	return fmt.Errorf("%w: %w", target, err)
}
