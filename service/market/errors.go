package market

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when an action's preconditions are not met.
	// No ledger call is made.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBusy is returned when another operation is still pending.
	ErrBusy = errors.New("another operation is pending")

	// ErrTimeout marks a write whose confirmation did not arrive in time.
	ErrTimeout = errors.New("confirmation timed out")

	// ErrNotConnected is returned by write actions before an account is connected.
	ErrNotConnected = fmt.Errorf("%w: no account connected", ErrInvalidInput)

	// ErrNoWallet is returned by Connect when no account provider is configured.
	ErrNoWallet = errors.New("no wallet available")
)

// GatewayError reports a failed state-changing request: either the ledger
// refused the submission or the write did not confirm.
type GatewayError struct {
	Tag    OperationTag
	Stage  string // "submit" or "confirm"
	TxHash string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s %s failed (tx %s): %v", e.Tag, e.Stage, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Tag, e.Stage, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ReadError reports a failed ledger read during a rebuild pass. The pass's
// partial result is discarded.
type ReadError struct {
	View  View
	Step  string
	Index *uint64
	Token *TokenID
	Err   error
}

func (e *ReadError) Error() string {
	switch {
	case e.Token != nil:
		return fmt.Sprintf("rebuild %s: %s(token %d): %v", e.View, e.Step, *e.Token, e.Err)
	case e.Index != nil:
		return fmt.Sprintf("rebuild %s: %s(index %d): %v", e.View, e.Step, *e.Index, e.Err)
	default:
		return fmt.Sprintf("rebuild %s: %s: %v", e.View, e.Step, e.Err)
	}
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// FetchError reports that a metadata descriptor could not be retrieved or decoded.
type FetchError struct {
	URI string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch metadata %q: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
