package ledger

import (
	"errors"
	"fmt"
)

// RejectionKind names a business reason for refusing an order.
type RejectionKind string

const (
	InvalidQuantity      RejectionKind = "InvalidQuantity"
	UnknownSymbol        RejectionKind = "UnknownSymbol"
	InsufficientFunds    RejectionKind = "InsufficientFunds"
	InsufficientHoldings RejectionKind = "InsufficientHoldings"
)

// Rejection is an expected refusal of an order. It is a normal outcome,
// not a fault, and never mutates state.
type Rejection struct {
	Kind    RejectionKind
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("ledger: %s: %s", r.Kind, r.Message)
}

// Is matches any Rejection of the same kind, so errors.Is(err, ErrInsufficientFunds)
// holds for rejections carrying a specific message.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Kind == r.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidQuantity      = &Rejection{Kind: InvalidQuantity, Message: "quantity must be a positive integer"}
	ErrUnknownSymbol        = &Rejection{Kind: UnknownSymbol, Message: "symbol has no current quote"}
	ErrInsufficientFunds    = &Rejection{Kind: InsufficientFunds, Message: "balance does not cover the order total"}
	ErrInsufficientHoldings = &Rejection{Kind: InsufficientHoldings, Message: "not enough shares held"}
)

func reject(kind RejectionKind, format string, args ...interface{}) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Internal faults. These are not rejections and surface as generic failures.
var (
	ErrAccountNotFound = errors.New("ledger: account not found")
	ErrAccountExists   = errors.New("ledger: account already exists")
	ErrInvalidAction   = errors.New("ledger: action must be buy or sell")
	ErrNoPrincipal     = errors.New("ledger: no authenticated principal")
)

// IsRejection reports whether err is a business rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// AsRejection returns the rejection carried by err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
