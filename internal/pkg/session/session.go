// Package session describes the capability a match needs from a ledger:
// submit a state-changing call and wait for its confirmation, read state,
// and resolve signer identities.
package session

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrReverted       = errors.New("transaction reverted")
	ErrMatchNotActive = errors.New("match not active")
	ErrUnknownMethod  = errors.New("unknown contract method")
	ErrNoSuchEvent    = errors.New("event not found in confirmation")
)

// Method is one of the fixed contract entry points a session understands.
type Method string

const (
	MethodDeposit      Method = "deposit"
	MethodHasDeposited Method = "hasDeposited"
	MethodStartMatch   Method = "startMatch"
	MethodEndMatch     Method = "endMatch"
	MethodPayout       Method = "payout"
)

const (
	EventMatchStarted = "MatchStarted"
	EventMatchEnded   = "MatchEnded"
	EventPayout       = "Payout"
)

type Call struct {
	To     string
	Method Method
	Args   []any
}

type Event struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type Confirmation struct {
	TxHash string  `json:"tx_hash"`
	Events []Event `json:"events"`
}

// Event returns the first emitted event with the given name.
func (c *Confirmation) Event(name string) (Event, error) {
	for _, event := range c.Events {
		if event.Name == name {
			return event, nil
		}
	}

	return Event{}, ErrNoSuchEvent
}

// Signer authorizes transactions for a single account.
type Signer interface {
	Address() string
	SignHash(hash []byte) ([]byte, error)
}

// Session is borrowed by callers; it is never closed by them.
type Session interface {
	// Send submits call on behalf of signer and blocks until it is confirmed
	// or fails. value may be nil.
	Send(ctx context.Context, call Call, signer Signer, value *big.Int) (*Confirmation, error)
	Call(ctx context.Context, call Call) (any, error)
	CurrentAddress(ctx context.Context, signer Signer) (string, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
}
