// Package players loads the pool of accounts a match is drawn from.
package players

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vreid/baishi/internal/pkg/match"
	"github.com/vreid/baishi/internal/pkg/session"
	"github.com/vreid/baishi/internal/pkg/session/evm"
	"github.com/vreid/baishi/internal/pkg/session/sim"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingAddress   = errors.New("player needs an address or a private key")
	ErrAddressMismatch  = errors.New("address does not match private key")
	ErrDuplicatePlayer  = errors.New("duplicate player")
	ErrNoPlayersDefined = errors.New("no players defined")
)

type entry struct {
	Address    string `yaml:"address"`
	PrivateKey string `yaml:"private_key"`
}

type file struct {
	Players []entry `yaml:"players"`
}

func Load(path string) ([]match.Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open players file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	return Decode(f)
}

// Decode reads a players document. Entries with a private key sign their own
// transactions; address-only entries are only usable on the simulated ledger.
func Decode(r io.Reader) ([]match.Player, error) {
	var doc file

	err := yaml.NewDecoder(r).Decode(&doc)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode players: %w", err)
	}

	if len(doc.Players) == 0 {
		return nil, ErrNoPlayersDefined
	}

	result := make([]match.Player, 0, len(doc.Players))
	seen := map[string]bool{}

	for idx, e := range doc.Players {
		signer, err := signerFor(e)
		if err != nil {
			return nil, fmt.Errorf("player %d: %w", idx, err)
		}

		k := strings.ToLower(signer.Address())
		if seen[k] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlayer, signer.Address())
		}

		seen[k] = true

		result = append(result, match.Player{
			Address: signer.Address(),
			Signer:  signer,
		})
	}

	return result, nil
}

func signerFor(e entry) (session.Signer, error) {
	if e.PrivateKey == "" {
		if e.Address == "" {
			return nil, ErrMissingAddress
		}

		return sim.Account(e.Address), nil
	}

	signer, err := evm.ParseKeySigner(e.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	if e.Address != "" && !strings.EqualFold(e.Address, signer.Address()) {
		return nil, fmt.Errorf("%w: %s", ErrAddressMismatch, e.Address)
	}

	return signer, nil
}
