package selector

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// MaxScore bounds RandomScore: in eight-ball the loser pots at most seven.
const MaxScore = 7

var ErrInsufficientPlayers = errors.New("not enough players to pick a match")

// Source yields uniform integers in [0, n).
type Source interface {
	IntN(n int) int
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

func (CryptoSource) IntN(n int) int {
	randIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("failed to generate random index: %v", err))
	}

	return int(randIdx.Int64())
}

// PickTwo returns two players with distinct identities, drawn uniformly.
// Entries sharing an identity count once.
func PickTwo[T any](source Source, pool []T, identity func(T) string) (T, T, error) {
	var zero T

	seen := make(map[string]bool, len(pool))
	distinct := make([]T, 0, len(pool))

	for _, player := range pool {
		id := identity(player)
		if seen[id] {
			continue
		}

		seen[id] = true
		distinct = append(distinct, player)
	}

	if len(distinct) < 2 {
		return zero, zero, fmt.Errorf("%w: pool has %d distinct players", ErrInsufficientPlayers, len(distinct))
	}

	// first two steps of a Fisher-Yates shuffle
	n := len(distinct)
	i := source.IntN(n)

	j := source.IntN(n - 1)
	if j >= i {
		j++
	}

	return distinct[i], distinct[j], nil
}

// PickWinner returns the player with the strictly higher score, or a fair
// coin flip between them on a tie.
func PickWinner[T any](source Source, playerA, playerB T, scoreA, scoreB uint64) T {
	if scoreA == scoreB {
		if source.IntN(2) == 0 {
			return playerA
		}

		return playerB
	}

	if scoreA > scoreB {
		return playerA
	}

	return playerB
}

func RandomScore(source Source) uint64 {
	return uint64(source.IntN(MaxScore + 1)) //nolint:gosec
}
