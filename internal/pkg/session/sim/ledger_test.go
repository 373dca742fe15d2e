package sim_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/baishi/internal/pkg/session"
	"github.com/vreid/baishi/internal/pkg/session/sim"
)

const (
	owner   = sim.Account("0xOwner")
	playerA = sim.Account("0xA")
	playerB = sim.Account("0xB")
)

func newLedger() *sim.Ledger {
	return sim.New(sim.Options{
		Owner:    owner.Address(),
		EntryFee: big.NewInt(10),
		Genesis: map[string]*big.Int{
			owner.Address():   big.NewInt(1000),
			playerA.Address(): big.NewInt(100),
			playerB.Address(): big.NewInt(100),
		},
	})
}

func deposit(t *testing.T, l *sim.Ledger, p sim.Account) {
	t.Helper()

	_, err := l.Send(context.Background(), session.Call{
		To:     l.Router(),
		Method: session.MethodDeposit,
	}, p, big.NewInt(10))
	require.NoError(t, err)
}

func startMatch(t *testing.T, l *sim.Ledger) *big.Int {
	t.Helper()

	confirmation, err := l.Send(context.Background(), session.Call{
		To:     l.Router(),
		Method: session.MethodStartMatch,
		Args:   []any{playerA.Address(), playerB.Address()},
	}, owner, nil)
	require.NoError(t, err)

	event, err := confirmation.Event(session.EventMatchStarted)
	require.NoError(t, err)

	matchID, ok := event.Args["matchId"].(*big.Int)
	require.True(t, ok)

	return matchID
}

func endMatch(l *sim.Ledger, matchID *big.Int, scoreA, scoreB int64) error {
	_, err := l.Send(context.Background(), session.Call{
		To:     l.Router(),
		Method: session.MethodEndMatch,
		Args:   []any{matchID, big.NewInt(scoreA), big.NewInt(scoreB)},
	}, owner, nil)

	return err //nolint:wrapcheck
}

func TestFullFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger()

	deposit(t, l, playerA)
	deposit(t, l, playerB)

	deposited, err := l.Call(ctx, session.Call{
		To:     l.Router(),
		Method: session.MethodHasDeposited,
		Args:   []any{playerA.Address()},
	})
	require.NoError(t, err)
	assert.Equal(t, true, deposited)

	matchID := startMatch(t, l)
	assert.Equal(t, int64(0), matchID.Int64())

	require.NoError(t, endMatch(l, matchID, 8, 5))

	assert.Equal(t, sim.Stats{Wins: 1}, l.Stats(playerA.Address()))
	assert.Equal(t, sim.Stats{Losses: 1}, l.Stats(playerB.Address()))

	confirmation, err := l.Send(ctx, session.Call{
		To:     l.RewardEngine(),
		Method: session.MethodPayout,
		Args:   []any{playerA.Address()},
	}, owner, big.NewInt(20))
	require.NoError(t, err)

	event, err := confirmation.Event(session.EventPayout)
	require.NoError(t, err)
	amount, ok := event.Args["amount"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, int64(20), amount.Int64())

	balance, err := l.Balance(ctx, playerA.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(110), balance.Int64())
}

func TestDepositRejections(t *testing.T) {
	t.Parallel()

	l := newLedger()

	_, err := l.Send(context.Background(), session.Call{
		To:     l.Router(),
		Method: session.MethodDeposit,
	}, playerA, big.NewInt(5))
	require.ErrorIs(t, err, sim.ErrIncorrectEntryFee)
	require.ErrorIs(t, err, session.ErrReverted)

	deposit(t, l, playerA)

	_, err = l.Send(context.Background(), session.Call{
		To:     l.Router(),
		Method: session.MethodDeposit,
	}, playerA, big.NewInt(10))
	require.ErrorIs(t, err, sim.ErrAlreadyDeposited)
}

func TestStartMatchRequiresDeposits(t *testing.T) {
	t.Parallel()

	l := newLedger()

	deposit(t, l, playerA)

	_, err := l.Send(context.Background(), session.Call{
		To:     l.Router(),
		Method: session.MethodStartMatch,
		Args:   []any{playerA.Address(), playerB.Address()},
	}, owner, nil)
	require.ErrorIs(t, err, sim.ErrDepositsMissing)
}

func TestOwnerOnly(t *testing.T) {
	t.Parallel()

	l := newLedger()

	deposit(t, l, playerA)
	deposit(t, l, playerB)

	_, err := l.Send(context.Background(), session.Call{
		To:     l.Router(),
		Method: session.MethodStartMatch,
		Args:   []any{playerA.Address(), playerB.Address()},
	}, playerA, nil)
	require.ErrorIs(t, err, sim.ErrNotOwner)

	_, err = l.Send(context.Background(), session.Call{
		To:     l.RewardEngine(),
		Method: session.MethodPayout,
		Args:   []any{playerA.Address()},
	}, playerA, big.NewInt(1))
	require.ErrorIs(t, err, sim.ErrNotOwner)
}

func TestEndMatchTwice(t *testing.T) {
	t.Parallel()

	l := newLedger()

	deposit(t, l, playerA)
	deposit(t, l, playerB)

	matchID := startMatch(t, l)

	require.NoError(t, endMatch(l, matchID, 5, 8))
	require.ErrorIs(t, endMatch(l, matchID, 6, 7), session.ErrMatchNotActive)
	require.ErrorIs(t, endMatch(l, big.NewInt(42), 6, 7), session.ErrMatchNotActive)

	assert.Equal(t, sim.Stats{Wins: 1}, l.Stats(playerB.Address()))
}

func TestZeroPayout(t *testing.T) {
	t.Parallel()

	l := newLedger()

	_, err := l.Send(context.Background(), session.Call{
		To:     l.RewardEngine(),
		Method: session.MethodPayout,
		Args:   []any{playerA.Address()},
	}, owner, nil)
	require.ErrorIs(t, err, sim.ErrZeroPayout)
}

func TestUnknownContract(t *testing.T) {
	t.Parallel()

	l := newLedger()

	_, err := l.Send(context.Background(), session.Call{
		To:     "0xdead",
		Method: session.MethodDeposit,
	}, playerA, big.NewInt(10))
	require.ErrorIs(t, err, sim.ErrNoContract)
}
