package evm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/baishi/internal/pkg/session"
)

const (
	routerAddress = "0x00000000000000000000000000000000000000a1"
	playerA       = "0x1111111111111111111111111111111111111111"
	playerB       = "0x2222222222222222222222222222222222222222"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()

	routerABI, err := GameRouterABI()
	require.NoError(t, err)

	s := &Session{
		chainID:   big.NewInt(1337),
		contracts: map[common.Address]*contract{},
	}
	require.NoError(t, s.register(routerAddress, routerABI))

	return s
}

func TestPackArgsConvertsAddresses(t *testing.T) {
	t.Parallel()

	routerABI, err := GameRouterABI()
	require.NoError(t, err)

	args, err := packArgs(routerABI, session.Call{
		Method: session.MethodStartMatch,
		Args:   []any{playerA, playerB},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{common.HexToAddress(playerA), common.HexToAddress(playerB)}, args)

	_, err = packArgs(routerABI, session.Call{
		Method: session.MethodStartMatch,
		Args:   []any{"0xA", playerB},
	})
	require.ErrorIs(t, err, ErrBadAddress)

	_, err = packArgs(routerABI, session.Call{Method: session.MethodPayout})
	require.ErrorIs(t, err, session.ErrUnknownMethod)

	_, err = packArgs(routerABI, session.Call{Method: session.MethodStartMatch})
	require.Error(t, err)
}

func TestDecodeLogs(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	routerABI := s.contracts[common.HexToAddress(routerAddress)].abi

	event := routerABI.Events[session.EventMatchStarted]

	data, err := event.Inputs.NonIndexed().Pack(common.HexToAddress(playerA), common.HexToAddress(playerB))
	require.NoError(t, err)

	logs := []*types.Log{
		{
			Address: common.HexToAddress(routerAddress),
			Topics: []common.Hash{
				event.ID,
				common.BigToHash(big.NewInt(7)),
			},
			Data: data,
		},
		{
			Address: common.HexToAddress(playerA),
			Topics:  []common.Hash{event.ID},
		},
	}

	events := s.decodeLogs(logs)
	require.Len(t, events, 1)

	assert.Equal(t, session.EventMatchStarted, events[0].Name)
	assert.Equal(t, common.HexToAddress(playerA).Hex(), events[0].Args["playerA"])
	assert.Equal(t, common.HexToAddress(playerB).Hex(), events[0].Args["playerB"])

	matchID, ok := events[0].Args["matchId"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, int64(7), matchID.Int64())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	err := classify(errors.New("execution reverted: GameRouter: match not active"))
	require.ErrorIs(t, err, session.ErrMatchNotActive)
	require.ErrorIs(t, err, session.ErrReverted)

	err = classify(errors.New("execution reverted: GameRouter: incorrect entry fee"))
	require.ErrorIs(t, err, session.ErrReverted)
	require.NotErrorIs(t, err, session.ErrMatchNotActive)

	err = classify(errors.New("connection refused"))
	require.NotErrorIs(t, err, session.ErrReverted)
}

func TestContractLookup(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)

	_, err := s.contract(playerA)
	require.ErrorIs(t, err, ErrUnknownContract)

	_, err = s.contract("router")
	require.ErrorIs(t, err, ErrBadAddress)

	c, err := s.contract(routerAddress)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(routerAddress), c.address)
}

func TestShutdownClosesOnce(t *testing.T) {
	t.Parallel()

	closed := 0

	//nolint:exhaustruct
	s := &Session{closer: func() { closed++ }}

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())

	assert.Equal(t, 1, closed)
}
