// Package evm implements session.Session on an Ethereum JSON-RPC endpoint.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vreid/baishi/internal/pkg/session"
)

const DefaultReceiptTimeout = 2 * time.Minute

var (
	ErrTxFailed        = errors.New("transaction failed")
	ErrChainIDMismatch = errors.New("chain id mismatch")
	ErrBadAddress      = errors.New("not a hex address")
	ErrUnknownContract = errors.New("unknown contract address")
)

// Backend is what the session needs from a node; *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type Config struct {
	RPCURL       string
	ChainID      *big.Int
	Router       string
	RewardEngine string

	// Optional ABI overrides, e.g. from a hardhat artifact.
	RouterABI       *abi.ABI
	RewardEngineABI *abi.ABI

	ReceiptTimeout time.Duration
}

type contract struct {
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
}

type Session struct {
	backend        Backend
	chainID        *big.Int
	receiptTimeout time.Duration

	contracts map[common.Address]*contract

	// sends are serialized so nonces are assigned in submission order
	mu sync.Mutex

	closer    func()
	closeOnce sync.Once
}

var _ session.Session = (*Session)(nil)

func Dial(ctx context.Context, cfg Config) (*Session, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	result, err := New(ctx, client, cfg)
	if err != nil {
		client.Close()

		return nil, err
	}

	result.closer = client.Close

	return result, nil
}

func New(ctx context.Context, backend Backend, cfg Config) (*Session, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}

	if cfg.ChainID != nil && cfg.ChainID.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("%w: configured %s, node reports %s", ErrChainIDMismatch, cfg.ChainID, chainID)
	}

	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = DefaultReceiptTimeout
	}

	result := &Session{
		backend:        backend,
		chainID:        chainID,
		receiptTimeout: receiptTimeout,
		contracts:      map[common.Address]*contract{},
	}

	for _, c := range []struct {
		name     string
		address  string
		override *abi.ABI
		embedded func() (abi.ABI, error)
	}{
		{"GameRouter", cfg.Router, cfg.RouterABI, GameRouterABI},
		{"RewardEngine", cfg.RewardEngine, cfg.RewardEngineABI, RewardEngineABI},
	} {
		if c.address == "" {
			continue
		}

		parsed := c.override
		if parsed == nil {
			embedded, err := c.embedded()
			if err != nil {
				return nil, err
			}

			parsed = &embedded
		}

		err = result.register(c.address, *parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", c.name, err)
		}
	}

	return result, nil
}

func (s *Session) register(address string, parsed abi.ABI) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %q", ErrBadAddress, address)
	}

	addr := common.HexToAddress(address)
	s.contracts[addr] = &contract{
		address: addr,
		abi:     parsed,
		bound:   bind.NewBoundContract(addr, parsed, s.backend, s.backend, s.backend),
	}

	return nil
}

func (s *Session) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Shutdown closes the node connection. Repeated calls are no-ops.
func (s *Session) Shutdown() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closer()
		}
	})

	return nil
}

func (s *Session) contract(to string) (*contract, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, to)
	}

	c, ok := s.contracts[common.HexToAddress(to)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, to)
	}

	return c, nil
}

func (s *Session) transactOpts(ctx context.Context, signer session.Signer, value *big.Int) (*bind.TransactOpts, error) {
	if !common.IsHexAddress(signer.Address()) {
		return nil, fmt.Errorf("%w: signer %q", ErrBadAddress, signer.Address())
	}

	from := common.HexToAddress(signer.Address())
	chainSigner := types.LatestSignerForChainID(s.chainID)

	//nolint:exhaustruct
	return &bind.TransactOpts{
		From:    from,
		Context: ctx,
		Value:   value,
		Signer: func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if address != from {
				return nil, bind.ErrNotAuthorized
			}

			sig, err := signer.SignHash(chainSigner.Hash(tx).Bytes())
			if err != nil {
				return nil, err //nolint:wrapcheck
			}

			return tx.WithSignature(chainSigner, sig) //nolint:wrapcheck
		},
	}, nil
}

func (s *Session) Send(
	ctx context.Context,
	call session.Call,
	signer session.Signer,
	value *big.Int,
) (*session.Confirmation, error) {
	c, err := s.contract(call.To)
	if err != nil {
		return nil, err
	}

	args, err := packArgs(c.abi, call)
	if err != nil {
		return nil, err
	}

	opts, err := s.transactOpts(ctx, signer, value)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := c.bound.Transact(opts, string(call.Method), args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to submit %s: %w", call.Method, err))
	}

	receipt, err := s.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}

	return &session.Confirmation{
		TxHash: tx.Hash().Hex(),
		Events: s.decodeLogs(receipt.Logs),
	}, nil
}

func (s *Session) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, s.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %s: %w", tx.Hash().Hex(), err)
	}

	err = AssertTxSuccess(receipt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrReverted, err)
	}

	return receipt, nil
}

func (s *Session) Call(ctx context.Context, call session.Call) (any, error) {
	c, err := s.contract(call.To)
	if err != nil {
		return nil, err
	}

	args, err := packArgs(c.abi, call)
	if err != nil {
		return nil, err
	}

	var results []any

	//nolint:exhaustruct
	err = c.bound.Call(&bind.CallOpts{Context: ctx}, &results, string(call.Method), args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to call %s: %w", call.Method, err))
	}

	if len(results) == 1 {
		return normalize(results[0]), nil
	}

	for i := range results {
		results[i] = normalize(results[i])
	}

	return results, nil
}

func (s *Session) CurrentAddress(_ context.Context, signer session.Signer) (string, error) {
	if !common.IsHexAddress(signer.Address()) {
		return "", fmt.Errorf("%w: signer %q", ErrBadAddress, signer.Address())
	}

	return common.HexToAddress(signer.Address()).Hex(), nil
}

func (s *Session) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, address)
	}

	balance, err := s.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance of %s: %w", address, err)
	}

	return balance, nil
}

// Deploy publishes the artifact's bytecode and waits until the contract
// has code on chain.
func (s *Session) Deploy(
	ctx context.Context,
	artifact *Artifact,
	signer session.Signer,
	params ...any,
) (string, error) {
	if len(artifact.Bytecode) == 0 {
		return "", ErrNoBytecode
	}

	opts, err := s.transactOpts(ctx, signer, nil)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, tx, _, err := bind.DeployContract(opts, artifact.ABI, artifact.Bytecode, s.backend, params...)
	if err != nil {
		return "", classify(fmt.Errorf("failed to submit deployment: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	address, err := bind.WaitDeployed(ctx, s.backend, tx)
	if err != nil {
		return "", fmt.Errorf("failed to wait for deployment %s: %w", tx.Hash().Hex(), err)
	}

	return address.Hex(), nil
}

func packArgs(parsed abi.ABI, call session.Call) ([]any, error) {
	method, ok := parsed.Methods[string(call.Method)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", session.ErrUnknownMethod, call.Method)
	}

	if len(call.Args) != len(method.Inputs) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", call.Method, len(method.Inputs), len(call.Args))
	}

	args := make([]any, len(call.Args))

	for i, input := range method.Inputs {
		arg := call.Args[i]

		if input.Type.T == abi.AddressTy {
			address, ok := arg.(string)
			if !ok || !common.IsHexAddress(address) {
				return nil, fmt.Errorf("%w: argument %s of %s", ErrBadAddress, input.Name, call.Method)
			}

			arg = common.HexToAddress(address)
		}

		args[i] = arg
	}

	return args, nil
}

func (s *Session) decodeLogs(logs []*types.Log) []session.Event {
	events := make([]session.Event, 0, len(logs))

	for _, log := range logs {
		if log == nil || len(log.Topics) == 0 {
			continue
		}

		c, ok := s.contracts[log.Address]
		if !ok {
			continue
		}

		event, err := c.abi.EventByID(log.Topics[0])
		if err != nil {
			continue
		}

		args := map[string]any{}

		err = c.bound.UnpackLogIntoMap(args, event.Name, *log)
		if err != nil {
			continue
		}

		for k, v := range args {
			args[k] = normalize(v)
		}

		events = append(events, session.Event{
			Name: event.Name,
			Args: args,
		})
	}

	return events
}

func normalize(v any) any {
	if address, ok := v.(common.Address); ok {
		return address.Hex()
	}

	return v
}

// classify maps revert reasons the orchestrator cares about onto session
// sentinels.
func classify(err error) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "match not active"):
		return fmt.Errorf("%w: %w: %w", session.ErrReverted, session.ErrMatchNotActive, err)
	case strings.Contains(msg, "execution reverted"):
		return fmt.Errorf("%w: %w", session.ErrReverted, err)
	}

	return err
}
