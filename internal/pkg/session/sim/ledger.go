// Package sim is an in-memory ledger that behaves like the deployed
// GameRouter and RewardEngine contracts, for local runs and tests.
package sim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/vreid/baishi/internal/pkg/session"
)

const (
	DefaultRouterAddress       = "0x00000000000000000000000000000000000000a1"
	DefaultRewardEngineAddress = "0x00000000000000000000000000000000000000a2"
)

var (
	ErrIncorrectEntryFee = errors.New("GameRouter: incorrect entry fee")
	ErrAlreadyDeposited  = errors.New("GameRouter: already deposited")
	ErrDepositsMissing   = errors.New("GameRouter: both players must deposit")
	ErrNotOwner          = errors.New("Ownable: caller is not the owner")
	ErrZeroPayout        = errors.New("RewardEngine: zero payout")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoContract        = errors.New("no contract at address")
	ErrBadArguments      = errors.New("bad call arguments")
)

type Options struct {
	Owner        string
	EntryFee     *big.Int
	Router       string
	RewardEngine string
	Genesis      map[string]*big.Int
}

type Stats struct {
	Wins   int64 `json:"wins"`
	Losses int64 `json:"losses"`
}

type activeMatch struct {
	playerA string
	playerB string
	active  bool
}

// Ledger implements session.Session. All calls are serialized by a mutex,
// so concurrent matches see a total order of transactions.
type Ledger struct {
	mu sync.Mutex

	owner        string
	entryFee     *big.Int
	router       string
	rewardEngine string

	balances  map[string]*big.Int
	deposited map[string]bool
	matches   []*activeMatch
	stats     map[string]*Stats

	txCount uint64
}

var _ session.Session = (*Ledger)(nil)

func New(opts Options) *Ledger {
	router := opts.Router
	if router == "" {
		router = DefaultRouterAddress
	}

	rewardEngine := opts.RewardEngine
	if rewardEngine == "" {
		rewardEngine = DefaultRewardEngineAddress
	}

	entryFee := opts.EntryFee
	if entryFee == nil {
		entryFee = new(big.Int)
	}

	ledger := &Ledger{
		owner:        key(opts.Owner),
		entryFee:     new(big.Int).Set(entryFee),
		router:       key(router),
		rewardEngine: key(rewardEngine),
		balances:     map[string]*big.Int{},
		deposited:    map[string]bool{},
		matches:      []*activeMatch{},
		stats:        map[string]*Stats{},
	}

	for address, amount := range opts.Genesis {
		ledger.balances[key(address)] = new(big.Int).Set(amount)
	}

	return ledger
}

func key(address string) string {
	return strings.ToLower(address)
}

func (l *Ledger) Router() string {
	return l.router
}

func (l *Ledger) RewardEngine() string {
	return l.rewardEngine
}

//nolint:cyclop
func (l *Ledger) Send(
	ctx context.Context,
	call session.Call,
	signer session.Signer,
	value *big.Int,
) (*session.Confirmation, error) {
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("send cancelled: %w", err)
	}

	if value == nil {
		value = new(big.Int)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	from := key(signer.Address())

	var events []session.Event

	switch key(call.To) {
	case l.router:
		events, err = l.sendRouter(call, from, value)
	case l.rewardEngine:
		events, err = l.sendRewardEngine(call, from, value)
	default:
		err = fmt.Errorf("%w: %s", ErrNoContract, call.To)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrReverted, err)
	}

	l.txCount++

	return &session.Confirmation{
		TxHash: l.txHash(call, from),
		Events: events,
	}, nil
}

func (l *Ledger) txHash(call session.Call, from string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%v", l.txCount, from, call.To, call.Method, call.Args)

	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func (l *Ledger) sendRouter(call session.Call, from string, value *big.Int) ([]session.Event, error) {
	switch call.Method {
	case session.MethodDeposit:
		return nil, l.deposit(from, value)
	case session.MethodStartMatch:
		return l.startMatch(call.Args, from)
	case session.MethodEndMatch:
		return l.endMatch(call.Args, from)
	case session.MethodHasDeposited, session.MethodPayout:
	}

	return nil, fmt.Errorf("%w: router has no %q", session.ErrUnknownMethod, call.Method)
}

func (l *Ledger) sendRewardEngine(call session.Call, from string, value *big.Int) ([]session.Event, error) {
	if call.Method != session.MethodPayout {
		return nil, fmt.Errorf("%w: reward engine has no %q", session.ErrUnknownMethod, call.Method)
	}

	if from != l.owner {
		return nil, ErrNotOwner
	}

	if value.Sign() <= 0 {
		return nil, ErrZeroPayout
	}

	to, err := addressArg(call.Args, 0)
	if err != nil {
		return nil, err
	}

	err = l.transfer(from, to, value)
	if err != nil {
		return nil, err
	}

	return []session.Event{{
		Name: session.EventPayout,
		Args: map[string]any{
			"to":     to,
			"amount": new(big.Int).Set(value),
		},
	}}, nil
}

func (l *Ledger) deposit(from string, value *big.Int) error {
	if value.Cmp(l.entryFee) != 0 {
		return ErrIncorrectEntryFee
	}

	if l.deposited[from] {
		return ErrAlreadyDeposited
	}

	err := l.transfer(from, l.router, value)
	if err != nil {
		return err
	}

	l.deposited[from] = true

	return nil
}

func (l *Ledger) startMatch(args []any, from string) ([]session.Event, error) {
	if from != l.owner {
		return nil, ErrNotOwner
	}

	playerA, err := addressArg(args, 0)
	if err != nil {
		return nil, err
	}

	playerB, err := addressArg(args, 1)
	if err != nil {
		return nil, err
	}

	if !l.deposited[playerA] || !l.deposited[playerB] {
		return nil, ErrDepositsMissing
	}

	l.deposited[playerA] = false
	l.deposited[playerB] = false

	matchID := big.NewInt(int64(len(l.matches)))
	l.matches = append(l.matches, &activeMatch{
		playerA: playerA,
		playerB: playerB,
		active:  true,
	})

	return []session.Event{{
		Name: session.EventMatchStarted,
		Args: map[string]any{
			"matchId": matchID,
			"playerA": playerA,
			"playerB": playerB,
		},
	}}, nil
}

func (l *Ledger) endMatch(args []any, from string) ([]session.Event, error) {
	if from != l.owner {
		return nil, ErrNotOwner
	}

	matchID, err := uintArg(args, 0)
	if err != nil {
		return nil, err
	}

	scoreA, err := uintArg(args, 1)
	if err != nil {
		return nil, err
	}

	scoreB, err := uintArg(args, 2)
	if err != nil {
		return nil, err
	}

	if !matchID.IsInt64() || matchID.Int64() >= int64(len(l.matches)) {
		return nil, session.ErrMatchNotActive
	}

	m := l.matches[matchID.Int64()]
	if !m.active {
		return nil, session.ErrMatchNotActive
	}

	m.active = false

	winner, loser := m.playerA, m.playerB
	if scoreA.Cmp(scoreB) < 0 {
		winner, loser = m.playerB, m.playerA
	}

	l.statsFor(winner).Wins++
	l.statsFor(loser).Losses++

	return []session.Event{{
		Name: session.EventMatchEnded,
		Args: map[string]any{
			"matchId": new(big.Int).Set(matchID),
			"winner":  winner,
			"scoreA":  new(big.Int).Set(scoreA),
			"scoreB":  new(big.Int).Set(scoreB),
		},
	}}, nil
}

func (l *Ledger) statsFor(address string) *Stats {
	s, ok := l.stats[address]
	if !ok {
		s = &Stats{}
		l.stats[address] = s
	}

	return s
}

func (l *Ledger) transfer(from, to string, value *big.Int) error {
	balance, ok := l.balances[from]
	if !ok || balance.Cmp(value) < 0 {
		return ErrInsufficientFunds
	}

	balance.Sub(balance, value)

	dst, ok := l.balances[to]
	if !ok {
		dst = new(big.Int)
		l.balances[to] = dst
	}

	dst.Add(dst, value)

	return nil
}

func (l *Ledger) Call(ctx context.Context, call session.Call) (any, error) {
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("call cancelled: %w", err)
	}

	if key(call.To) != l.router || call.Method != session.MethodHasDeposited {
		return nil, fmt.Errorf("%w: %q on %s", session.ErrUnknownMethod, call.Method, call.To)
	}

	player, err := addressArg(call.Args, 0)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.deposited[player], nil
}

func (l *Ledger) CurrentAddress(_ context.Context, signer session.Signer) (string, error) {
	return signer.Address(), nil
}

func (l *Ledger) Balance(_ context.Context, address string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[key(address)]
	if !ok {
		return new(big.Int), nil
	}

	return new(big.Int).Set(balance), nil
}

// Stats mirrors PlayerProfile.getStats.
func (l *Ledger) Stats(address string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.stats[key(address)]
	if !ok {
		return Stats{}
	}

	return *s
}

func addressArg(args []any, idx int) (string, error) {
	if idx >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", ErrBadArguments, idx)
	}

	address, ok := args[idx].(string)
	if !ok || address == "" {
		return "", fmt.Errorf("%w: argument %d is not an address", ErrBadArguments, idx)
	}

	return key(address), nil
}

func uintArg(args []any, idx int) (*big.Int, error) {
	if idx >= len(args) {
		return nil, fmt.Errorf("%w: missing argument %d", ErrBadArguments, idx)
	}

	switch v := args[idx].(type) {
	case *big.Int:
		if v.Sign() < 0 {
			return nil, fmt.Errorf("%w: argument %d is negative", ErrBadArguments, idx)
		}

		return v, nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("%w: argument %d is not an integer", ErrBadArguments, idx)
	}
}
