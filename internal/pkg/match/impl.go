// Package match drives a two-player match from deposits to payout against a
// ledger session. Every step waits for its confirmation before the next call
// is built, and the first failure aborts the run.
package match

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/do/v2"
	"github.com/vreid/baishi/internal/pkg/selector"
	"github.com/vreid/baishi/internal/pkg/session"
)

var ErrMissingDependency = errors.New("orchestrator dependency missing")

// Scorer produces the two scores of a started match.
type Scorer interface {
	Score(ctx context.Context, m *Match) (uint64, uint64, error)
}

type RandomScorer struct {
	Source selector.Source
}

func (s RandomScorer) Score(_ context.Context, _ *Match) (uint64, uint64, error) {
	return selector.RandomScore(s.Source), selector.RandomScore(s.Source), nil
}

type Config struct {
	Session      session.Session
	Router       string
	RewardEngine string
	Operator     session.Signer

	EntryFee *big.Int
	// PayoutValue defaults to the pot, twice the entry fee.
	PayoutValue *big.Int

	Source   selector.Source
	Scorer   Scorer
	Reporter Reporter

	Now func() time.Time
}

type Orchestrator struct {
	session      session.Session
	router       string
	rewardEngine string
	operator     session.Signer

	entryFee    *big.Int
	payoutValue *big.Int

	source   selector.Source
	scorer   Scorer
	reporter Reporter

	now func() time.Time
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("%w: session", ErrMissingDependency)
	}

	if cfg.Operator == nil {
		return nil, fmt.Errorf("%w: operator signer", ErrMissingDependency)
	}

	if cfg.EntryFee == nil {
		return nil, fmt.Errorf("%w: entry fee", ErrMissingDependency)
	}

	result := &Orchestrator{
		session:      cfg.Session,
		router:       cfg.Router,
		rewardEngine: cfg.RewardEngine,
		operator:     cfg.Operator,
		entryFee:     new(big.Int).Set(cfg.EntryFee),
		payoutValue:  cfg.PayoutValue,
		source:       cfg.Source,
		scorer:       cfg.Scorer,
		reporter:     cfg.Reporter,
		now:          cfg.Now,
	}

	if result.payoutValue == nil {
		result.payoutValue = new(big.Int).Mul(cfg.EntryFee, big.NewInt(2)) //nolint:mnd
	}

	if result.source == nil {
		result.source = selector.CryptoSource{}
	}

	if result.scorer == nil {
		result.scorer = RandomScorer{Source: result.source}
	}

	if result.reporter == nil {
		result.reporter = NopReporter{}
	}

	if result.now == nil {
		result.now = time.Now
	}

	return result, nil
}

func NewOrchestrator(i do.Injector) (*Orchestrator, error) {
	return New(Config{
		Session:      do.MustInvoke[session.Session](i),
		Router:       do.MustInvokeNamed[string](i, "router-address"),
		RewardEngine: do.MustInvokeNamed[string](i, "reward-engine-address"),
		Operator:     do.MustInvokeNamed[session.Signer](i, "operator"),
		EntryFee:     do.MustInvokeNamed[*big.Int](i, "entry-fee"),
		PayoutValue:  do.MustInvokeNamed[*big.Int](i, "payout-value"),
		Reporter:     do.MustInvoke[Reporter](i),
	})
}

func (o *Orchestrator) EntryFee() *big.Int {
	return new(big.Int).Set(o.entryFee)
}

func playerKey(p Player) string {
	return strings.ToLower(p.Address)
}

// Run selects two players from pool and plays a match between them.
// The returned match is non-nil whenever selection succeeded.
func (o *Orchestrator) Run(ctx context.Context, pool []Player) (*Match, error) {
	playerA, playerB, err := selector.PickTwo(o.source, pool, playerKey)
	if err != nil {
		return nil, stepError(StepSelect, ErrInsufficientPlayers, err)
	}

	return o.Play(ctx, MatchRequest{
		PlayerA:  playerA,
		PlayerB:  playerB,
		EntryFee: o.EntryFee(),
	})
}

//nolint:cyclop,funlen
func (o *Orchestrator) Play(ctx context.Context, request MatchRequest) (*Match, error) {
	if playerKey(request.PlayerA) == playerKey(request.PlayerB) {
		return nil, stepError(StepSelect, ErrInsufficientPlayers,
			fmt.Errorf("%w: %s plays against itself", selector.ErrInsufficientPlayers, request.PlayerA.Address))
	}

	if request.EntryFee == nil {
		request.EntryFee = o.EntryFee()
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate match ID: %w", err)
	}

	m := NewMatch(id.String(), request)

	abort := func(err error) (*Match, error) {
		m.fail(err)

		return m, err
	}

	_, err = o.requestDeposit(ctx, m.ID, request.PlayerA, request.EntryFee)
	if err != nil {
		return abort(err)
	}

	err = m.advance(StateDepositedA)
	if err != nil {
		return abort(err)
	}

	_, err = o.requestDeposit(ctx, m.ID, request.PlayerB, request.EntryFee)
	if err != nil {
		return abort(err)
	}

	err = m.advance(StateDepositedB)
	if err != nil {
		return abort(err)
	}

	handle, err := o.startMatch(ctx, m.ID, request.PlayerA, request.PlayerB)
	if err != nil {
		return abort(err)
	}

	m.Handle = handle

	err = m.advance(StateStarted)
	if err != nil {
		return abort(err)
	}

	scoreA, scoreB, err := o.scorer.Score(ctx, m)
	if err != nil {
		return abort(stepError(StepScore, ErrScoreFailed, err))
	}

	winner := selector.PickWinner(o.source, request.PlayerA, request.PlayerB, scoreA, scoreB)
	m.Result = &MatchResult{
		ScoreA: scoreA,
		ScoreB: scoreB,
		Winner: winner,
	}

	_, err = o.endMatch(ctx, m.ID, m.Handle, m.Result)
	if err != nil {
		return abort(err)
	}

	err = m.advance(StateEnded)
	if err != nil {
		return abort(err)
	}

	_, err = o.payout(ctx, m.ID, m.Handle, winner)
	if err != nil {
		return abort(err)
	}

	err = m.advance(StatePaidOut)
	if err != nil {
		return abort(err)
	}

	return m, nil
}

// RequestDeposit pays the entry fee on behalf of player. The fee is not
// checked here; the router rejects a wrong amount.
func (o *Orchestrator) RequestDeposit(
	ctx context.Context,
	player Player,
	expectedFee *big.Int,
) (*session.Confirmation, error) {
	return o.requestDeposit(ctx, "", player, expectedFee)
}

func (o *Orchestrator) requestDeposit(
	ctx context.Context,
	matchID string,
	player Player,
	fee *big.Int,
) (*session.Confirmation, error) {
	confirmation, err := o.session.Send(ctx, session.Call{
		To:     o.router,
		Method: session.MethodDeposit,
	}, player.Signer, fee)
	if err != nil {
		return nil, stepError(StepDeposit, ErrDepositFailed, err)
	}

	o.emit(StepEvent{
		Step:    StepDeposit,
		MatchID: matchID,
		Payload: Payload{
			Player: player.Address,
			Amount: amountString(fee),
			TxHash: confirmation.TxHash,
		},
	})

	return confirmation, nil
}

// StartMatch opens a match between two players whose deposits are already
// confirmed and returns the handle the router assigned to it.
func (o *Orchestrator) StartMatch(ctx context.Context, playerA, playerB Player) (MatchHandle, error) {
	return o.startMatch(ctx, "", playerA, playerB)
}

func (o *Orchestrator) startMatch(ctx context.Context, matchID string, playerA, playerB Player) (MatchHandle, error) {
	confirmation, err := o.session.Send(ctx, session.Call{
		To:     o.router,
		Method: session.MethodStartMatch,
		Args:   []any{playerA.Address, playerB.Address},
	}, o.operator, nil)
	if err != nil {
		return "", stepError(StepStart, ErrMatchStartFailed, err)
	}

	event, err := confirmation.Event(session.EventMatchStarted)
	if err != nil {
		return "", stepError(StepStart, ErrMatchStartFailed, err)
	}

	handle, err := handleFromEvent(event.Args["matchId"])
	if err != nil {
		return "", stepError(StepStart, ErrMatchStartFailed, err)
	}

	o.emit(StepEvent{
		Step:    StepStart,
		MatchID: matchID,
		Handle:  handle,
		Payload: Payload{
			PlayerA: playerA.Address,
			PlayerB: playerB.Address,
			TxHash:  confirmation.TxHash,
		},
	})

	return handle, nil
}

// EndMatch records the final scores of the match behind handle. A handle
// the router no longer considers active yields ErrMatchAlreadyEnded.
func (o *Orchestrator) EndMatch(
	ctx context.Context,
	handle MatchHandle,
	scoreA, scoreB uint64,
) (*session.Confirmation, error) {
	return o.endMatch(ctx, "", handle, &MatchResult{ScoreA: scoreA, ScoreB: scoreB})
}

func (o *Orchestrator) endMatch(
	ctx context.Context,
	matchID string,
	handle MatchHandle,
	result *MatchResult,
) (*session.Confirmation, error) {
	matchIDArg, err := handleToArg(handle)
	if err != nil {
		return nil, stepError(StepEnd, ErrMatchEndFailed, err)
	}

	confirmation, err := o.session.Send(ctx, session.Call{
		To:     o.router,
		Method: session.MethodEndMatch,
		Args: []any{
			matchIDArg,
			new(big.Int).SetUint64(result.ScoreA),
			new(big.Int).SetUint64(result.ScoreB),
		},
	}, o.operator, nil)
	if err != nil {
		if errors.Is(err, session.ErrMatchNotActive) {
			return nil, stepError(StepEnd, ErrMatchAlreadyEnded, err)
		}

		return nil, stepError(StepEnd, ErrMatchEndFailed, err)
	}

	// The router settles ties for playerA, which can differ from the
	// winner picked for the payout.
	var recorded string

	event, err := confirmation.Event(session.EventMatchEnded)
	if err == nil {
		recorded, _ = event.Args["winner"].(string)
	}

	winner := result.Winner.Address
	if winner == "" {
		winner = recorded
	}

	o.emit(StepEvent{
		Step:    StepEnd,
		MatchID: matchID,
		Handle:  handle,
		Payload: Payload{
			ScoreA:         result.ScoreA,
			ScoreB:         result.ScoreB,
			Winner:         winner,
			RecordedWinner: recorded,
			TxHash:         confirmation.TxHash,
		},
	})

	return confirmation, nil
}

// Payout asks the reward engine to pay winner, signed by the operator.
func (o *Orchestrator) Payout(ctx context.Context, winner Player) (*session.Confirmation, error) {
	return o.payout(ctx, "", "", winner)
}

func (o *Orchestrator) payout(
	ctx context.Context,
	matchID string,
	handle MatchHandle,
	winner Player,
) (*session.Confirmation, error) {
	confirmation, err := o.session.Send(ctx, session.Call{
		To:     o.rewardEngine,
		Method: session.MethodPayout,
		Args:   []any{winner.Address},
	}, o.operator, o.payoutValue)
	if err != nil {
		return nil, stepError(StepPayout, ErrPayoutFailed, err)
	}

	o.emit(StepEvent{
		Step:    StepPayout,
		MatchID: matchID,
		Handle:  handle,
		Payload: Payload{
			Winner: winner.Address,
			Amount: amountString(o.payoutValue),
			TxHash: confirmation.TxHash,
		},
	})

	return confirmation, nil
}

func (o *Orchestrator) emit(event StepEvent) {
	event.Time = o.now()
	o.reporter.Report(event)
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}

	return amount.String()
}

func handleFromEvent(value any) (MatchHandle, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			break
		}

		return MatchHandle(v.String()), nil
	case uint64:
		return MatchHandle(new(big.Int).SetUint64(v).String()), nil
	case string:
		if v != "" {
			return MatchHandle(v), nil
		}
	}

	return "", fmt.Errorf("%w: %v", ErrInvalidHandle, value)
}

func handleToArg(handle MatchHandle) (*big.Int, error) {
	matchID, ok := new(big.Int).SetString(string(handle), 10) //nolint:mnd
	if !ok || matchID.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}

	return matchID, nil
}
