package match

import (
	"math/big"
	"time"

	"github.com/vreid/baishi/internal/pkg/session"
)

// MatchHandle is the ledger's identifier for a started match.
type MatchHandle string

type Player struct {
	Address string         `json:"address"`
	Signer  session.Signer `json:"-"`
}

type MatchRequest struct {
	PlayerA  Player   `json:"player_a"`
	PlayerB  Player   `json:"player_b"`
	EntryFee *big.Int `json:"entry_fee"`
}

type MatchResult struct {
	ScoreA uint64 `json:"score_a"`
	ScoreB uint64 `json:"score_b"`
	Winner Player `json:"winner"`
}

type Step string

const (
	StepDeposit Step = "deposit"
	StepStart   Step = "start"
	StepScore   Step = "score"
	StepEnd     Step = "end"
	StepPayout  Step = "payout"
	StepSelect  Step = "select"
)

type Payload struct {
	Player  string `json:"player,omitempty"`
	PlayerA string `json:"player_a,omitempty"`
	PlayerB string `json:"player_b,omitempty"`
	Amount  string `json:"amount,omitempty"`
	ScoreA  uint64 `json:"score_a"`
	ScoreB  uint64 `json:"score_b"`
	// Winner is the player the pipeline pays out. RecordedWinner is the
	// winner the ledger confirmed in its MatchEnded event, if any.
	Winner         string `json:"winner,omitempty"`
	RecordedWinner string `json:"recorded_winner,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
}

// SettledWinner is the winner as the ledger recorded it, falling back to
// the paid winner when no MatchEnded event was decoded.
func (p Payload) SettledWinner() string {
	if p.RecordedWinner != "" {
		return p.RecordedWinner
	}

	return p.Winner
}

// StepEvent is emitted once per confirmed pipeline step.
type StepEvent struct {
	Step    Step        `json:"step"`
	MatchID string      `json:"match_id,omitempty"`
	Handle  MatchHandle `json:"match_handle,omitempty"`
	Payload Payload     `json:"payload"`
	Time    time.Time   `json:"time"`
}

type Reporter interface {
	Report(event StepEvent)
}

type NopReporter struct{}

func (NopReporter) Report(StepEvent) {}
