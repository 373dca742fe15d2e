// Package recordkeeper persists one record per match from the step events
// of its pipeline and serves them over HTTP.
package recordkeeper

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/baishi/internal/pkg/common"
	"github.com/vreid/baishi/internal/pkg/match"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	ErrRecordsBucketNotFound = errors.New("records bucket doesn't exist")
	ErrRecordNotFound        = errors.New("match record not found")
)

type Record struct {
	ID      string            `json:"id"`
	Handle  match.MatchHandle `json:"handle,omitempty"`
	State   match.State       `json:"state"`
	PlayerA string            `json:"player_a,omitempty"`
	PlayerB string            `json:"player_b,omitempty"`

	Deposits []string `json:"deposits"`

	ScoreA uint64 `json:"score_a"`
	ScoreB uint64 `json:"score_b"`
	Winner string `json:"winner,omitempty"`

	Payout   string `json:"payout,omitempty"`
	PayoutTo string `json:"payout_to,omitempty"`

	TxHashes  []string  `json:"tx_hashes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Apply folds one step event into the record.
func (r *Record) Apply(event match.StepEvent) {
	p := event.Payload

	switch event.Step {
	case match.StepDeposit:
		r.Deposits = append(r.Deposits, p.Player)
		if len(r.Deposits) == 1 {
			r.State = match.StateDepositedA
		} else {
			r.State = match.StateDepositedB
		}
	case match.StepStart:
		r.Handle = event.Handle
		r.PlayerA = p.PlayerA
		r.PlayerB = p.PlayerB
		r.State = match.StateStarted
	case match.StepEnd:
		r.ScoreA = p.ScoreA
		r.ScoreB = p.ScoreB
		r.Winner = p.SettledWinner()
		r.State = match.StateEnded
	case match.StepPayout:
		r.Payout = p.Amount
		r.PayoutTo = p.Winner
		r.State = match.StatePaidOut
	case match.StepSelect, match.StepScore:
	}

	if p.TxHash != "" {
		r.TxHashes = append(r.TxHashes, p.TxHash)
	}

	r.UpdatedAt = event.Time
}

type RecordkeeperService struct {
	DatabaseService *common.DatabaseService
	Orchestrator    *match.Orchestrator
	Players         []match.Player
	Logger          *zap.Logger

	EventSource <-chan match.StepEvent

	done sync.WaitGroup
}

func NewRecordkeeperService(i do.Injector) (*RecordkeeperService, error) {
	result := &RecordkeeperService{
		DatabaseService: do.MustInvoke[*common.DatabaseService](i),
		Orchestrator:    do.MustInvoke[*match.Orchestrator](i),
		Players:         do.MustInvokeNamed[[]match.Player](i, "players"),
		Logger:          do.MustInvoke[*common.LoggerService](i).Named("recordkeeper"),
		EventSource:     do.MustInvokeNamed[<-chan match.StepEvent](i, "record-events"),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		apiGroup := e.Group("/api")

		matchesGroup := apiGroup.Group("/matches")

		matchesGroup.POST("", result.PostMatch)
		matchesGroup.GET("", result.ListMatches)
		matchesGroup.GET("/:id", result.GetMatch)
	})

	return result, nil
}

func (s *RecordkeeperService) Start() {
	s.done.Add(1)

	go s.processEvents()
}

func (s *RecordkeeperService) Wait() {
	s.done.Wait()
}

// HandleEvent updates the record the event belongs to. Events raised
// outside a pipeline carry no match ID and are matched by handle.
func (s *RecordkeeperService) HandleEvent(event match.StepEvent) error {
	//nolint:wrapcheck
	return s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(common.MatchRecordsBucket))
		handles := tx.Bucket([]byte(common.MatchHandlesBucket))

		if records == nil || handles == nil {
			return ErrRecordsBucketNotFound
		}

		id := event.MatchID
		if id == "" {
			if event.Handle == "" {
				return nil
			}

			found := handles.Get([]byte(event.Handle))
			if found == nil {
				return fmt.Errorf("%w: handle %s", ErrRecordNotFound, event.Handle)
			}

			id = string(found)
		}

		record := Record{
			ID:       id,
			Deposits: []string{},
			TxHashes: []string{},
		}

		raw := records.Get([]byte(id))
		if raw != nil {
			err := json.Unmarshal(raw, &record)
			if err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", id, err)
			}
		}

		record.Apply(event)

		if event.Step == match.StepStart && event.Handle != "" {
			err := handles.Put([]byte(event.Handle), []byte(id))
			if err != nil {
				return fmt.Errorf("failed to index handle %s: %w", event.Handle, err)
			}
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", id, err)
		}

		return records.Put([]byte(id), data)
	})
}

func (s *RecordkeeperService) Get(id string) (*Record, error) {
	var record Record

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(common.MatchRecordsBucket))
		if records == nil {
			return ErrRecordsBucketNotFound
		}

		raw := records.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}

		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return &record, nil
}

func (s *RecordkeeperService) List() ([]Record, error) {
	result := []Record{}

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(common.MatchRecordsBucket))
		if records == nil {
			return ErrRecordsBucketNotFound
		}

		return records.ForEach(func(_, v []byte) error {
			var record Record

			err := json.Unmarshal(v, &record)
			if err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}

			result = append(result, record)

			return nil
		})
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return result, nil
}

type runResponse struct {
	Match *match.Match `json:"match"`
	Error string       `json:"error,omitempty"`
}

func (s *RecordkeeperService) PostMatch(c echo.Context) error {
	m, err := s.Orchestrator.Run(c.Request().Context(), s.Players)
	if errors.Is(err, match.ErrInsufficientPlayers) {
		return echo.NewHTTPError(http.StatusTooEarly, "not enough players available")
	}

	if err != nil {
		s.Logger.Warn("match failed", zap.Error(err))

		//nolint:wrapcheck
		return c.JSONPretty(http.StatusBadGateway, runResponse{Match: m, Error: err.Error()}, "  ")
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusCreated, runResponse{Match: m}, "  ")
}

func (s *RecordkeeperService) GetMatch(c echo.Context) error {
	record, err := s.Get(c.Param("id"))
	if errors.Is(err, ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "match not found")
	}

	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read match")
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, record, "  ")
}

func (s *RecordkeeperService) ListMatches(c echo.Context) error {
	records, err := s.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list matches")
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, records, "  ")
}

func (s *RecordkeeperService) processEvents() {
	defer s.done.Done()

	for event := range s.EventSource {
		err := s.HandleEvent(event)
		if err != nil {
			s.Logger.Warn("failed to record step",
				zap.String("step", string(event.Step)),
				zap.String("match_id", event.MatchID),
				zap.Error(err))
		}
	}
}
