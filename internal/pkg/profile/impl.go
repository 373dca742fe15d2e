// Package profile keeps per-player win/loss counts and an Elo rating,
// updated from confirmed match results.
package profile

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/baishi/internal/pkg/common"
	"github.com/vreid/baishi/internal/pkg/match"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const DefaultRating = 1500.0

var (
	ErrBucketNotFound   = errors.New("profile bucket doesn't exist")
	ErrUnknownHandle    = errors.New("no started match for handle")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrUnknownWinner    = errors.New("winner is not a player of the match")
	errMalformedPending = errors.New("malformed pending match")
)

type Scorecard struct {
	Address string  `json:"address"`
	Rating  float64 `json:"rating"`
	Count   int64   `json:"count"`
	Wins    int64   `json:"wins"`
	Losses  int64   `json:"losses"`
}

type ProfileService struct {
	DatabaseService *common.DatabaseService
	Logger          *zap.Logger

	EventSource <-chan match.StepEvent

	done sync.WaitGroup
}

func NewProfileService(i do.Injector) (*ProfileService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	logger := do.MustInvoke[*common.LoggerService](i).Named("profile")
	eventSource := do.MustInvokeNamed[<-chan match.StepEvent](i, "profile-events")

	result := &ProfileService{
		DatabaseService: databaseService,
		Logger:          logger,
		EventSource:     eventSource,
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		apiGroup := e.Group("/api")

		profileGroup := apiGroup.Group("/profile")

		profileGroup.GET("/:address", result.GetProfile)
	})

	return result, nil
}

func (s *ProfileService) Start() {
	s.done.Add(1)

	go s.processEvents()
}

// Wait blocks until the event source is closed and drained.
func (s *ProfileService) Wait() {
	s.done.Wait()
}

func GetKFactor(gamesPlayed int64) float64 {
	if gamesPlayed <= 20 {
		return 128.0
	}

	if gamesPlayed <= 50 {
		return 64.0
	}

	return 32.0
}

func CalculateExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

func UpdateRatings(winner, loser Scorecard) (Scorecard, Scorecard) {
	expectedWinner := CalculateExpectedScore(winner.Rating, loser.Rating)

	k := (GetKFactor(winner.Count) + GetKFactor(loser.Count)) / 2.0

	winner.Rating += k * (1.0 - expectedWinner)
	loser.Rating -= k * (1.0 - expectedWinner)

	winner.Count++
	loser.Count++

	winner.Wins++
	loser.Losses++

	return winner, loser
}

func key(address string) []byte {
	return []byte(strings.ToLower(address))
}

type buckets struct {
	ratings, count, wins, losses, pending *bbolt.Bucket
}

func openBuckets(tx *bbolt.Tx) (*buckets, error) {
	result := &buckets{
		ratings: tx.Bucket([]byte(common.ProfileRatingsBucket)),
		count:   tx.Bucket([]byte(common.ProfileCountBucket)),
		wins:    tx.Bucket([]byte(common.ProfileWinsBucket)),
		losses:  tx.Bucket([]byte(common.ProfileLossesBucket)),
		pending: tx.Bucket([]byte(common.ProfilePendingBucket)),
	}

	if result.ratings == nil || result.count == nil || result.wins == nil ||
		result.losses == nil || result.pending == nil {
		return nil, ErrBucketNotFound
	}

	return result, nil
}

func (b *buckets) load(address string) Scorecard {
	k := key(address)

	return Scorecard{
		Address: strings.ToLower(address),
		Rating:  common.BytesToFloat64(b.ratings.Get(k), DefaultRating),
		Count:   common.BytesToInt64(b.count.Get(k), 0),
		Wins:    common.BytesToInt64(b.wins.Get(k), 0),
		Losses:  common.BytesToInt64(b.losses.Get(k), 0),
	}
}

func (b *buckets) store(card Scorecard) error {
	k := key(card.Address)

	for _, put := range []struct {
		bucket *bbolt.Bucket
		value  []byte
	}{
		{b.ratings, common.Float64ToBytes(card.Rating)},
		{b.count, common.Int64ToBytes(card.Count)},
		{b.wins, common.Int64ToBytes(card.Wins)},
		{b.losses, common.Int64ToBytes(card.Losses)},
	} {
		err := put.bucket.Put(k, put.value)
		if err != nil {
			return fmt.Errorf("failed to put scorecard of %s: %w", card.Address, err)
		}
	}

	return nil
}

// HandleEvent remembers who plays behind a handle when a match starts and
// settles both scorecards when it ends.
func (s *ProfileService) HandleEvent(event match.StepEvent) error {
	switch event.Step {
	case match.StepStart:
		return s.rememberPlayers(event)
	case match.StepEnd:
		return s.settle(event)
	case match.StepDeposit, match.StepPayout, match.StepSelect, match.StepScore:
	}

	return nil
}

func (s *ProfileService) rememberPlayers(event match.StepEvent) error {
	//nolint:wrapcheck
	return s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		b, err := openBuckets(tx)
		if err != nil {
			return err
		}

		players := strings.ToLower(event.Payload.PlayerA + "|" + event.Payload.PlayerB)

		return b.pending.Put([]byte(event.Handle), []byte(players))
	})
}

func (s *ProfileService) settle(event match.StepEvent) error {
	//nolint:wrapcheck
	return s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		b, err := openBuckets(tx)
		if err != nil {
			return err
		}

		pending := b.pending.Get([]byte(event.Handle))
		if pending == nil {
			return fmt.Errorf("%w: %s", ErrUnknownHandle, event.Handle)
		}

		players := strings.Split(string(pending), "|")
		if len(players) != 2 { //nolint:mnd
			return errMalformedPending
		}

		winnerAddress := strings.ToLower(event.Payload.SettledWinner())

		var loserAddress string

		switch winnerAddress {
		case players[0]:
			loserAddress = players[1]
		case players[1]:
			loserAddress = players[0]
		default:
			return fmt.Errorf("%w: %s", ErrUnknownWinner, event.Payload.SettledWinner())
		}

		winner, loser := UpdateRatings(b.load(winnerAddress), b.load(loserAddress))

		err = b.store(winner)
		if err != nil {
			return err
		}

		err = b.store(loser)
		if err != nil {
			return err
		}

		return b.pending.Delete([]byte(event.Handle))
	})
}

func (s *ProfileService) Get(address string) (Scorecard, error) {
	var result Scorecard

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		b, err := openBuckets(tx)
		if err != nil {
			return err
		}

		if b.count.Get(key(address)) == nil {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, address)
		}

		result = b.load(address)

		return nil
	})

	//nolint:wrapcheck
	return result, err
}

func (s *ProfileService) GetProfile(c echo.Context) error {
	card, err := s.Get(c.Param("address"))
	if errors.Is(err, ErrProfileNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "profile not found")
	}

	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read profile")
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, card, "  ")
}

func (s *ProfileService) processEvents() {
	defer s.done.Done()

	for event := range s.EventSource {
		err := s.HandleEvent(event)
		if err != nil {
			s.Logger.Warn("failed to update profiles",
				zap.String("step", string(event.Step)),
				zap.String("match_handle", string(event.Handle)),
				zap.Error(err))
		}
	}
}
