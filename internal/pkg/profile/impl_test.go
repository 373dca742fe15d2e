package profile_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/baishi/internal/pkg/common"
	"github.com/vreid/baishi/internal/pkg/match"
	profile "github.com/vreid/baishi/internal/pkg/profile"
	"go.uber.org/zap"
)

func newService(t *testing.T) *profile.ProfileService {
	t.Helper()

	db, err := common.OpenDatabase(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Shutdown()
	})

	return &profile.ProfileService{
		DatabaseService: db,
		Logger:          zap.NewNop(),
	}
}

func start(handle match.MatchHandle, a, b string) match.StepEvent {
	return match.StepEvent{
		Step:    match.StepStart,
		Handle:  handle,
		Payload: match.Payload{PlayerA: a, PlayerB: b},
	}
}

func end(handle match.MatchHandle, winner string) match.StepEvent {
	return match.StepEvent{
		Step:    match.StepEnd,
		Handle:  handle,
		Payload: match.Payload{ScoreA: 8, ScoreB: 5, Winner: winner},
	}
}

func TestCalculateExpectedScore(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, profile.CalculateExpectedScore(1500.0, 1500.0), 0)
}

func TestUpdateRatings(t *testing.T) {
	t.Parallel()

	winner := profile.Scorecard{
		Address: "0xA",
		Rating:  1500.0,
		Count:   100,
	}

	loser := profile.Scorecard{
		Address: "0xB",
		Rating:  1500.0,
		Count:   100,
	}

	updatedWinner, updatedLoser := profile.UpdateRatings(winner, loser)

	assert.InDelta(t, 1516.0, updatedWinner.Rating, 1e-9)
	assert.InDelta(t, 1484.0, updatedLoser.Rating, 1e-9)
	assert.Equal(t, int64(101), updatedWinner.Count)
	assert.Equal(t, int64(1), updatedWinner.Wins)
	assert.Equal(t, int64(1), updatedLoser.Losses)
}

func TestGetKFactor(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 128.0, profile.GetKFactor(0), 0)
	assert.InDelta(t, 64.0, profile.GetKFactor(21), 0)
	assert.InDelta(t, 32.0, profile.GetKFactor(51), 0)
}

func TestHandleEvents(t *testing.T) {
	t.Parallel()

	s := newService(t)

	require.NoError(t, s.HandleEvent(start("0", "0xA", "0xB")))
	require.NoError(t, s.HandleEvent(end("0", "0xA")))

	a, err := s.Get("0xa")
	require.NoError(t, err)
	assert.InDelta(t, 1564.0, a.Rating, 1e-9)
	assert.Equal(t, int64(1), a.Wins)
	assert.Equal(t, int64(0), a.Losses)

	b, err := s.Get("0xB")
	require.NoError(t, err)
	assert.InDelta(t, 1436.0, b.Rating, 1e-9)
	assert.Equal(t, int64(1), b.Losses)

	require.ErrorIs(t, s.HandleEvent(end("0", "0xA")), profile.ErrUnknownHandle)

	require.NoError(t, s.HandleEvent(start("1", "0xA", "0xB")))
	require.ErrorIs(t, s.HandleEvent(end("1", "0xC")), profile.ErrUnknownWinner)

	_, err = s.Get("0xC")
	require.ErrorIs(t, err, profile.ErrProfileNotFound)
}

func TestIgnoresOtherSteps(t *testing.T) {
	t.Parallel()

	s := newService(t)

	require.NoError(t, s.HandleEvent(match.StepEvent{Step: match.StepDeposit}))
	require.NoError(t, s.HandleEvent(match.StepEvent{Step: match.StepPayout}))
}

func TestProcessEventsDrains(t *testing.T) {
	t.Parallel()

	s := newService(t)

	events := make(chan match.StepEvent, 2)
	s.EventSource = events

	s.Start()

	events <- start("0", "0xA", "0xB")
	events <- end("0", "0xB")

	close(events)
	s.Wait()

	b, err := s.Get("0xB")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Wins)
}

func TestGetProfile(t *testing.T) {
	t.Parallel()

	s := newService(t)

	require.NoError(t, s.HandleEvent(start("0", "0xA", "0xB")))
	require.NoError(t, s.HandleEvent(end("0", "0xA")))

	e := echo.New()
	e.GET("/api/profile/:address", s.GetProfile)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile/0xA", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"wins": 1`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile/0xZ", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTieSettlesOnRecordedWinner(t *testing.T) {
	t.Parallel()

	s := newService(t)

	require.NoError(t, s.HandleEvent(start("0", "0xA", "0xB")))
	require.NoError(t, s.HandleEvent(match.StepEvent{
		Step:   match.StepEnd,
		Handle: "0",
		Payload: match.Payload{
			ScoreA:         5,
			ScoreB:         5,
			Winner:         "0xB",
			RecordedWinner: "0xa",
		},
	}))

	a, err := s.Get("0xA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Wins)

	b, err := s.Get("0xB")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Wins)
	assert.Equal(t, int64(1), b.Losses)
}
