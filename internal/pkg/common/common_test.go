package common_test

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	common "github.com/vreid/baishi/internal/pkg/common"
	bolt "go.etcd.io/bbolt"
)

func TestParseEther(t *testing.T) {
	t.Parallel()

	wei, err := common.ParseEther("0.1")
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", wei.String())

	wei, err = common.ParseEther("2")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", wei.String())

	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err = common.ParseEther(bad)
		require.ErrorIs(t, err, common.ErrInvalidAmount, bad)
	}
}

func TestFormatEther(t *testing.T) {
	t.Parallel()

	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)

	assert.Equal(t, "1.5", common.FormatEther(wei))
	assert.Equal(t, "0", common.FormatEther(nil))
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	logger, err := common.NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = common.NewLogger("loud")
	require.Error(t, err)
}

func TestDatabaseBuckets(t *testing.T) {
	t.Parallel()

	db, err := common.OpenDatabase(t.TempDir())
	require.NoError(t, err)

	defer func() {
		_ = db.Shutdown()
	}()

	err = db.DB.View(func(tx *bolt.Tx) error {
		for _, bucket := range common.Buckets {
			assert.NotNil(t, tx.Bucket([]byte(bucket)), bucket)
		}

		return nil
	})
	require.NoError(t, err)
}

func TestBytesRoundTrip(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1516.25, common.BytesToFloat64(common.Float64ToBytes(1516.25), 0), 0)
	assert.InDelta(t, 1500.0, common.BytesToFloat64(nil, 1500.0), 0)
	assert.Equal(t, int64(-3), common.BytesToInt64(common.Int64ToBytes(-3), 0))
	assert.Equal(t, int64(9), common.BytesToInt64(nil, 9))
}

func TestEchoHealth(t *testing.T) {
	t.Parallel()

	i := do.New()
	do.ProvideNamedValue(i, "port", 0)
	do.ProvideNamedValue(i, "log-level", "error")
	do.Provide(i, common.NewLoggerService)
	do.Provide(i, common.NewEchoService)

	echoService := do.MustInvoke[*common.EchoService](i)

	rec := httptest.NewRecorder()
	echoService.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}
