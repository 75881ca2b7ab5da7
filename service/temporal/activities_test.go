package temporal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	"github.com/brojonat/mintmarket/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// MockRefresher mocks the market facade.
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Refresh(ctx context.Context, views ...market.View) error {
	args := m.Called(ctx, views)
	return args.Error(0)
}

func (m *MockRefresher) Snapshot() market.Snapshot {
	args := m.Called()
	return args.Get(0).(market.Snapshot)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshCatalog(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	refresher := new(MockRefresher)
	refresher.On("Refresh", mock.Anything, []market.View{market.ViewForSaleCatalog}).Return(nil)
	refresher.On("Snapshot").Return(market.Snapshot{
		ForSaleCatalog: []market.ForSaleEntry{
			{TokenID: 1, Price: market.MustParsePrice("0.5")},
			{TokenID: 4, Price: market.MustParsePrice("1")},
		},
		CatalogUpdatedAt: &at,
	})

	reg := prometheus.NewRegistry()
	activities := NewActivities(refresher, metrics.NewMetrics(reg), discardLogger())

	result, err := activities.RefreshCatalog(context.Background(), RefreshViewInput{})
	require.NoError(t, err)
	assert.Equal(t, market.ViewForSaleCatalog, result.View)
	assert.Equal(t, 2, result.Size)
	require.NotNil(t, result.UpdatedAt)
	assert.Equal(t, at, *result.UpdatedAt)
	refresher.AssertExpectations(t)

	count, err := testutil.GatherAndCount(reg, "resync_activity_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRefreshTokens(t *testing.T) {
	refresher := new(MockRefresher)
	refresher.On("Snapshot").Return(market.Snapshot{
		Account:  market.Account(testAccount),
		MyTokens: []market.OwnedToken{{TokenID: 7, URI: "ipfs://cid"}},
	})
	refresher.On("Refresh", mock.Anything, []market.View{market.ViewMyTokens}).Return(nil)

	activities := NewActivities(refresher, nil, discardLogger())

	// Account comparison ignores checksum casing.
	result, err := activities.RefreshTokens(context.Background(), RefreshViewInput{Account: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"})
	require.NoError(t, err)
	assert.Equal(t, market.ViewMyTokens, result.View)
	assert.Equal(t, 1, result.Size)
	assert.Nil(t, result.UpdatedAt)
}

func TestRefreshTokens_AccountMismatch(t *testing.T) {
	refresher := new(MockRefresher)
	refresher.On("Snapshot").Return(market.Snapshot{Account: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"})

	activities := NewActivities(refresher, nil, discardLogger())

	_, err := activities.RefreshTokens(context.Background(), RefreshViewInput{Account: testAccount})
	require.Error(t, err)

	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeAccountMismatch, appErr.Type())
	assert.True(t, appErr.NonRetryable())
	refresher.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestRefresh_Busy(t *testing.T) {
	refresher := new(MockRefresher)
	refresher.On("Refresh", mock.Anything, mock.Anything).Return(market.ErrBusy)

	activities := NewActivities(refresher, nil, discardLogger())

	_, err := activities.RefreshCatalog(context.Background(), RefreshViewInput{})
	require.Error(t, err)
	assert.True(t, isBusy(err))

	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
	refresher.AssertNotCalled(t, "Snapshot")
}

func TestRefresh_ReadFailure(t *testing.T) {
	refresher := new(MockRefresher)
	readErr := &market.ReadError{View: market.ViewForSaleCatalog, Step: "totalSupply", Err: errors.New("rpc unavailable")}
	refresher.On("Refresh", mock.Anything, mock.Anything).Return(fmt.Errorf("joined: %w", readErr))

	activities := NewActivities(refresher, nil, discardLogger())

	_, err := activities.RefreshCatalog(context.Background(), RefreshViewInput{})
	require.Error(t, err)
	assert.False(t, isBusy(err))

	var got *market.ReadError
	assert.True(t, errors.As(err, &got))
	assert.Contains(t, err.Error(), "failed to refresh for_sale_catalog")
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	s := NewMockScheduler()

	require.NoError(t, s.UpsertResyncSchedule(ctx, testAccount, time.Minute))
	require.NoError(t, s.UpsertResyncSchedule(ctx, "0XF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266", 2*time.Minute))
	assert.Equal(t, 1, s.ScheduleCount())

	interval, ok := s.GetScheduleInterval(testAccount)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, interval)

	require.NoError(t, s.DeleteResyncSchedule(ctx, testAccount))
	assert.False(t, s.ScheduleExists(testAccount))
	assert.Error(t, s.DeleteResyncSchedule(ctx, testAccount))

	s.SetUpsertError(errors.New("temporal unavailable"))
	assert.Error(t, s.UpsertResyncSchedule(ctx, testAccount, time.Minute))
}
