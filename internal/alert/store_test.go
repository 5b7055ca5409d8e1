package alert

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, 5)
}

func testAlert() *models.Alert {
	return &models.Alert{
		ID:               "a-1",
		StrategyID:       101,
		ItemID:           1011,
		DimensionsMD5:    "d41d8cd98f00b204e9800998ecf8427e",
		Level:            models.LevelWarning,
		Status:           models.AlertAbnormal,
		FirstAnomalyTime: 1700000300,
		Version:          1,
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc := testAlert()

	inserted, err := store.Create(ctx, doc)
	require.NoError(t, err)
	require.True(t, inserted)

	got, err := store.Get(ctx, doc.StrategyID, doc.DimensionsMD5)
	require.NoError(t, err)
	require.Equal(t, doc.ID, got.ID)
	require.Equal(t, models.AlertAbnormal, got.Status)

	members, err := store.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"101:d41d8cd98f00b204e9800998ecf8427e"}, members)
}

func TestCreateIsFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	inserted, err := store.Create(ctx, testAlert())
	require.NoError(t, err)
	require.True(t, inserted)

	second := testAlert()
	second.ID = "a-2"
	inserted, err = store.Create(ctx, second)
	require.NoError(t, err)
	require.False(t, inserted)

	got, err := store.Get(ctx, second.StrategyID, second.DimensionsMD5)
	require.NoError(t, err)
	require.Equal(t, "a-1", got.ID)
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Get(ctx, 101, "nope")
	require.ErrorIs(t, err, ErrAlertNotFound)
}

func TestUpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc := testAlert()
	_, err := store.Create(ctx, doc)
	require.NoError(t, err)

	updated, wrote, err := store.Update(ctx, doc.StrategyID, doc.DimensionsMD5, func(a *models.Alert) (bool, error) {
		a.LatestAnomalyTime = 1700000400
		return true, nil
	})
	require.NoError(t, err)
	require.True(t, wrote)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, int64(1700000400), updated.LatestAnomalyTime)

	got, err := store.Get(ctx, doc.StrategyID, doc.DimensionsMD5)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
}

func TestUpdateWithoutChangeLeavesVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc := testAlert()
	_, err := store.Create(ctx, doc)
	require.NoError(t, err)

	updated, wrote, err := store.Update(ctx, doc.StrategyID, doc.DimensionsMD5, func(a *models.Alert) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	require.False(t, wrote)
	require.Equal(t, int64(1), updated.Version)
}

func TestUpdateMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.Update(ctx, 101, "nope", func(a *models.Alert) (bool, error) {
		return true, nil
	})
	require.ErrorIs(t, err, ErrAlertNotFound)
}

func TestTerminalTransitionMovesDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc := testAlert()
	_, err := store.Create(ctx, doc)
	require.NoError(t, err)

	_, wrote, err := store.Update(ctx, doc.StrategyID, doc.DimensionsMD5, func(a *models.Alert) (bool, error) {
		a.Status = models.AlertRecovered
		a.EndTime = 1700001000
		return true, nil
	})
	require.NoError(t, err)
	require.True(t, wrote)

	// The active slot and index entry are gone; a new incident can open.
	_, err = store.Get(ctx, doc.StrategyID, doc.DimensionsMD5)
	require.ErrorIs(t, err, ErrAlertNotFound)
	members, err := store.Active(ctx)
	require.NoError(t, err)
	require.Empty(t, members)

	// The terminal document stays readable by id.
	closed, err := store.GetClosed(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, closed)
	require.Equal(t, models.AlertRecovered, closed.Status)
	require.Equal(t, int64(1700001000), closed.EndTime)
}
