package emitter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

type fakeEmitter struct {
	failures int
	calls    int
	events   []*models.Event
}

func (f *fakeEmitter) Emit(_ context.Context, event *models.Event) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) Close() error { return nil }

func testEvent() *models.Event {
	return &models.Event{
		Data: models.PointData{
			RecordID: "r-1",
			Value:    95,
			Time:     1700000300,
		},
		StrategyID: 101,
		ItemID:     1011,
		Trigger: models.Trigger{
			Level:      "2",
			AnomalyIDs: []string{"abc.1700000300.101.1011.2"},
		},
	}
}

func TestEmitSucceedsFirstTry(t *testing.T) {
	fake := &fakeEmitter{}
	r := NewRetrying(fake, 3, time.Millisecond, nil)

	require.NoError(t, r.Emit(context.Background(), testEvent()))
	require.Equal(t, 1, fake.calls)
	require.Len(t, fake.events, 1)
}

func TestEmitRetriesTransientFailures(t *testing.T) {
	fake := &fakeEmitter{failures: 2}
	r := NewRetrying(fake, 3, time.Millisecond, nil)

	require.NoError(t, r.Emit(context.Background(), testEvent()))
	require.Equal(t, 3, fake.calls)
	require.Len(t, fake.events, 1)
}

func TestEmitSurfacesPermanentFailureWithoutDeadLetter(t *testing.T) {
	fake := &fakeEmitter{failures: 100}
	r := NewRetrying(fake, 2, time.Millisecond, nil)

	err := r.Emit(context.Background(), testEvent())
	require.Error(t, err)
	require.Equal(t, 3, fake.calls)
}

func TestEmitDeadLettersAfterExhaustedRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead_letters.jsonl")
	dl, err := NewDeadLetterWriter(path)
	require.NoError(t, err)

	fake := &fakeEmitter{failures: 100}
	r := NewRetrying(fake, 2, time.Millisecond, dl)

	event := testEvent()
	// The failure is absorbed: the batch keeps going.
	require.NoError(t, r.Emit(context.Background(), event))
	require.NoError(t, r.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var got models.Event
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
	require.Equal(t, event.DedupKey(), got.DedupKey())
	require.Equal(t, "2", got.Trigger.Level)
	require.False(t, scanner.Scan())
}

func TestEmitStopsOnCanceledContext(t *testing.T) {
	fake := &fakeEmitter{failures: 100}
	r := NewRetrying(fake, 5, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Emit(ctx, testEvent())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, fake.calls)
}
