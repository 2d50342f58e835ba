package workers

import (
	"context"
	"live-queue/domain/event"
	"live-queue/mocks"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestEventFanout_PreservesPublishOrder(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	broadcaster := mocks.NewMockBroadcaster(ctrl)

	events := make(chan event.Event, 3)
	created := event.New(event.ItemCreated, "created", nil, "Alice", time.Now())
	updated := event.New(event.ItemUpdated, "updated", nil, "Alice", time.Now())
	deleted := event.New(event.ItemDeleted, "deleted", nil, "Alice", time.Now())
	events <- created
	events <- updated
	events <- deleted
	close(events)

	// Given the broadcaster expects the events in publish order
	gomock.InOrder(
		broadcaster.EXPECT().Broadcast(created).Return(2),
		broadcaster.EXPECT().Broadcast(updated).Return(2),
		broadcaster.EXPECT().Broadcast(deleted).Return(2),
	)

	// When the worker drains the channel
	err := NewEventFanout(log, broadcaster, events).Run(context.Background())

	// Then it stops cleanly once the channel is closed
	req.NoError(err)
}

func TestEventFanout_StopsOnContextDone(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	broadcaster := mocks.NewMockBroadcaster(ctrl)
	broadcaster.EXPECT().Broadcast(gomock.Any()).Times(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewEventFanout(log, broadcaster, make(chan event.Event)).Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("Worker did not stop at time")
	}
}
