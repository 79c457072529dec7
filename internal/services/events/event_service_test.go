package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/interfaces"
)

func TestPublishSyncDeliversToTypeAndWildcard(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var typed, all int32
	_, err := svc.Subscribe(interfaces.EventSessionFinished, func(ctx context.Context, e interfaces.Event) error {
		atomic.AddInt32(&typed, 1)
		return nil
	})
	require.NoError(t, err)
	_, err = svc.Subscribe(interfaces.EventAll, func(ctx context.Context, e interfaces.Event) error {
		atomic.AddInt32(&all, 1)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventSessionFinished}))
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobProgress}))

	assert.Equal(t, int32(1), atomic.LoadInt32(&typed))
	assert.Equal(t, int32(2), atomic.LoadInt32(&all))
}

func TestUnsubscribe(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var calls int32
	handler := func(ctx context.Context, e interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	unsubscribe, err := svc.Subscribe(interfaces.EventJobSubmitted, handler)
	require.NoError(t, err)
	_, err = svc.Subscribe(interfaces.EventJobSubmitted, handler)
	require.NoError(t, err)

	event := interfaces.Event{Type: interfaces.EventJobSubmitted}
	require.NoError(t, svc.PublishSync(context.Background(), event))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	unsubscribe()
	unsubscribe()
	require.NoError(t, svc.PublishSync(context.Background(), event))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "only the remaining subscriber runs")
}

func TestPublishIsAsync(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	release := make(chan struct{})
	_, err := svc.Subscribe(interfaces.EventMonitorRunDone, func(ctx context.Context, e interfaces.Event) error {
		<-release
		wg.Done()
		return nil
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventMonitorRunDone}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	wg.Wait()
	require.NoError(t, svc.Close())
}

func TestPublishSyncReportsHandlerErrorsAndPanics(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	_, _ = svc.Subscribe(interfaces.EventWebhookFailed, func(ctx context.Context, e interfaces.Event) error {
		return errors.New("boom")
	})
	_, _ = svc.Subscribe(interfaces.EventWebhookFailed, func(ctx context.Context, e interfaces.Event) error {
		panic("handler panic")
	})

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventWebhookFailed})
	assert.Error(t, err)
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	_, err := svc.Subscribe(interfaces.EventAll, nil)
	assert.Error(t, err)
}

func TestLoggerSubscriber(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	unsubscribe, err := SubscribeLoggerToAllEvents(svc, arbor.NewLogger())
	require.NoError(t, err)
	defer unsubscribe()

	err = svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventSessionTransition,
		Payload: map[string]interface{}{"session_id": "ses-1", "state": "searching"},
	})
	assert.NoError(t, err)
}
