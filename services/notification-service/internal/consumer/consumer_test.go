package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/fieldbook/libs/kafkax"
)

type memInbox struct {
	seen      map[string]bool
	forgotten []string
}

func (m *memInbox) Record(_ context.Context, id, _ string) (bool, error) {
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memInbox) Forget(_ context.Context, id string) error {
	delete(m.seen, id)
	m.forgotten = append(m.forgotten, id)
	return nil
}

func message(id string) kafka.Message {
	return kafka.Message{
		Topic:   "booking.notification.requested.v1",
		Headers: kafkax.EventMeta{EventID: id, EventType: "booking.notification.requested.v1"}.Headers(),
	}
}

func TestHandleSkipsDuplicates(t *testing.T) {
	inbox := &memInbox{seen: map[string]bool{}}
	calls := 0
	c := &Consumer{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		inbox:  inbox,
		handler: func(context.Context, kafka.Message) error {
			calls++
			return nil
		},
	}
	require.NoError(t, c.handle(context.Background(), message("e-1")))
	require.NoError(t, c.handle(context.Background(), message("e-1")))
	require.NoError(t, c.handle(context.Background(), message("e-2")))
	assert.Equal(t, 2, calls)
}

func TestHandleForgetsFailedEvents(t *testing.T) {
	inbox := &memInbox{seen: map[string]bool{}}
	c := &Consumer{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		inbox:   inbox,
		handler: func(context.Context, kafka.Message) error { return errors.New("smtp down") },
	}
	require.Error(t, c.handle(context.Background(), message("e-1")))
	assert.Equal(t, []string{"e-1"}, inbox.forgotten)
	assert.False(t, inbox.seen["e-1"])
}

type chanReader struct {
	msgs    chan kafka.Message
	mu      sync.Mutex
	commits []kafka.Message
	closed  bool
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *chanReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *chanReader) committed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commits)
}

func TestRunRetriesBeforeCommitting(t *testing.T) {
	reader := &chanReader{msgs: make(chan kafka.Message, 1)}
	reader.msgs <- message("e-1")
	inbox := &memInbox{seen: map[string]bool{}}

	var mu sync.Mutex
	calls := 0
	handled := make(chan struct{})
	c := &Consumer{
		reader:  reader,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		inbox:   inbox,
		backoff: time.Millisecond,
		handler: func(context.Context, kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls < 3 {
				assert.Equal(t, 0, reader.committed())
				return errors.New("db down")
			}
			close(handled)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not handled")
	}
	require.Eventually(t, func() bool { return reader.committed() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	<-stopped

	assert.Equal(t, []string{"e-1", "e-1"}, inbox.forgotten)
	assert.True(t, inbox.seen["e-1"])
	assert.True(t, reader.closed)
}

func TestRunNeverCommitsAFailingMessage(t *testing.T) {
	reader := &chanReader{msgs: make(chan kafka.Message, 1)}
	reader.msgs <- message("e-1")
	attempts := make(chan struct{}, 16)
	c := &Consumer{
		reader:  reader,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		inbox:   &memInbox{seen: map[string]bool{}},
		backoff: time.Millisecond,
		handler: func(context.Context, kafka.Message) error {
			select {
			case attempts <- struct{}{}:
			default:
			}
			return errors.New("db down")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()
	for i := 0; i < 3; i++ {
		<-attempts
	}
	cancel()
	<-stopped
	assert.Equal(t, 0, reader.committed())
}
