package runtime

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalContextCancelsOnSignal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx, stop := SignalContext(context.Background(), logger, syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by signal")
	}
	assert.EqualError(t, context.Cause(ctx), "received user defined signal 1")
	assert.Eventually(t, func() bool {
		return bytes.Contains(buf.Bytes(), []byte("shutdown signal received"))
	}, time.Second, 10*time.Millisecond)
}

func TestSignalContextStop(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()
	ctx, stop := SignalContext(parent, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	stop()
	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
	assert.NoError(t, parent.Err())
}
