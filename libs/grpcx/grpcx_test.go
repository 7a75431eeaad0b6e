package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthReadyCheck(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	srv, hs := NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Serve(ctx, srv, addr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dialCancel()
	conn, err := Dial(dialCtx, addr, DialOptions{Timeout: 2 * time.Second, WaitReady: true})
	require.NoError(t, err)
	defer conn.Close()

	check := HealthReadyCheck(conn, "")
	require.NoError(t, check(dialCtx))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	err = check(dialCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SERVING")
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	assert.Empty(t, RequestIDFromContext(ctx))
	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.NotEqual(t, NewRequestID(), NewRequestID())
}
