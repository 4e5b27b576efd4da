package grpc

import (
	"context"
	"log/slog"
	"net"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServer_Reports_Serving_Status(t *testing.T) {
	req := require.New(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	server := NewHealthServer(logs.GetLoggerFromLevel(slog.LevelDebug))
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient(listener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	req.NoError(err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	// Given the engine is not started yet
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: Service})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	// When it is ready
	server.MarkServing()

	// Then probes see it serving
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_SERVING, resp.Status)

	server.Shutdown()
}
