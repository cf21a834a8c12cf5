package httpapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *HealthServer) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, srv)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

func TestHealthServerServing(t *testing.T) {
	srv := NewHealthServer(ReadyProbe{})
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	for _, service := range []string{"", serviceName} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) error: %v", service, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("Check(%q) status %v", service, resp.GetStatus())
		}
	}
}

type toggleReadiness struct{ fail atomic.Bool }

func (f *toggleReadiness) Check(context.Context) error {
	if f.fail.Load() {
		return errors.New("boom")
	}
	return nil
}

func TestHealthServerFailure(t *testing.T) {
	probe := &toggleReadiness{}
	srv := NewHealthServer(probe)
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	probe.fail.Store(true)
	if srv.Refresh(context.Background()) {
		t.Fatal("expected refresh to report not ready")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

func TestHealthServerStop(t *testing.T) {
	srv := NewHealthServer(ReadyProbe{})
	done := make(chan struct{})
	go func() {
		srv.Poll(context.Background(), time.Hour)
		close(done)
	}()
	srv.Stop()
	srv.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after Stop")
	}
}
