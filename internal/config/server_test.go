package config

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PoseService/internal/api/pose"
	"PoseService/pkg/engine"
	jwtPkg "PoseService/pkg/jwt"
	"PoseService/pkg/log"
	websocketPkg "PoseService/pkg/websocket"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("POSE_WS_PORT", "0")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.DefaultModel = ""
	return cfg
}

func newTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	srv, err := NewServer(
		WithLogger(log.Discard()),
		WithConfig(cfg),
		WithFiber(NewFiber(cfg)),
		WithEngine(engine.Unavailable("disabled")),
		WithMiddleware(),
		WithUtils(),
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.RegisterHandler()
	return srv
}

func serve(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Run(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "ws://" + ln.Addr().String() + "/"
}

func TestNewServerRequiresDependencies(t *testing.T) {
	if _, err := NewServer(WithLogger(log.Discard())); err == nil {
		t.Error("expected missing fiber app error")
	}
	if _, err := NewServer(WithFiber(NewFiber(nil)), WithLogger(log.Discard())); err == nil {
		t.Error("expected missing config error")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	resp, err := srv.engine.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(body), `"engineAvailable":false`) {
		t.Errorf("status=%d body=%s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestChannelOnRootPath(t *testing.T) {
	url := serve(t, newTestServer(t, testConfig(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := websocketPkg.Dial(ctx, url, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	reply, err := client.Send(ctx, pose.CommandInit, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type != pose.ResponseInit || reply.IsSuccess() || reply.Message != pose.ErrNoModelRef.Error() {
		t.Errorf("got %+v", reply)
	}
}

func TestChannelTokenGate(t *testing.T) {
	cfg := testConfig(t)
	cfg.WSSecret = "channel-secret"
	url := serve(t, newTestServer(t, cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := websocketPkg.Dial(ctx, url, ""); err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if _, err := websocketPkg.Dial(ctx, url, "forged"); err == nil {
		t.Fatal("expected dial with a bad token to fail")
	}

	token, _, err := jwtPkg.Sign(cfg.WSSecret, map[string]interface{}{"client": "test"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	client, err := websocketPkg.Dial(ctx, url, token)
	if err != nil {
		t.Fatalf("Dial with token: %v", err)
	}
	defer client.Close()

	reply, err := client.Send(ctx, pose.CommandStatus, nil)
	if err != nil || reply.Type != pose.ResponseStatus {
		t.Errorf("status: %+v, %v", reply, err)
	}

	query, err := websocketPkg.Dial(ctx, url+"?token="+token, "")
	if err != nil {
		t.Fatalf("Dial with query token: %v", err)
	}
	_ = query.Close()
}
