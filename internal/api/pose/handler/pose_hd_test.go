package poseHandler

import (
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"PoseService/internal/api/pose"
	poseService "PoseService/internal/api/pose/service"
	"PoseService/internal/entity"
	"PoseService/internal/middleware"
	"PoseService/pkg/engine"
	"PoseService/pkg/log"
	"PoseService/pkg/utils"
	websocketPkg "PoseService/pkg/websocket"

	"github.com/gofiber/fiber/v2"
	gorillaws "github.com/gorilla/websocket"
)

type recordingFactory struct {
	mu       sync.Mutex
	sessions []poseService.ISessionService
}

func (f *recordingFactory) build() poseService.ISessionService {
	s := poseService.NewSessionService(engine.Unavailable("disabled"))
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s
}

func (f *recordingFactory) all() []poseService.ISessionService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]poseService.ISessionService(nil), f.sessions...)
}

func startChannel(t *testing.T, maxBytes int64) (string, *PoseHandler, *recordingFactory) {
	t.Helper()

	logger := log.Discard()
	factory := &recordingFactory{}
	mw := middleware.New(logger, middleware.Options{Rate: 1000, Burst: 1000})
	h := New(logger, mw, utils.New(), factory.build, false, maxBytes)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h.Start(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = app.ShutdownWithContext(ctx)
		_ = h.CloseAll(ctx)
	})

	return "ws://" + ln.Addr().String() + "/ws", h, factory
}

func dial(t *testing.T, url string) websocketPkg.IClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := websocketPkg.Dial(ctx, url, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPipelinedRequestsKeepOrder(t *testing.T) {
	url, _, _ := startChannel(t, 0)

	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	const n = 40
	for i := 0; i < n; i++ {
		var msg string
		switch i % 3 {
		case 0:
			msg = fmt.Sprintf(`{"type":"ping","requestId":"req-%02d"}`, i)
		case 1:
			msg = fmt.Sprintf(`{"type":"detect","requestId":"req-%02d","frame":"AAAA","timestamp":%d}`, i, i)
		default:
			msg = fmt.Sprintf(`{"type":"status","requestId":"req-%02d"}`, i)
		}
		if err := conn.WriteMessage(gorillaws.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < n; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		reply, err := pose.DecodeReply(data)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if want := fmt.Sprintf("req-%02d", i); reply.RequestID != want {
			t.Fatalf("reply %d: requestId = %q, want %q", i, reply.RequestID, want)
		}
	}
}

func TestResponsesFollowRequestOrder(t *testing.T) {
	url, _, _ := startChannel(t, 0)
	client := dial(t, url)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("req-%02d", i)

		var reply *pose.Reply
		var err error
		var want pose.ResponseType

		switch i % 3 {
		case 0:
			reply, err = client.Send(ctx, pose.CommandPing, map[string]interface{}{"requestId": id})
			want = pose.ResponsePong
		case 1:
			reply, err = client.Send(ctx, pose.CommandDetect, map[string]interface{}{"requestId": id, "frame": "AAAA", "timestamp": i})
			want = pose.ResponseDetection
		default:
			reply, err = client.Send(ctx, pose.CommandStatus, map[string]interface{}{"requestId": id})
			want = pose.ResponseStatus
		}

		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if reply.Type != want || reply.RequestID != id {
			t.Fatalf("request %d: got %s/%s, want %s/%s", i, reply.Type, reply.RequestID, want, id)
		}
		if want == pose.ResponseDetection && (reply.Message != "not_initialized" || reply.Timestamp != int64(i)) {
			t.Fatalf("request %d: got %+v", i, reply)
		}
	}
}

func TestBadMessagesKeepConnectionOpen(t *testing.T) {
	url, _, _ := startChannel(t, 0)
	client := dial(t, url)
	ctx := context.Background()

	reply, err := client.SendRaw(ctx, []byte("this is not json"))
	if err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	if reply.Type != pose.ResponseError || reply.Message != "invalid_json" {
		t.Errorf("got %+v", reply)
	}

	reply, err = client.SendRaw(ctx, []byte(`{"type":"jump"}`))
	if err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	if reply.Message != "unknown command type: jump" {
		t.Errorf("got %+v", reply)
	}

	reply, err = client.Send(ctx, pose.CommandPing, nil)
	if err != nil || reply.Type != pose.ResponsePong || *reply.EngineAvailable {
		t.Fatalf("ping after bad messages: %+v, %v", reply, err)
	}
}

func TestEachConnectionGetsItsOwnSession(t *testing.T) {
	url, h, factory := startChannel(t, 0)
	a := dial(t, url)
	b := dial(t, url)

	for _, c := range []websocketPkg.IClient{a, b} {
		if _, err := c.Send(context.Background(), pose.CommandPing, nil); err != nil {
			t.Fatal(err)
		}
	}

	sessions := factory.all()
	if len(sessions) != 2 || sessions[0].ID() == sessions[1].ID() {
		t.Fatalf("expected two distinct sessions, got %d", len(sessions))
	}
	if h.ActiveConnections() != 2 {
		t.Errorf("active = %d", h.ActiveConnections())
	}
}

func TestCloseCommandEndsConnection(t *testing.T) {
	url, _, factory := startChannel(t, 0)
	client := dial(t, url)
	ctx := context.Background()

	reply, err := client.Send(ctx, pose.CommandClose, map[string]interface{}{"requestId": "bye"})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if reply.Type != pose.ResponseClose || !reply.IsSuccess() || reply.RequestID != "bye" {
		t.Errorf("got %+v", reply)
	}

	if _, err := client.Send(ctx, pose.CommandPing, nil); err == nil {
		t.Error("expected the connection to be closed after close")
	}

	waitFor(t, "session close", func() bool {
		return factory.all()[0].State() == entity.SessionClosed
	})
}

func TestDisconnectClosesSession(t *testing.T) {
	url, h, factory := startChannel(t, 0)
	client := dial(t, url)

	if _, err := client.Send(context.Background(), pose.CommandStatus, nil); err != nil {
		t.Fatal(err)
	}
	_ = client.Close()

	waitFor(t, "session close", func() bool {
		return factory.all()[0].State() == entity.SessionClosed
	})
	waitFor(t, "connection removal", func() bool {
		return h.ActiveConnections() == 0
	})
}

func TestOversizedMessageDropsConnection(t *testing.T) {
	url, _, factory := startChannel(t, 1024)
	client := dial(t, url)

	payload := `{"type":"detect","frame":"` + strings.Repeat("A", 4096) + `"}`
	if _, err := client.SendRaw(context.Background(), []byte(payload)); err == nil {
		t.Fatal("expected oversized message to fail")
	}

	waitFor(t, "session close", func() bool {
		return factory.all()[0].State() == entity.SessionClosed
	})
}

func TestPlainHTTPIsRejected(t *testing.T) {
	logger := log.Discard()
	mw := middleware.New(logger, middleware.Options{})
	h := New(logger, mw, utils.New(), (&recordingFactory{}).build, false, 0)

	app := fiber.New()
	h.Start(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestCloseAllReleasesEveryConnection(t *testing.T) {
	url, h, factory := startChannel(t, 0)
	ctx := context.Background()

	clients := make([]websocketPkg.IClient, 6)
	for i := range clients {
		clients[i] = dial(t, url)
		if _, err := clients[i].Send(ctx, pose.CommandPing, nil); err != nil {
			t.Fatalf("client %d ping: %v", i, err)
		}
	}
	waitFor(t, "all connections", func() bool { return h.ActiveConnections() == len(clients) })

	// Half the clients hang up while the sweep is running.
	var wg sync.WaitGroup
	for _, c := range clients[:3] {
		wg.Add(1)
		go func(c websocketPkg.IClient) {
			defer wg.Done()
			_ = c.Close()
		}(c)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.CloseAll(closeCtx); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	wg.Wait()

	if n := h.ActiveConnections(); n != 0 {
		t.Errorf("ActiveConnections() = %d after CloseAll", n)
	}
	for i, s := range factory.all() {
		if s.State() != entity.SessionClosed {
			t.Errorf("session %d state = %s, want closed", i, s.State())
		}
	}

	for i, c := range clients[3:] {
		if _, err := c.Send(ctx, pose.CommandPing, nil); err == nil {
			t.Errorf("client %d: send succeeded on a connection closed by the server", i+3)
		}
	}

	late := dial(t, url)
	if _, err := late.Send(ctx, pose.CommandPing, nil); err == nil {
		t.Error("connection served after CloseAll")
	}
	if n := len(factory.all()); n != len(clients) {
		t.Errorf("%d sessions created, want %d", n, len(clients))
	}
}
