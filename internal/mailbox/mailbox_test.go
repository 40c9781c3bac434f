package mailbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"PoseService/internal/api/pose"
	poseService "PoseService/internal/api/pose/service"
	"PoseService/internal/entity"
	"PoseService/pkg/codec"
	"PoseService/pkg/engine"
)

type stubEngine struct{}

func (stubEngine) Detect(context.Context, *codec.DecodedImage, int64) ([]entity.Landmark, error) {
	return nil, nil
}

func (stubEngine) Close() error { return nil }

type stubProvider struct{}

func (stubProvider) Available() bool { return true }

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Open(context.Context, string, engine.Options) (engine.Engine, error) {
	return stubEngine{}, nil
}

func newTestMailbox(t *testing.T, provider engine.Provider) (*Mailbox, Config) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		CommandDir:   filepath.Join(root, "commands"),
		ResponseDir:  filepath.Join(root, "responses"),
		PIDFile:      filepath.Join(root, "posed.pid"),
		PollInterval: 10 * time.Millisecond,
	}

	m := New(cfg, poseService.NewFactory(provider), provider.Available(), nil)
	if err := m.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return m, cfg
}

func writeCommand(t *testing.T, cfg Config, id, body string) string {
	t.Helper()
	path := filepath.Join(cfg.CommandDir, id+".json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write command: %v", err)
	}
	return path
}

func readReply(t *testing.T, cfg Config, id string) *pose.Reply {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.ResponseDir, "response_"+id+".json"))
	if err != nil {
		t.Fatalf("read response %s: %v", id, err)
	}
	reply, err := pose.DecodeReply(data)
	if err != nil {
		t.Fatalf("decode response %s: %v", data, err)
	}
	return reply
}

func TestSetupWritesPIDFile(t *testing.T) {
	_, cfg := newTestMailbox(t, engine.Unavailable(""))

	data, err := os.ReadFile(cfg.PIDFile)
	if err != nil {
		t.Fatalf("pid file: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid file holds %q", data)
	}
}

func TestPingRoundTrip(t *testing.T) {
	m, cfg := newTestMailbox(t, engine.Unavailable(""))
	request := writeCommand(t, cfg, "req-1", `{"type":"ping"}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	responsePath := filepath.Join(cfg.ResponseDir, "response_req-1.json")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(responsePath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("no response file within deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	reply := readReply(t, cfg, "req-1")
	if reply.Type != pose.ResponsePong || reply.Alive == nil || !*reply.Alive {
		t.Errorf("reply = %+v", reply)
	}
	if reply.RequestID != "req-1" || *reply.EngineAvailable || reply.IsInitialized() {
		t.Errorf("reply = %+v", reply)
	}
	if _, err := os.Stat(request); !os.IsNotExist(err) {
		t.Error("request file should be removed")
	}
}

func TestPollOrderAndLifecycle(t *testing.T) {
	m, cfg := newTestMailbox(t, stubProvider{})
	model := filepath.Join(t.TempDir(), "pose.task")
	if err := os.WriteFile(model, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	writeCommand(t, cfg, "01", `{"type":"detect","frame":"AAAA","timestamp":1}`)
	writeCommand(t, cfg, "02", `{"type":"init","modelRef":"`+model+`"}`)
	writeCommand(t, cfg, "03", `{"type":"status"}`)
	writeCommand(t, cfg, "04", `{"type":"close"}`)
	writeCommand(t, cfg, "05", `{"type":"status"}`)
	writeCommand(t, cfg, "06", `{"type":"init","model_path":"`+model+`"}`)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if r := readReply(t, cfg, "01"); r.Type != pose.ResponseDetection || r.Message != "not_initialized" || r.Timestamp != 1 {
		t.Errorf("01 = %+v", r)
	}
	if r := readReply(t, cfg, "02"); r.Type != pose.ResponseInit || !r.IsSuccess() {
		t.Errorf("02 = %+v", r)
	}
	if r := readReply(t, cfg, "03"); !r.IsInitialized() {
		t.Errorf("03 = %+v", r)
	}
	if r := readReply(t, cfg, "04"); r.Type != pose.ResponseClose || !r.IsSuccess() {
		t.Errorf("04 = %+v", r)
	}
	if r := readReply(t, cfg, "05"); r.IsInitialized() {
		t.Errorf("05 = %+v", r)
	}
	if r := readReply(t, cfg, "06"); !r.IsSuccess() {
		t.Errorf("06 = %+v, a new session should accept init after close", r)
	}

	left, _ := filepath.Glob(filepath.Join(cfg.CommandDir, "*.json"))
	if len(left) != 0 {
		t.Errorf("request files left behind: %v", left)
	}
}

func TestMalformedFileIsDeletedWithoutResponse(t *testing.T) {
	m, cfg := newTestMailbox(t, engine.Unavailable(""))
	bad := writeCommand(t, cfg, "bad", `{"type": "ping"`)
	writeCommand(t, cfg, "notype", `{"frame":"abc"}`)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Error("malformed request should be removed")
	}
	if _, err := os.Stat(filepath.Join(cfg.ResponseDir, "response_bad.json")); !os.IsNotExist(err) {
		t.Error("malformed request must not produce a response")
	}

	if r := readReply(t, cfg, "notype"); r.Type != pose.ResponseError || r.RequestID != "notype" {
		t.Errorf("notype = %+v", r)
	}
}

func TestIgnoresHiddenAndForeignFiles(t *testing.T) {
	m, cfg := newTestMailbox(t, engine.Unavailable(""))
	hidden := filepath.Join(cfg.CommandDir, ".partial.json")
	other := filepath.Join(cfg.CommandDir, "notes.txt")
	for _, p := range []string{hidden, other} {
		if err := os.WriteFile(p, []byte(`{"type":"ping"}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	for _, p := range []string{hidden, other} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should be left alone: %v", p, err)
		}
	}
}

func TestResponseWriteFailureIsFatal(t *testing.T) {
	m, cfg := newTestMailbox(t, engine.Unavailable(""))
	request := writeCommand(t, cfg, "req", `{"type":"ping"}`)

	if err := os.RemoveAll(cfg.ResponseDir); err != nil {
		t.Fatal(err)
	}

	err := m.Run(context.Background())
	if !errors.Is(err, ErrResponseWrite) {
		t.Fatalf("Run error = %v, want ErrResponseWrite", err)
	}
	if _, err := os.Stat(request); !os.IsNotExist(err) {
		t.Error("request should still be removed")
	}
}

func TestCleanupRemovesArtifacts(t *testing.T) {
	m, cfg := newTestMailbox(t, engine.Unavailable(""))
	writeCommand(t, cfg, "left", `{"type":"ping"}`)
	if err := os.WriteFile(filepath.Join(cfg.ResponseDir, "response_old.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	m.Cleanup()

	for _, dir := range []string{cfg.CommandDir, cfg.ResponseDir} {
		left, _ := filepath.Glob(filepath.Join(dir, "*.json"))
		if len(left) != 0 {
			t.Errorf("%s still holds %v", dir, left)
		}
	}
	if _, err := os.Stat(cfg.PIDFile); !os.IsNotExist(err) {
		t.Error("pid file should be removed")
	}
	if m.Session().State() != entity.SessionClosed {
		t.Error("session should be closed")
	}
}
