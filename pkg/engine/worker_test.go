package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"PoseService/pkg/codec"
	"PoseService/pkg/log"
)

// pipeMock lets a bytes.Buffer stand in for an OS pipe.
type pipeMock struct {
	*bytes.Buffer
	closed bool
}

func (m *pipeMock) Close() error {
	m.closed = true
	return nil
}

func frame(payload string) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.WriteString(payload)
	return buf.Bytes()
}

func newMockWorker(replies ...string) (*Worker, *pipeMock, *pipeMock) {
	stdin := &pipeMock{Buffer: new(bytes.Buffer)}
	data := &pipeMock{Buffer: new(bytes.Buffer)}
	for _, r := range replies {
		data.Write(frame(r))
	}
	return &Worker{Stdin: stdin, DataPipe: data}, stdin, data
}

func testImage() *codec.DecodedImage {
	return &codec.DecodedImage{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6}}
}

func TestWorkerDetectSendsHeaderAndPixels(t *testing.T) {
	w, stdin, _ := newMockWorker(`{"poses":[[{"x":0.5,"y":0.25,"z":-0.1,"visibility":0.9,"presence":0.8}]]}`)

	landmarks, err := w.Detect(context.Background(), testImage(), 1234)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(landmarks) != 1 {
		t.Fatalf("expected 1 landmark, got %d", len(landmarks))
	}
	if landmarks[0].X != 0.5 || landmarks[0].Visibility != 0.9 {
		t.Errorf("unexpected landmark %+v", landmarks[0])
	}

	sent := stdin.Bytes()
	headerLen := binary.BigEndian.Uint32(sent[:4])
	header := sent[4 : 4+headerLen]
	if !bytes.Contains(header, []byte(`"timestamp_ms":1234`)) {
		t.Errorf("header missing timestamp: %s", header)
	}
	if !bytes.Contains(header, []byte(`"encoding":"rgb24"`)) {
		t.Errorf("header missing encoding: %s", header)
	}

	rest := sent[4+headerLen:]
	pixLen := binary.BigEndian.Uint32(rest[:4])
	if pixLen != 6 || !bytes.Equal(rest[4:], []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("unexpected pixel frame %v", rest)
	}
}

func TestWorkerDetectNoPose(t *testing.T) {
	w, _, _ := newMockWorker(`{"poses":[]}`)

	landmarks, err := w.Detect(context.Background(), testImage(), 1)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(landmarks) != 0 {
		t.Errorf("expected no landmarks, got %d", len(landmarks))
	}
}

func TestWorkerDetectErrors(t *testing.T) {
	t.Run("worker rejects frame", func(t *testing.T) {
		w, _, _ := newMockWorker(`{"error":"timestamp must be monotonically increasing"}`)
		_, err := w.Detect(context.Background(), testImage(), 1)
		if !errors.Is(err, ErrWorkerRejected) {
			t.Errorf("expected ErrWorkerRejected, got %v", err)
		}
	})

	t.Run("worker died", func(t *testing.T) {
		w, _, _ := newMockWorker()
		_, err := w.Detect(context.Background(), testImage(), 1)
		if !errors.Is(err, ErrWorkerProtocol) {
			t.Errorf("expected ErrWorkerProtocol, got %v", err)
		}
	})

	t.Run("garbage reply", func(t *testing.T) {
		w, _, _ := newMockWorker(`not json`)
		_, err := w.Detect(context.Background(), testImage(), 1)
		if !errors.Is(err, ErrWorkerProtocol) {
			t.Errorf("expected ErrWorkerProtocol, got %v", err)
		}
	})
}

func TestWorkerCloseIsIdempotent(t *testing.T) {
	w, stdin, data := newMockWorker()

	if err := w.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !stdin.closed || !data.closed {
		t.Errorf("expected both pipes closed")
	}

	if _, err := w.Detect(context.Background(), testImage(), 1); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("expected ErrEngineClosed after close, got %v", err)
	}
}

func TestAwaitReady(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"ready", `{"ready":true}`, nil},
		{"load failure", `{"error":"model file is corrupt"}`, ErrWorkerStart},
		{"silent", `{}`, ErrWorkerProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, _ := newMockWorker(tt.reply)
			err := w.awaitReady(context.Background())
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWorkerProviderAvailability(t *testing.T) {
	logger := log.Discard()

	disabled := NewWorkerProvider(WorkerConfig{Command: "none"}, logger)
	if disabled.Available() {
		t.Errorf("expected provider with command none to be unavailable")
	}
	if _, err := disabled.Open(context.Background(), "model.task", DefaultOptions()); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("expected ErrEngineUnavailable, got %v", err)
	}

	missing := NewWorkerProvider(WorkerConfig{Command: "definitely-not-a-real-pose-worker"}, logger)
	if missing.Available() {
		t.Errorf("expected provider with missing binary to be unavailable")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.NumPoses != 1 || opts.OutputSegmentation || !opts.SmoothLandmarks {
		t.Errorf("unexpected defaults %+v", opts)
	}
	if opts.MinDetectionConfidence != 0.5 || opts.MinPresenceConfidence != 0.5 || opts.MinTrackingConfidence != 0.5 {
		t.Errorf("unexpected thresholds %+v", opts)
	}
}
