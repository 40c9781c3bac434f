package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"PoseService/internal/entity"
	"PoseService/pkg/codec"
	"PoseService/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxFrameBytes bounds a single message read from the worker.
const maxFrameBytes = 64 * 1024 * 1024

type WorkerConfig struct {
	Command     string
	Args        []string
	StopTimeout time.Duration
}

type workerProvider struct {
	cfg       WorkerConfig
	log       *logrus.Logger
	available bool
	reason    string
}

// NewWorkerProvider returns a provider that runs the estimator as a child
// process. Each Open starts a dedicated process so sessions never share one.
//
// Wire protocol, all integers big endian:
//
//	parent -> child (stdin):  [u32 len][header json] [u32 len][rgb24 pixels]
//	child -> parent (fd 3):   [u32 len][result json]
//
// The child answers the spawn with {"ready":true} or {"error":"..."}.
func NewWorkerProvider(cfg WorkerConfig, log *logrus.Logger) Provider {
	p := &workerProvider{cfg: cfg, log: log}

	if p.cfg.StopTimeout <= 0 {
		p.cfg.StopTimeout = 2 * time.Second
	}

	switch {
	case cfg.Command == "" || cfg.Command == "none":
		p.reason = "engine disabled by configuration"
	default:
		if _, err := exec.LookPath(cfg.Command); err != nil {
			p.reason = fmt.Sprintf("worker command %q not found", cfg.Command)
		} else {
			p.available = true
		}
	}

	if !p.available {
		log.WithField("reason", p.reason).Warn("Pose engine not available")
	}

	return p
}

func (p *workerProvider) Available() bool { return p.available }

func (p *workerProvider) Name() string { return "worker:" + p.cfg.Command }

func (p *workerProvider) Open(ctx context.Context, modelPath string, opts Options) (Engine, error) {
	if !p.available {
		return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, p.reason)
	}

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode engine options: %w", err)
	}

	args := append(append([]string{}, p.cfg.Args...), "--model", modelPath, "--options", string(optsJSON))
	sc := utils.NewSafeCommand(p.cfg.Command, args...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create pipe: %v", ErrWorkerStart, err)
	}
	sc.Cmd.ExtraFiles = []*os.File{w}

	logWriter := p.log.WithFields(logrus.Fields{
		"component": "pose_worker",
		"model":     modelPath,
	}).WriterLevel(logrus.DebugLevel)
	sc.Cmd.Stderr = io.MultiWriter(sc.Stderr, logWriter)

	stdin, err := sc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		logWriter.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrWorkerStart, err)
	}

	if err := sc.Start(); err != nil {
		w.Close()
		r.Close()
		logWriter.Close()
		return nil, fmt.Errorf("%w: %v", ErrWorkerStart, err)
	}

	w.Close()

	worker := &Worker{
		Stdin:       stdin,
		DataPipe:    r,
		cmd:         sc,
		stopTimeout: p.cfg.StopTimeout,
		logCloser:   logWriter,
	}

	if err := worker.awaitReady(ctx); err != nil {
		worker.Close()
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"model": modelPath,
		"pid":   sc.Process.Pid,
	}).Info("Pose worker started")

	return worker, nil
}

// Worker is a running estimator process.
type Worker struct {
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	cmd         *utils.SafeCommand
	stopTimeout time.Duration
	logCloser   io.Closer

	mu     sync.Mutex
	closed bool
}

type frameHeader struct {
	Type        string `json:"type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Encoding    string `json:"encoding"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type workerReply struct {
	Ready bool                `json:"ready,omitempty"`
	Poses [][]entity.Landmark `json:"poses,omitempty"`
	Error string              `json:"error,omitempty"`
}

func (w *Worker) awaitReady(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		body, err := readFrame(w.DataPipe)
		if err != nil {
			done <- w.protocolError(err)
			return
		}

		var reply workerReply
		if err := json.Unmarshal(body, &reply); err != nil {
			done <- w.protocolError(err)
			return
		}
		if reply.Error != "" {
			done <- fmt.Errorf("%w: %s", ErrWorkerStart, reply.Error)
			return
		}
		if !reply.Ready {
			done <- fmt.Errorf("%w: worker did not report ready", ErrWorkerProtocol)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrWorkerStart, ctx.Err())
	}
}

func (w *Worker) Detect(ctx context.Context, img *codec.DecodedImage, timestampMs int64) ([]entity.Landmark, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	header, err := json.Marshal(frameHeader{
		Type:        "detect",
		Width:       img.Width,
		Height:      img.Height,
		Encoding:    "rgb24",
		TimestampMs: timestampMs,
	})
	if err != nil {
		return nil, err
	}

	if err := writeFrame(w.Stdin, header); err != nil {
		return nil, w.protocolError(err)
	}
	if err := writeFrame(w.Stdin, img.Pix); err != nil {
		return nil, w.protocolError(err)
	}

	body, err := readFrame(w.DataPipe)
	if err != nil {
		return nil, w.protocolError(err)
	}

	var reply workerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, w.protocolError(err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrWorkerRejected, reply.Error)
	}
	if len(reply.Poses) == 0 {
		return nil, nil
	}

	return reply.Poses[0], nil
}

// Close stops the worker: stdin is closed so it can exit on its own, and it
// is killed if it is still running after the stop timeout.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.Stdin != nil {
		w.Stdin.Close()
	}

	if w.cmd != nil && w.cmd.Process != nil {
		exited := make(chan struct{})
		go func() {
			w.cmd.Wait()
			close(exited)
		}()

		select {
		case <-exited:
		case <-time.After(w.stopTimeout):
			w.cmd.Process.Kill()
			<-exited
		}
	}

	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.logCloser != nil {
		w.logCloser.Close()
	}

	return nil
}

func (w *Worker) protocolError(err error) error {
	if tail := w.cmd.Tail(); tail != "" {
		return fmt.Errorf("%w: %v (worker stderr: %s)", ErrWorkerProtocol, err, tail)
	}
	return fmt.Errorf("%w: %v", ErrWorkerProtocol, err)
}

func writeFrame(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header)
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
