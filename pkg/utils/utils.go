package utils

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	WriteFileAtomic(path string, data []byte) error
	CheckNonEmptyFile(path string) (int64, error)
}

type utils struct{}

func New() IUtils {
	return &utils{}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// WriteFileAtomic writes data to a hidden sibling file and renames it into
// place so readers never observe a partial file.
func (u *utils) WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileEmpty    = errors.New("file is empty")
	ErrNotRegular   = errors.New("not a regular file")
)

func (u *utils) CheckNonEmptyFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrFileNotFound
		}
		return 0, err
	}

	if !info.Mode().IsRegular() {
		return 0, ErrNotRegular
	}
	if info.Size() == 0 {
		return 0, ErrFileEmpty
	}

	return info.Size(), nil
}

// TailBuffer keeps only the last Cap bytes written to it.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	Cap int
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if t.Cap > 0 && len(t.buf) > t.Cap {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-t.Cap:]...)
	}
	return len(p), nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

// SafeCommand wraps exec.Cmd and keeps the tail of the child's stderr so a
// crash can be reported with the worker's own output.
type SafeCommand struct {
	*exec.Cmd
	Stderr *TailBuffer
}

func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &TailBuffer{Cap: 4096}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Tail returns the captured stderr tail, "" for a nil command.
func (s *SafeCommand) Tail() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return s.Stderr.String()
}
