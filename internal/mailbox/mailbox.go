// Package mailbox serves the pose protocol over two directories: clients
// drop <id>.json into the command directory and read response_<id>.json
// back from the response directory.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"PoseService/internal/api/pose"
	poseDispatcher "PoseService/internal/api/pose/dispatcher"
	poseService "PoseService/internal/api/pose/service"
	"PoseService/internal/entity"
	contextPkg "PoseService/pkg/context"
	"PoseService/pkg/log"
	"PoseService/pkg/response"
	"PoseService/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrSetup         = response.NewError(response.KindTransport, "mailbox setup failed")
	ErrResponseWrite = response.NewError(response.KindTransport, "response write failed")
)

const (
	requestExt     = ".json"
	responsePrefix = "response_"

	defaultPollInterval = 100 * time.Millisecond
	listBackoff         = time.Second
)

type Config struct {
	CommandDir   string
	ResponseDir  string
	PIDFile      string
	PollInterval time.Duration
}

// Mailbox owns the single session shared by every mailbox client.
type Mailbox struct {
	cfg             Config
	log             *logrus.Logger
	utils           utils.IUtils
	newSession      poseService.Factory
	engineAvailable bool
	dispatcherOpts  []poseDispatcher.Option

	session    poseService.ISessionService
	dispatcher *poseDispatcher.Dispatcher

	// quarantined holds request files that were handled but could not be
	// removed, so they are not dispatched twice.
	quarantined map[string]struct{}
	backoff     time.Duration
}

func New(
	cfg Config,
	newSession poseService.Factory,
	engineAvailable bool,
	logger *logrus.Logger,
	opts ...poseDispatcher.Option,
) *Mailbox {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = log.Discard()
	}

	m := &Mailbox{
		cfg:             cfg,
		log:             logger,
		utils:           utils.New(),
		newSession:      newSession,
		engineAvailable: engineAvailable,
		dispatcherOpts:  append([]poseDispatcher.Option{poseDispatcher.WithLogger(logger)}, opts...),
		quarantined:     map[string]struct{}{},
		backoff:         listBackoff,
	}
	m.resetSession()

	return m
}

// Setup creates both directories and writes the pid marker.
func (m *Mailbox) Setup() error {
	for _, dir := range []string{m.cfg.CommandDir, m.cfg.ResponseDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrSetup, dir, err)
		}
	}

	if m.cfg.PIDFile != "" {
		pid := []byte(strconv.Itoa(os.Getpid()))
		if err := m.utils.WriteFileAtomic(m.cfg.PIDFile, pid); err != nil {
			return fmt.Errorf("%w: write pid file: %v", ErrSetup, err)
		}
	}

	m.log.WithFields(logrus.Fields{
		"command_dir":  m.cfg.CommandDir,
		"response_dir": m.cfg.ResponseDir,
		"pid_file":     m.cfg.PIDFile,
	}).Info("Mailbox ready")

	return nil
}

// Run polls until ctx is cancelled. It returns nil on cancellation and an
// error only when a response could not be delivered.
func (m *Mailbox) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := m.Poll(ctx); err != nil {
			if errors.Is(err, ErrResponseWrite) {
				return err
			}

			m.log.WithFields(logrus.Fields{
				"path":  m.cfg.CommandDir,
				"error": err.Error(),
			}).Error("Failed to scan command directory")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(m.backoff):
			}
		}
	}
}

// Poll handles every pending request file once, in name order. Cancellation
// is checked between files, never during one.
func (m *Mailbox) Poll(ctx context.Context) error {
	names, err := m.pending()
	if err != nil {
		return err
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.process(ctx, name); err != nil {
			return err
		}
	}

	return nil
}

func (m *Mailbox) pending() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.CommandDir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, requestExt) {
			continue
		}
		if _, skip := m.quarantined[name]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (m *Mailbox) process(ctx context.Context, name string) error {
	path := filepath.Join(m.cfg.CommandDir, name)
	id := strings.TrimSuffix(name, requestExt)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		m.log.WithFields(logrus.Fields{"path": path, "error": err.Error()}).Error("Failed to read command file")
		m.remove(path, name)
		return nil
	}

	env, err := pose.ParseEnvelope(data)
	if err != nil {
		m.log.WithFields(logrus.Fields{"path": path, "error": err.Error()}).Warn("Discarding malformed command file")
		m.remove(path, name)
		return nil
	}

	ctx = contextPkg.WithRequestID(ctx, id)
	resp := m.dispatcher.Dispatch(ctx, env)
	resp.RequestID = id

	writeErr := m.writeResponse(id, resp)
	m.remove(path, name)
	if writeErr != nil {
		return writeErr
	}

	m.log.WithFields(logrus.Fields{
		"request_id": id,
		"command":    env.Type,
		"response":   resp.Type,
		"kind":       resp.Kind.String(),
	}).Debug("Command handled")

	if m.session.State() == entity.SessionClosed {
		m.resetSession()
	}

	return nil
}

func (m *Mailbox) writeResponse(id string, resp pose.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrResponseWrite, id, err)
	}

	target := filepath.Join(m.cfg.ResponseDir, responsePrefix+id+requestExt)
	if err := m.utils.WriteFileAtomic(target, payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrResponseWrite, target, err)
	}

	return nil
}

func (m *Mailbox) remove(path, name string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.quarantined[name] = struct{}{}
		m.log.WithFields(logrus.Fields{"path": path, "error": err.Error()}).Error("Failed to remove command file, ignoring it from now on")
	}
}

// resetSession starts a fresh session. A closed session stays closed; the
// mailbox simply stops using it.
func (m *Mailbox) resetSession() {
	m.session = m.newSession()
	m.dispatcher = poseDispatcher.New(m.session, m.engineAvailable, m.dispatcherOpts...)
}

// Session returns the session currently serving requests.
func (m *Mailbox) Session() poseService.ISessionService {
	return m.session
}

// Cleanup closes the session and removes the pid marker and any leftover
// request or response files. Errors are logged only.
func (m *Mailbox) Cleanup() {
	m.session.Close()

	for _, dir := range []string{m.cfg.CommandDir, m.cfg.ResponseDir} {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+requestExt))
		if err != nil {
			continue
		}
		for _, file := range matches {
			if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.log.WithFields(logrus.Fields{"path": file, "error": err.Error()}).Warn("Failed to remove mailbox file")
			}
		}
	}

	if m.cfg.PIDFile != "" {
		if err := os.Remove(m.cfg.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.WithFields(logrus.Fields{"path": m.cfg.PIDFile, "error": err.Error()}).Warn("Failed to remove pid file")
		}
	}

	m.log.Info("Mailbox cleaned up")
}
