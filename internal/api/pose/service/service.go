package poseService

import (
	"context"
	"sync"
	"time"

	"PoseService/internal/api/pose"
	"PoseService/internal/entity"
	"PoseService/pkg/engine"
	"PoseService/pkg/log"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ISessionService is one Detection Session. It owns at most one engine
// instance and is not shared between clients.
type ISessionService interface {
	ID() string
	State() entity.SessionState
	Initialized() bool
	EngineAvailable() bool
	Stats() entity.SessionStats

	Init(ctx context.Context, modelRef string) pose.InitResult
	Detect(ctx context.Context, frame string, timestampMs int64) pose.DetectResult
	Close()
}

// Journal records session lifecycle rows. Implemented by the pose
// repository.
type Journal interface {
	SessionOpened(ctx context.Context, rec entity.SessionRecord) error
	SessionClosed(ctx context.Context, rec entity.SessionRecord) error
}

// Publisher receives one event per processed frame. Implemented by pkg/redis.
type Publisher interface {
	PublishDetection(ctx context.Context, event entity.DetectionEvent) error
}

// sinkTimeout bounds journal and publisher calls so a slow sink never holds
// a session.
const sinkTimeout = 2 * time.Second

// publishQueue is how many detection events may wait for the publisher.
// Events beyond it are dropped.
const publishQueue = 16

type sessionService struct {
	mu sync.Mutex

	id        string
	transport entity.Transport
	log       *logrus.Logger
	provider  engine.Provider
	resolver  ModelResolver
	opts      engine.Options
	journal   Journal
	publisher Publisher

	state    entity.SessionState
	engine   engine.Engine
	modelRef string
	openedAt time.Time
	stats    entity.SessionStats

	lastEngineTS int64
	hasEngineTS  bool

	events  chan entity.DetectionEvent
	dropped int
}

type Option func(*sessionService)

func WithLogger(l *logrus.Logger) Option {
	return func(s *sessionService) {
		if l != nil {
			s.log = l
		}
	}
}

func WithResolver(r ModelResolver) Option {
	return func(s *sessionService) {
		if r != nil {
			s.resolver = r
		}
	}
}

func WithJournal(j Journal) Option {
	return func(s *sessionService) {
		s.journal = j
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *sessionService) {
		s.publisher = p
	}
}

func WithTransport(t entity.Transport) Option {
	return func(s *sessionService) {
		s.transport = t
	}
}

func WithEngineOptions(opts engine.Options) Option {
	return func(s *sessionService) {
		s.opts = opts
	}
}

func WithID(id string) Option {
	return func(s *sessionService) {
		if id != "" {
			s.id = id
		}
	}
}

// NewSessionService returns an uninitialized session backed by provider.
func NewSessionService(provider engine.Provider, opts ...Option) ISessionService {
	s := &sessionService{
		id:        uuid.NewString(),
		transport: entity.TransportMailbox,
		log:       log.Discard(),
		provider:  provider,
		resolver:  NewModelResolver(nil, ""),
		opts:      engine.DefaultOptions(),
		state:     entity.SessionUninitialized,
		openedAt:  time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Factory builds fresh sessions with a fixed set of options. Transports hold
// one to create a session per connection, or to replace a closed one.
type Factory func() ISessionService

func NewFactory(provider engine.Provider, opts ...Option) Factory {
	return func() ISessionService {
		return NewSessionService(provider, opts...)
	}
}

func (s *sessionService) ID() string {
	return s.id
}

func (s *sessionService) State() entity.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *sessionService) Initialized() bool {
	return s.State() == entity.SessionReady
}

func (s *sessionService) EngineAvailable() bool {
	return s.provider.Available()
}

func (s *sessionService) Stats() entity.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *sessionService) fields() logrus.Fields {
	return logrus.Fields{
		"session_id": s.id,
		"transport":  s.transport,
	}
}
