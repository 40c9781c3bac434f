package config

import (
	"context"
	"fmt"
	"net"

	poseDispatcher "PoseService/internal/api/pose/dispatcher"
	poseHandler "PoseService/internal/api/pose/handler"
	"PoseService/internal/entity"
	"PoseService/internal/middleware"
	"PoseService/pkg/engine"
	"PoseService/pkg/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

type ServerOption func(*Server) error

// Server is the channel transport process: fiber app, guards, pose handler.
type Server struct {
	engine      *fiber.App
	log         *logrus.Logger
	cfg         *Config
	middleware  middleware.Middleware
	validator   *validator.Validate
	utils       utils.IUtils
	provider    engine.Provider
	sinks       *Sinks
	poseHandler *poseHandler.PoseHandler
	handlers    []handler
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if server.provider == nil {
		server.provider = engine.Unavailable("no engine configured")
	}
	if server.utils == nil {
		server.utils = utils.New()
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log, middleware.Options{
			Rate:        server.cfg.WSRate,
			Burst:       server.cfg.WSBurst,
			TokenSecret: server.cfg.WSSecret,
		})
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) error {
		s.cfg = cfg
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithEngine(provider engine.Provider) ServerOption {
	return func(s *Server) error {
		s.provider = provider
		return nil
	}
}

func WithSinks(sinks *Sinks) ServerOption {
	return func(s *Server) error {
		s.sinks = sinks
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		if s.cfg == nil {
			return fmt.Errorf("config must be set before middleware")
		}
		s.middleware = middleware.New(s.log, middleware.Options{
			Rate:        s.cfg.WSRate,
			Burst:       s.cfg.WSBurst,
			TokenSecret: s.cfg.WSSecret,
		})
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) RegisterHandler() {
	factory := SessionFactory(s.cfg, s.log, s.provider, s.sinks, entity.TransportChannel)
	dispatcherOpts := DispatcherOptions(s.cfg, s.log, entity.TransportChannel)
	if s.validator != nil {
		dispatcherOpts = append(dispatcherOpts, poseDispatcher.WithValidator(s.validator))
	}

	s.poseHandler = poseHandler.New(
		s.log,
		s.middleware,
		s.utils,
		factory,
		s.provider.Available(),
		s.cfg.WSMaxMessageBytes,
		dispatcherOpts...,
	)

	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, s.poseHandler)
	for _, h := range s.handlers {
		h.Start(s.engine)
	}
}

// Listen binds the configured address. Failing to bind is a setup error.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", s.cfg.ListenAddr(), err)
	}
	return ln, nil
}

// Run serves on ln until Shutdown. At most WSMaxConnections connections are
// accepted at once.
func (s *Server) Run(ln net.Listener) error {
	ln = netutil.LimitListener(ln, s.cfg.WSMaxConnections)

	s.log.WithFields(logrus.Fields{
		"addr":             ln.Addr().String(),
		"engine":           s.provider.Name(),
		"engine_available": s.provider.Available(),
	}).Info("Pose channel listening")

	return s.engine.Listener(ln)
}

// Shutdown stops accepting connections, then closes the open channel
// connections, which closes their sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.engine.ShutdownWithContext(ctx)
	if s.poseHandler != nil {
		if closeErr := s.poseHandler.CloseAll(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return ctx.JSON(fiber.Map{
			"message":         "Server is Healthy!",
			"engineAvailable": s.provider.Available(),
		})
	})
}
