package poseHandler

import (
	"context"
	"sync"

	poseDispatcher "PoseService/internal/api/pose/dispatcher"
	poseService "PoseService/internal/api/pose/service"
	"PoseService/internal/middleware"
	"PoseService/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const DefaultMaxMessageBytes = 8 * 1024 * 1024

// PoseHandler is the channel transport: one websocket connection, one
// session, one response per message.
type PoseHandler struct {
	log             *logrus.Logger
	middleware      middleware.Middleware
	utils           utils.IUtils
	newSession      poseService.Factory
	engineAvailable bool
	dispatcherOpts  []poseDispatcher.Option
	maxMessageBytes int64

	mu      sync.Mutex
	closing bool
	conns   map[string]*channelConn
	active  sync.WaitGroup
}

func New(
	log *logrus.Logger,
	middleware middleware.Middleware,
	utils utils.IUtils,
	newSession poseService.Factory,
	engineAvailable bool,
	maxMessageBytes int64,
	opts ...poseDispatcher.Option,
) *PoseHandler {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}

	return &PoseHandler{
		log:             log,
		middleware:      middleware,
		utils:           utils,
		newSession:      newSession,
		engineAvailable: engineAvailable,
		dispatcherOpts:  append([]poseDispatcher.Option{poseDispatcher.WithLogger(log)}, opts...),
		maxMessageBytes: maxMessageBytes,
		conns:           map[string]*channelConn{},
	}
}

// Start mounts the channel on "/" (next to the health check) and "/ws".
func (h *PoseHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	srv.Get("/", wsMiddleware, h.middleware.NewRateLimiter, h.middleware.NewTokenMiddleware, h.Upgrade())
	srv.Get("/ws", wsMiddleware, h.middleware.NewRateLimiter, h.middleware.NewTokenMiddleware, h.Upgrade())
}

func (h *PoseHandler) Upgrade() fiber.Handler {
	return websocket.New(h.handleWebSocket, websocket.Config{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	})
}

// ActiveConnections reports the number of open channel connections.
func (h *PoseHandler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// register tracks a new connection. It refuses once CloseAll has started,
// so no connection is added behind the shutdown sweep.
func (h *PoseHandler) register(id string, cc *channelConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.active.Add(1)
	h.conns[id] = cc
	return true
}

func (h *PoseHandler) unregister(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// CloseAll stops accepting channel connections, asks every open one to go
// away and waits for their sessions to be released, or for ctx to end.
// Stop the listener first so nothing new is upgraded meanwhile.
func (h *PoseHandler) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	open := make([]*channelConn, 0, len(h.conns))
	for _, cc := range h.conns {
		open = append(open, cc)
	}
	h.mu.Unlock()

	for _, cc := range open {
		cc.goAway()
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.log.Warn("Timed out waiting for channel connections to close")
		return ctx.Err()
	}
}
