package poseHandler

import (
	"context"
	"sync"
	"time"

	"PoseService/internal/api/pose"
	poseDispatcher "PoseService/internal/api/pose/dispatcher"
	"PoseService/internal/entity"
	"PoseService/internal/middleware"
	contextPkg "PoseService/pkg/context"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const writeTimeout = 10 * time.Second

// channelConn guards a pooled *websocket.Conn: once its handler returns the
// conn is reset and reused, so other goroutines reach it only through here.
type channelConn struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	released bool
}

// goAway sends a going-away close and expires the read deadline so the
// handler's blocked read returns and it tears the connection down itself.
func (cc *channelConn) goAway() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.released {
		return
	}
	_ = cc.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second),
	)
	_ = cc.conn.SetReadDeadline(time.Now())
}

func (cc *channelConn) release() {
	cc.mu.Lock()
	cc.released = true
	cc.mu.Unlock()
}

func (h *PoseHandler) handleWebSocket(c *websocket.Conn) {
	connID, _ := h.utils.NewULIDFromTimestamp(time.Now())
	upgradeID, _ := c.Locals(middleware.RequestIDKey).(string)

	cc := &channelConn{conn: c}
	if !h.register(connID, cc) {
		_ = c.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		return
	}
	defer h.active.Done()
	defer cc.release()

	session := h.newSession()
	dispatcher := poseDispatcher.New(session, h.engineAvailable, h.dispatcherOpts...)

	fields := logrus.Fields{
		"conn_id":    connID,
		"request_id": upgradeID,
		"session_id": session.ID(),
		"remote":     c.RemoteAddr().String(),
	}

	h.log.WithFields(fields).Info("Channel client connected")

	defer func() {
		h.unregister(connID)
		session.Close()
		h.log.WithFields(fields).Info("Channel client disconnected")
	}()

	c.SetReadLimit(h.maxMessageBytes)
	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			h.log.WithFields(fields).WithField("error", err.Error()).Debug("Error sending pong")
		}
		return nil
	})

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithFields(fields).WithField("error", err.Error()).Warn("Channel read failed")
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		messageID, _ := h.utils.NewULIDFromTimestamp(time.Now())
		ctx := contextPkg.WithConnID(contextPkg.WithRequestID(context.Background(), messageID), connID)

		resp := dispatcher.DispatchRaw(ctx, message)
		if !h.write(c, fields, resp) {
			return
		}

		if resp.Type == pose.ResponseClose {
			_ = c.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, entity.SessionClosed.String()),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func (h *PoseHandler) write(c *websocket.Conn, fields logrus.Fields, resp pose.Response) bool {
	payload, err := json.Marshal(resp)
	if err != nil {
		h.log.WithFields(fields).WithField("error", err.Error()).Error("Failed to encode response")
		payload, _ = json.Marshal(pose.Response{
			Type:      pose.ResponseError,
			RequestID: resp.RequestID,
			Timestamp: time.Now().UnixMilli(),
			Data:      pose.ErrorData{Message: err.Error()},
		})
	}

	if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		h.log.WithFields(fields).WithField("error", err.Error()).Error("Error setting write deadline")
		return false
	}

	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.log.WithFields(fields).WithField("error", err.Error()).Warn("Failed to write response")
		return false
	}

	return true
}
