package websocketPkg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"PoseService/internal/api/pose"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrClosed = errors.New("websocket client closed")

// IClient talks to the channel transport. Calls are serialized: each Send
// writes one message and waits for its reply.
type IClient interface {
	Send(ctx context.Context, commandType pose.CommandType, fields map[string]interface{}) (*pose.Reply, error)
	SendRaw(ctx context.Context, payload []byte) (*pose.Reply, error)
	Close() error
}

type webSocketClient struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	closed       bool
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Dial connects to url. A non-empty token is sent as a bearer token.
func Dial(ctx context.Context, url string, token string) (IClient, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &webSocketClient{
		conn:         conn,
		readTimeout:  30 * time.Second,
		writeTimeout: 5 * time.Second,
	}, nil
}

func (c *webSocketClient) Send(ctx context.Context, commandType pose.CommandType, fields map[string]interface{}) (*pose.Reply, error) {
	body := map[string]interface{}{"type": commandType}
	for k, v := range fields {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	return c.SendRaw(ctx, payload)
}

func (c *webSocketClient) SendRaw(ctx context.Context, payload []byte) (*pose.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if err := c.conn.SetWriteDeadline(c.deadline(ctx, c.writeTimeout)); err != nil {
		return nil, err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	if err := c.conn.SetReadDeadline(c.deadline(ctx, c.readTimeout)); err != nil {
		return nil, err
	}
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	return pose.DecodeReply(message)
}

func (c *webSocketClient) deadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}

func (c *webSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
