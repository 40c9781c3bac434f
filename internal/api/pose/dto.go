package pose

import (
	"bytes"
	"strconv"

	"PoseService/internal/entity"
	"PoseService/pkg/response"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type CommandType string

const (
	CommandInit   CommandType = "init"
	CommandDetect CommandType = "detect"
	CommandPing   CommandType = "ping"
	CommandStatus CommandType = "status"
	CommandClose  CommandType = "close"
)

type ResponseType string

const (
	ResponseInit      ResponseType = "init_response"
	ResponseDetection ResponseType = "detection"
	ResponsePong      ResponseType = "pong"
	ResponseStatus    ResponseType = "status_response"
	ResponseClose     ResponseType = "close_response"
	ResponseError     ResponseType = "error"
)

// Command is the closed set of requests a client can send. The concrete
// types below are the only implementations.
type Command interface {
	Type() CommandType
	ID() string
}

type InitCommand struct {
	RequestID string
	ModelRef  string `validate:"required"`
}

type DetectCommand struct {
	RequestID string
	Frame     string `validate:"required"`
	Timestamp int64
	// TimestampDefaulted is set when the client sent no usable timestamp
	// and Timestamp holds the time of receipt.
	TimestampDefaulted bool
	// TimestampInvalid holds the raw value when it could not be parsed.
	TimestampInvalid string
}

type PingCommand struct {
	RequestID string
}

type StatusCommand struct {
	RequestID string
}

type CloseCommand struct {
	RequestID string
}

func (c *InitCommand) Type() CommandType   { return CommandInit }
func (c *DetectCommand) Type() CommandType { return CommandDetect }
func (c *PingCommand) Type() CommandType   { return CommandPing }
func (c *StatusCommand) Type() CommandType { return CommandStatus }
func (c *CloseCommand) Type() CommandType  { return CommandClose }

func (c *InitCommand) ID() string   { return c.RequestID }
func (c *DetectCommand) ID() string { return c.RequestID }
func (c *PingCommand) ID() string   { return c.RequestID }
func (c *StatusCommand) ID() string { return c.RequestID }
func (c *CloseCommand) ID() string  { return c.RequestID }

type InitData struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type DetectionData struct {
	Success   bool              `json:"success"`
	Landmarks []entity.Landmark `json:"landmarks"`
	Message   string            `json:"message,omitempty"`
}

type PongData struct {
	Alive           bool `json:"alive"`
	EngineAvailable bool `json:"engineAvailable"`
	Initialized     bool `json:"initialized"`
}

type StatusData struct {
	EngineAvailable bool `json:"engineAvailable"`
	Initialized     bool `json:"initialized"`
}

type CloseData struct {
	Success bool `json:"success"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// InitResult is what a session reports for init. Kind is KindNone on
// success.
type InitResult struct {
	Success bool
	Message string
	Kind    response.Kind
}

// DetectResult is what a session reports for one frame. Timestamp is the
// client timestamp, echoed unchanged. Landmarks is never nil.
type DetectResult struct {
	Success   bool
	Timestamp int64
	Landmarks []entity.Landmark
	Message   string
	Kind      response.Kind
}

// Response is the single reply produced for every command. It serializes as
// one flat object: type, requestId, timestamp, then the fields of Data.
type Response struct {
	Type      ResponseType
	RequestID string
	Timestamp int64
	Data      interface{}
	// Kind is the failure class, KindNone on success. Not serialized.
	Kind response.Kind
}

func (r Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	typ, err := json.Marshal(string(r.Type))
	if err != nil {
		return nil, err
	}
	buf.Write(typ)

	if r.RequestID != "" {
		id, err := json.Marshal(r.RequestID)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"requestId":`)
		buf.Write(id)
	}

	buf.WriteString(`,"timestamp":`)
	buf.WriteString(strconv.FormatInt(r.Timestamp, 10))

	if r.Data != nil {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		data = bytes.TrimSpace(data)
		if len(data) > 2 && data[0] == '{' {
			buf.WriteByte(',')
			buf.Write(data[1 : len(data)-1])
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Success reports the success flag carried by Data. Replies without one
// succeed unless they are errors.
func (r Response) Success() bool {
	switch d := r.Data.(type) {
	case InitData:
		return d.Success
	case DetectionData:
		return d.Success
	case CloseData:
		return d.Success
	}
	return r.Type != ResponseError
}

// Reply is the client-side view of a Response.
type Reply struct {
	Type            ResponseType      `json:"type"`
	RequestID       string            `json:"requestId,omitempty"`
	Timestamp       int64             `json:"timestamp"`
	Success         *bool             `json:"success,omitempty"`
	Message         string            `json:"message,omitempty"`
	Landmarks       []entity.Landmark `json:"landmarks,omitempty"`
	Alive           *bool             `json:"alive,omitempty"`
	EngineAvailable *bool             `json:"engineAvailable,omitempty"`
	Initialized     *bool             `json:"initialized,omitempty"`
}

func DecodeReply(data []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Reply) IsSuccess() bool {
	return r.Success != nil && *r.Success
}

func (r *Reply) IsInitialized() bool {
	return r.Initialized != nil && *r.Initialized
}
