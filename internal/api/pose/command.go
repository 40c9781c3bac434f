package pose

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Accepted spellings per field. The first entry is the canonical name, the
// rest are the names used by older desktop clients.
var (
	fieldRequestID = []string{"requestId", "request_id"}
	fieldModelRef  = []string{"modelRef", "model_path", "modelPath"}
	fieldFrame     = []string{"frame", "frame_data", "image"}
	fieldTimestamp = []string{"timestamp", "ts"}
)

// Envelope is a parsed but not yet validated command object.
type Envelope struct {
	Type      string
	RequestID string
	fields    map[string]jsoniter.RawMessage
}

// ParseEnvelope decodes a JSON object. Anything that is not a JSON object is
// a transport error; field problems are left for Decode.
func ParseEnvelope(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidJSON
	}

	fields := map[string]jsoniter.RawMessage{}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	env := &Envelope{fields: fields}

	if raw, ok := fields["type"]; ok {
		env.Type = typeName(raw)
	}
	if id, ok, _ := env.stringField(fieldRequestID); ok {
		env.RequestID = id
	}

	return env, nil
}

// NewEnvelope builds an envelope from already decoded values. Used by
// clients and tests.
func NewEnvelope(commandType string, fields map[string]interface{}) (*Envelope, error) {
	body := map[string]interface{}{"type": commandType}
	for k, v := range fields {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return ParseEnvelope(data)
}

func typeName(raw jsoniter.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

func (e *Envelope) lookup(names []string) (jsoniter.RawMessage, bool) {
	for _, name := range names {
		if raw, ok := e.fields[name]; ok && string(bytes.TrimSpace(raw)) != "null" {
			return raw, true
		}
	}
	return nil, false
}

// stringField returns the first present alias. ok reports presence; kind
// names the JSON type when the value is present but not a string.
func (e *Envelope) stringField(names []string) (value string, ok bool, kind string) {
	raw, present := e.lookup(names)
	if !present {
		return "", false, ""
	}

	if err := json.Unmarshal(raw, &value); err != nil {
		return "", true, jsonKind(raw)
	}
	return value, true, ""
}

func jsonKind(raw jsoniter.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "empty"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	case '"':
		return "string"
	}
	return "number"
}

// Decode turns the envelope into its typed command. Missing or unknown
// types yield (nil, err). For a known type the command is always returned,
// together with a validation error when a field is malformed, so callers
// can still answer with the right response type.
func Decode(env *Envelope, now time.Time) (Command, error) {
	switch CommandType(env.Type) {
	case "":
		return nil, ErrMissingType
	case CommandInit:
		return decodeInit(env)
	case CommandDetect:
		return decodeDetect(env, now)
	case CommandPing:
		return &PingCommand{RequestID: env.RequestID}, nil
	case CommandStatus:
		return &StatusCommand{RequestID: env.RequestID}, nil
	case CommandClose:
		return &CloseCommand{RequestID: env.RequestID}, nil
	}
	return nil, &UnknownTypeError{Type: env.Type}
}

func decodeInit(env *Envelope) (*InitCommand, error) {
	cmd := &InitCommand{RequestID: env.RequestID}

	ref, ok, kind := env.stringField(fieldModelRef)
	if ok && kind != "" {
		return cmd, fmt.Errorf("%w: %s", ErrInvalidModelRef, kind)
	}
	cmd.ModelRef = strings.TrimSpace(ref)
	return cmd, nil
}

func decodeDetect(env *Envelope, now time.Time) (*DetectCommand, error) {
	cmd := &DetectCommand{RequestID: env.RequestID}
	cmd.Timestamp, cmd.TimestampDefaulted, cmd.TimestampInvalid = parseTimestamp(env, now)

	frame, ok, kind := env.stringField(fieldFrame)
	if ok && kind != "" {
		return cmd, fmt.Errorf("%w: %s", ErrInvalidFrame, kind)
	}
	cmd.Frame = frame
	return cmd, nil
}

// parseTimestamp accepts integers, floats (truncated) and numeric strings.
// Anything else, including floats outside the int64 range, falls back to now.
func parseTimestamp(env *Envelope, now time.Time) (ts int64, defaulted bool, invalid string) {
	fallback := now.UnixMilli()

	raw, ok := env.lookup(fieldTimestamp)
	if !ok {
		return fallback, true, ""
	}

	var n jsoniter.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v, false, ""
		}
		if f, err := n.Float64(); err == nil && f >= -(1<<63) && f < 1<<63 {
			return int64(f), false, ""
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return v, false, ""
		}
		return fallback, true, s
	}

	return fallback, true, string(bytes.TrimSpace(raw))
}
