package pose

import (
	"fmt"

	"PoseService/pkg/response"
)

var (
	ErrInvalidJSON     = response.NewError(response.KindTransport, "invalid_json")
	ErrMissingType     = response.NewError(response.KindValidation, "command missing type field")
	ErrUnknownType     = response.NewError(response.KindValidation, "unknown command type")
	ErrNoModelRef      = response.NewError(response.KindValidation, "no model reference provided")
	ErrInvalidModelRef = response.NewError(response.KindValidation, "invalid model reference type")
	ErrNoFrame         = response.NewError(response.KindValidation, "no frame data provided")
	ErrInvalidFrame    = response.NewError(response.KindValidation, "invalid frame data type")
	ErrModelNotFound   = response.NewError(response.KindValidation, "model not found")
	ErrModelEmpty      = response.NewError(response.KindValidation, "model file is empty")
	ErrRemoteModel     = response.NewError(response.KindValidation, "remote model references are not configured")
	ErrEnginePanic     = response.NewError(response.KindEngine, "engine_panic")
	ErrNotInitialized  = response.NewError(response.KindLifecycle, "not_initialized")
	ErrSessionClosed   = response.NewError(response.KindLifecycle, "session_closed")
)

const (
	MessageNoPose      = "no_pose"
	MessageInitialized = "initialized successfully"
)

// UnknownTypeError carries the offending command type.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown command type: %s", e.Type)
}

func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownType
}
