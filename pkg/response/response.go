package response

import (
	"errors"
)

// Kind classifies where a failure happened. Callers branch on it instead of
// matching message text.
type Kind uint8

const (
	KindNone Kind = iota
	KindTransport
	KindValidation
	KindCodec
	KindEngine
	KindLifecycle
	KindInternal
)

var kindNames = map[Kind]string{
	KindNone:       "none",
	KindTransport:  "transport",
	KindValidation: "validation",
	KindCodec:      "codec",
	KindEngine:     "engine",
	KindLifecycle:  "lifecycle",
	KindInternal:   "internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	ok := errors.As(target, &t)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Err.Error() == t.Err.Error()
}

func NewError(kind Kind, err string) error {
	return &Error{kind, errors.New(err)}
}

// KindOf reports the Kind of the first *Error in err's chain, KindInternal
// for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var respErr *Error
	if errors.As(err, &respErr) {
		return respErr.Kind
	}
	return KindInternal
}
