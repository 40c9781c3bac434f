package poseDispatcher

import (
	"context"
	"fmt"
	"time"

	"PoseService/internal/api/pose"
	"PoseService/internal/entity"
	contextPkg "PoseService/pkg/context"
	"PoseService/pkg/log"
	"PoseService/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Session is the part of a detection session the dispatcher drives.
type Session interface {
	Init(ctx context.Context, modelRef string) pose.InitResult
	Detect(ctx context.Context, frame string, timestampMs int64) pose.DetectResult
	Close()
	Initialized() bool
}

// Dispatcher maps commands onto one session and always produces exactly one
// response. It holds no state of its own besides the session handle.
type Dispatcher struct {
	session         Session
	engineAvailable bool
	validate        *validator.Validate
	log             *logrus.Logger
	now             func() time.Time
	defaultModel    string
}

type Option func(*Dispatcher)

func WithLogger(l *logrus.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithDefaultModel sets the model used by an init that names none.
func WithDefaultModel(ref string) Option {
	return func(d *Dispatcher) {
		d.defaultModel = ref
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithValidator(v *validator.Validate) Option {
	return func(d *Dispatcher) {
		if v != nil {
			d.validate = v
		}
	}
}

func New(session Session, engineAvailable bool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session:         session,
		engineAvailable: engineAvailable,
		validate:        validator.New(),
		log:             log.Discard(),
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// DispatchRaw parses data and dispatches it. A payload that is not a JSON
// object yields an error response.
func (d *Dispatcher) DispatchRaw(ctx context.Context, data []byte) pose.Response {
	env, err := pose.ParseEnvelope(data)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"error":      err.Error(),
		}).Warn("Rejected malformed command")
		return d.errorResponse("", pose.ErrInvalidJSON)
	}

	return d.Dispatch(ctx, env)
}

func (d *Dispatcher) Dispatch(ctx context.Context, env *pose.Envelope) (resp pose.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"request_id": contextPkg.GetRequestID(ctx),
				"command":    env.Type,
				"panic":      fmt.Sprintf("%v", r),
			}).Error("Recovered from panic while dispatching")

			resp = pose.Response{
				Type:      pose.ResponseError,
				RequestID: env.RequestID,
				Timestamp: d.now().UnixMilli(),
				Data:      pose.ErrorData{Message: fmt.Sprintf("%v", r)},
				Kind:      response.KindInternal,
			}
		}
	}()

	cmd, err := pose.Decode(env, d.now())
	if cmd == nil {
		return d.errorResponse(env.RequestID, err)
	}

	d.log.WithFields(logrus.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"command":    cmd.Type(),
	}).Debug("Dispatching command")

	switch c := cmd.(type) {
	case *pose.InitCommand:
		return d.init(ctx, c, err)
	case *pose.DetectCommand:
		return d.detect(ctx, c, err)
	case *pose.PingCommand:
		return d.reply(pose.ResponsePong, c.RequestID, pose.PongData{
			Alive:           true,
			EngineAvailable: d.engineAvailable,
			Initialized:     d.session.Initialized(),
		})
	case *pose.StatusCommand:
		return d.reply(pose.ResponseStatus, c.RequestID, pose.StatusData{
			EngineAvailable: d.engineAvailable,
			Initialized:     d.session.Initialized(),
		})
	case *pose.CloseCommand:
		d.session.Close()
		return d.reply(pose.ResponseClose, c.RequestID, pose.CloseData{Success: true})
	}

	return d.errorResponse(env.RequestID, &pose.UnknownTypeError{Type: string(cmd.Type())})
}

func (d *Dispatcher) init(ctx context.Context, c *pose.InitCommand, decodeErr error) pose.Response {
	if decodeErr != nil {
		return d.initFailure(c.RequestID, decodeErr)
	}

	if c.ModelRef == "" && d.defaultModel != "" {
		c.ModelRef = d.defaultModel
	}
	if err := d.validate.Struct(c); err != nil {
		return d.initFailure(c.RequestID, pose.ErrNoModelRef)
	}

	res := d.session.Init(ctx, c.ModelRef)
	resp := d.reply(pose.ResponseInit, c.RequestID, pose.InitData{
		Success: res.Success,
		Message: res.Message,
	})
	resp.Kind = res.Kind
	return resp
}

func (d *Dispatcher) initFailure(id string, err error) pose.Response {
	resp := d.reply(pose.ResponseInit, id, pose.InitData{Success: false, Message: err.Error()})
	resp.Kind = response.KindOf(err)
	return resp
}

func (d *Dispatcher) detect(ctx context.Context, c *pose.DetectCommand, decodeErr error) pose.Response {
	if c.TimestampDefaulted {
		fields := logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"timestamp":  c.Timestamp,
		}
		if c.TimestampInvalid != "" {
			fields["raw_timestamp"] = c.TimestampInvalid
		}
		d.log.WithFields(fields).Warn("Detect without usable timestamp, using time of receipt")
	}

	if decodeErr == nil {
		if err := d.validate.Struct(c); err != nil {
			decodeErr = pose.ErrNoFrame
		}
	}
	if decodeErr != nil {
		return pose.Response{
			Type:      pose.ResponseDetection,
			RequestID: c.RequestID,
			Timestamp: c.Timestamp,
			Data: pose.DetectionData{
				Success:   false,
				Landmarks: []entity.Landmark{},
				Message:   decodeErr.Error(),
			},
			Kind: response.KindOf(decodeErr),
		}
	}

	res := d.session.Detect(ctx, c.Frame, c.Timestamp)
	landmarks := res.Landmarks
	if landmarks == nil {
		landmarks = []entity.Landmark{}
	}

	return pose.Response{
		Type:      pose.ResponseDetection,
		RequestID: c.RequestID,
		Timestamp: res.Timestamp,
		Data: pose.DetectionData{
			Success:   res.Success,
			Landmarks: landmarks,
			Message:   res.Message,
		},
		Kind: res.Kind,
	}
}

func (d *Dispatcher) reply(typ pose.ResponseType, id string, data interface{}) pose.Response {
	return pose.Response{
		Type:      typ,
		RequestID: id,
		Timestamp: d.now().UnixMilli(),
		Data:      data,
	}
}

func (d *Dispatcher) errorResponse(id string, err error) pose.Response {
	resp := d.reply(pose.ResponseError, id, pose.ErrorData{Message: err.Error()})
	resp.Kind = response.KindOf(err)
	return resp
}
