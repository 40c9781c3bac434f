// Package engine is the boundary to the pose-estimation capability. The
// estimator itself runs outside this process; this package only knows how to
// start it, feed it frames and read landmarks back.
package engine

import (
	"context"
	"fmt"

	"PoseService/internal/entity"
	"PoseService/pkg/codec"
	"PoseService/pkg/response"
)

var (
	ErrEngineUnavailable = response.NewError(response.KindEngine, "engine_unavailable")
	ErrEngineClosed      = response.NewError(response.KindEngine, "engine_closed")
	ErrWorkerStart       = response.NewError(response.KindEngine, "worker_start_failed")
	ErrWorkerProtocol    = response.NewError(response.KindEngine, "worker_protocol_error")
	ErrWorkerRejected    = response.NewError(response.KindEngine, "worker_rejected_request")
)

// Options is the fixed landmarker configuration handed to every engine.
type Options struct {
	NumPoses               int     `json:"num_poses"`
	MinDetectionConfidence float64 `json:"min_pose_detection_confidence"`
	MinPresenceConfidence  float64 `json:"min_pose_presence_confidence"`
	MinTrackingConfidence  float64 `json:"min_tracking_confidence"`
	OutputSegmentation     bool    `json:"output_segmentation_masks"`
	SmoothLandmarks        bool    `json:"smooth_landmarks"`
	RunningMode            string  `json:"running_mode"`
}

func DefaultOptions() Options {
	return Options{
		NumPoses:               1,
		MinDetectionConfidence: 0.5,
		MinPresenceConfidence:  0.5,
		MinTrackingConfidence:  0.5,
		OutputSegmentation:     false,
		SmoothLandmarks:        true,
		RunningMode:            "video",
	}
}

// Engine is one loaded estimator instance. It is owned by a single session
// and must not be shared.
type Engine interface {
	// Detect runs the estimator on img. A nil or empty slice means no pose
	// was found. Timestamps must increase across calls.
	Detect(ctx context.Context, img *codec.DecodedImage, timestampMs int64) ([]entity.Landmark, error)

	// Close releases the instance. Safe to call more than once.
	Close() error
}

// Provider creates engines. Available is fixed for the life of the process.
type Provider interface {
	Available() bool
	Name() string
	Open(ctx context.Context, modelPath string, opts Options) (Engine, error)
}

type unavailable struct {
	reason string
}

// Unavailable is the provider used when no estimator can run in this process.
func Unavailable(reason string) Provider {
	return &unavailable{reason: reason}
}

func (u *unavailable) Available() bool { return false }

func (u *unavailable) Name() string { return "unavailable" }

func (u *unavailable) Open(context.Context, string, Options) (Engine, error) {
	if u.reason == "" {
		return nil, ErrEngineUnavailable
	}
	return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, u.reason)
}
