package poseService

import (
	"context"
	"fmt"
	"time"

	"PoseService/internal/api/pose"
	"PoseService/internal/entity"
	"PoseService/pkg/codec"
	"PoseService/pkg/engine"
	"PoseService/pkg/response"

	"github.com/sirupsen/logrus"
)

func (s *sessionService) Init(ctx context.Context, modelRef string) pose.InitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == entity.SessionClosed {
		return initFailure(pose.ErrSessionClosed)
	}

	path, err := s.resolver.Resolve(ctx, modelRef)
	if err != nil {
		s.log.WithFields(s.fields()).WithFields(logrus.Fields{
			"model_ref": modelRef,
			"error":     err.Error(),
		}).Warn("Model reference rejected")
		return initFailure(err)
	}

	if s.engine != nil {
		s.releaseEngine()
		s.state = entity.SessionUninitialized
	}

	eng, err := s.openEngine(ctx, path)
	if err != nil {
		s.log.WithFields(s.fields()).WithFields(logrus.Fields{
			"model_path": path,
			"error":      err.Error(),
		}).Error("Failed to initialize pose engine")
		return initFailure(err)
	}

	s.engine = eng
	s.state = entity.SessionReady
	s.modelRef = modelRef
	s.hasEngineTS = false

	s.log.WithFields(s.fields()).WithField("model_path", path).Info("Pose engine initialized")
	s.journalOpened()

	return pose.InitResult{Success: true, Message: pose.MessageInitialized}
}

func (s *sessionService) Detect(ctx context.Context, frame string, timestampMs int64) pose.DetectResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := pose.DetectResult{
		Timestamp: timestampMs,
		Landmarks: []entity.Landmark{},
	}

	if s.state != entity.SessionReady {
		res.Message = pose.ErrNotInitialized.Error()
		res.Kind = response.KindLifecycle
		return res
	}

	img, err := codec.Decode(frame)
	if err != nil {
		s.stats.Failures++
		res.Message = err.Error()
		res.Kind = response.KindOf(err)
		s.log.WithFields(s.fields()).WithField("error", err.Error()).Debug("Frame decode failed")
		s.publish(res)
		return res
	}

	landmarks, err := s.runEngine(ctx, img, s.engineTimestamp(timestampMs))
	s.stats.FramesProcessed++

	switch {
	case err != nil:
		s.stats.Failures++
		res.Message = err.Error()
		res.Kind = response.KindOf(err)
		s.log.WithFields(s.fields()).WithField("error", err.Error()).Warn("Pose detection failed")
	case len(landmarks) == 0:
		res.Message = pose.MessageNoPose
	default:
		s.stats.PosesDetected++
		res.Success = true
		res.Landmarks = landmarks
	}

	s.publish(res)
	return res
}

// Close releases the engine. Later calls are no-ops.
func (s *sessionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == entity.SessionClosed {
		return
	}

	s.releaseEngine()
	s.state = entity.SessionClosed

	s.log.WithFields(s.fields()).WithFields(logrus.Fields{
		"frames_processed": s.stats.FramesProcessed,
		"poses_detected":   s.stats.PosesDetected,
		"failures":         s.stats.Failures,
	}).Info("Session closed")
	s.journalClosed()

	if s.events != nil {
		close(s.events)
		s.events = nil
	}
}

func initFailure(err error) pose.InitResult {
	return pose.InitResult{
		Success: false,
		Message: err.Error(),
		Kind:    response.KindOf(err),
	}
}

func (s *sessionService) openEngine(ctx context.Context, path string) (eng engine.Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng = nil
			err = fmt.Errorf("%w: %v", pose.ErrEnginePanic, r)
		}
	}()

	return s.provider.Open(ctx, path, s.opts)
}

func (s *sessionService) runEngine(ctx context.Context, img *codec.DecodedImage, ts int64) (landmarks []entity.Landmark, err error) {
	defer func() {
		if r := recover(); r != nil {
			landmarks = nil
			err = fmt.Errorf("%w: %v", pose.ErrEnginePanic, r)
		}
	}()

	return s.engine.Detect(ctx, img, ts)
}

// engineTimestamp keeps the timestamps seen by the engine strictly
// increasing. Clients still get their own value back.
func (s *sessionService) engineTimestamp(ts int64) int64 {
	if s.hasEngineTS && ts <= s.lastEngineTS {
		adjusted := s.lastEngineTS + 1
		s.log.WithFields(s.fields()).WithFields(logrus.Fields{
			"timestamp": ts,
			"adjusted":  adjusted,
		}).Warn("Non-increasing frame timestamp")
		ts = adjusted
	}

	s.lastEngineTS = ts
	s.hasEngineTS = true
	return ts
}

func (s *sessionService) releaseEngine() {
	if s.engine == nil {
		return
	}
	if err := s.engine.Close(); err != nil {
		s.log.WithFields(s.fields()).WithField("error", err.Error()).Warn("Failed to release pose engine")
	}
	s.engine = nil
}

func (s *sessionService) record() entity.SessionRecord {
	return entity.SessionRecord{
		ID:              s.id,
		Transport:       s.transport,
		ModelRef:        s.modelRef,
		OpenedAt:        s.openedAt,
		FramesProcessed: s.stats.FramesProcessed,
		PosesDetected:   s.stats.PosesDetected,
		Failures:        s.stats.Failures,
	}
}

func (s *sessionService) journalOpened() {
	if s.journal == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := s.journal.SessionOpened(ctx, s.record()); err != nil {
		s.log.WithFields(s.fields()).WithField("error", err.Error()).Warn("Failed to journal session open")
	}
}

func (s *sessionService) journalClosed() {
	if s.journal == nil {
		return
	}

	rec := s.record()
	now := time.Now()
	rec.ClosedAt = &now

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := s.journal.SessionClosed(ctx, rec); err != nil {
		s.log.WithFields(s.fields()).WithField("error", err.Error()).Warn("Failed to journal session close")
	}
}

// publish queues the event for the session's publisher goroutine. It never
// blocks: when the queue is full the event is dropped.
func (s *sessionService) publish(res pose.DetectResult) {
	if s.publisher == nil || s.state == entity.SessionClosed {
		return
	}

	if s.events == nil {
		s.events = make(chan entity.DetectionEvent, publishQueue)
		go s.drain(s.publisher, s.events)
	}

	event := entity.DetectionEvent{
		SessionID:     s.id,
		Transport:     s.transport,
		Timestamp:     res.Timestamp,
		Success:       res.Success,
		LandmarkCount: len(res.Landmarks),
		Landmarks:     res.Landmarks,
		Message:       res.Message,
		PublishedAt:   time.Now(),
	}

	select {
	case s.events <- event:
	default:
		s.dropped++
		s.log.WithFields(s.fields()).WithField("dropped", s.dropped).Debug("Publisher queue full, dropping detection event")
	}
}

// drain delivers events in order until Close closes the queue.
func (s *sessionService) drain(publisher Publisher, events <-chan entity.DetectionEvent) {
	for event := range events {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := publisher.PublishDetection(ctx, event); err != nil {
			s.log.WithFields(logrus.Fields{
				"session_id": event.SessionID,
				"error":      err.Error(),
			}).Debug("Failed to publish detection event")
		}
		cancel()
	}
}
