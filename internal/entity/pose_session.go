package entity

import "time"

type SessionState uint8

const (
	SessionUninitialized SessionState = iota
	SessionReady
	SessionClosed
)

var SessionStateMap = map[SessionState]string{
	SessionUninitialized: "uninitialized",
	SessionReady:         "ready",
	SessionClosed:        "closed",
}

func (s SessionState) String() string {
	if name, ok := SessionStateMap[s]; ok {
		return name
	}
	return "unknown"
}

type Transport string

const (
	TransportMailbox Transport = "mailbox"
	TransportChannel Transport = "channel"
)

// SessionRecord is the journal row for one detection session.
type SessionRecord struct {
	ID              string     `db:"id"`
	Transport       Transport  `db:"transport"`
	ModelRef        string     `db:"model_ref"`
	OpenedAt        time.Time  `db:"opened_at"`
	ClosedAt        *time.Time `db:"closed_at"`
	FramesProcessed int64      `db:"frames_processed"`
	PosesDetected   int64      `db:"poses_detected"`
	Failures        int64      `db:"failures"`
}

// SessionStats are the running counters of a session.
type SessionStats struct {
	FramesProcessed int64
	PosesDetected   int64
	Failures        int64
}

// DetectionEvent is what the optional publisher emits for each processed frame.
type DetectionEvent struct {
	SessionID     string     `json:"sessionId"`
	Transport     Transport  `json:"transport"`
	Timestamp     int64      `json:"timestamp"`
	Success       bool       `json:"success"`
	LandmarkCount int        `json:"landmarkCount"`
	Landmarks     []Landmark `json:"landmarks,omitempty"`
	Message       string     `json:"message,omitempty"`
	PublishedAt   time.Time  `json:"publishedAt"`
}
