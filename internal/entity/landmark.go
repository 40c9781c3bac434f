package entity

// Landmark is one skeletal keypoint in normalized image coordinates.
// X and Y are roughly in [0,1] but may leave that range for points outside
// the frame; Z is depth relative to the hips.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
	Presence   float64 `json:"presence"`
}

// LandmarkNames is the anatomical order of the 33-point pose skeleton.
var LandmarkNames = [...]string{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

const LandmarkCount = len(LandmarkNames)

// LandmarkName returns the anatomical name for index i, or "" when out of range.
func LandmarkName(i int) string {
	if i < 0 || i >= LandmarkCount {
		return ""
	}
	return LandmarkNames[i]
}
