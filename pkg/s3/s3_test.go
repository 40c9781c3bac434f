package s3

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://models/pose/pose_landmarker_full.task", "models", "pose/pose_landmarker_full.task", false},
		{"s3://models/lite.task", "models", "lite.task", false},
		{"s3://models/", "", "", true},
		{"s3:///key.task", "", "", true},
		{"https://example.com/model.task", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseURI(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURI) {
					t.Fatalf("expected ErrInvalidURI, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestLocalPath(t *testing.T) {
	got := LocalPath("/cache", "models", "pose/full.task")
	want := filepath.Join("/cache", "models", "pose", "full.task")
	if got != want {
		t.Errorf("LocalPath() = %q, want %q", got, want)
	}

	if !IsURI("s3://b/k") || IsURI("/tmp/model.task") {
		t.Errorf("IsURI misclassified references")
	}
}
