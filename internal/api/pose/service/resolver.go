package poseService

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"PoseService/internal/api/pose"
	"PoseService/pkg/s3"
	"PoseService/pkg/utils"
)

// ModelResolver turns a client model reference into a readable local file.
type ModelResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

type modelResolver struct {
	utils    utils.IUtils
	s3       s3.ItfS3
	cacheDir string
}

// NewModelResolver accepts local paths and, when store is non-nil,
// s3://bucket/key references downloaded into cacheDir.
func NewModelResolver(store s3.ItfS3, cacheDir string) ModelResolver {
	return &modelResolver{
		utils:    utils.New(),
		s3:       store,
		cacheDir: cacheDir,
	}
}

func (r *modelResolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", pose.ErrNoModelRef
	}

	path := ref
	if s3.IsURI(ref) {
		if r.s3 == nil {
			return "", fmt.Errorf("%w: %s", pose.ErrRemoteModel, ref)
		}

		local, err := r.s3.Download(ctx, ref, r.cacheDir)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", pose.ErrModelNotFound, ref, err)
		}
		path = local
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	if _, err := r.utils.CheckNonEmptyFile(path); err != nil {
		switch {
		case errors.Is(err, utils.ErrFileEmpty):
			return "", fmt.Errorf("%w: %s", pose.ErrModelEmpty, ref)
		case errors.Is(err, utils.ErrFileNotFound), errors.Is(err, utils.ErrNotRegular):
			return "", fmt.Errorf("%w: %s", pose.ErrModelNotFound, ref)
		default:
			return "", fmt.Errorf("%w: %s: %v", pose.ErrModelNotFound, ref, err)
		}
	}

	return path, nil
}
