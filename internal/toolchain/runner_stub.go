//go:build !linux

package toolchain

import (
	"context"
	"time"

	appErr "buildforge/pkg/errors"
)

func (r Runner) Run(ctx context.Context, workDir, target string, timeout time.Duration) (Outcome, error) {
	return Outcome{}, appErr.New(appErr.BuildLaunchFailed).
		WithMessage("toolchain execution is only supported on linux")
}
