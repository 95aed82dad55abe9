// Package toolchain runs the external build command against an unpacked
// bundle and classifies how it ended.
package toolchain

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"sync"

	"github.com/google/shlex"

	appErr "buildforge/pkg/errors"
)

const defaultLogMaxBytes int64 = 64 * 1024

// Status classifies a finished build.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the single result of one toolchain run. A timed out build
// carries no log; the other statuses carry the capped interleaved
// stdout+stderr capture.
type Outcome struct {
	Status   Status
	ExitCode int
	Log      []byte
}

// Runner executes the configured toolchain command in a job's work
// directory.
type Runner struct {
	Command     string // command template, split shell-style
	TargetFlag  string // flag inserted before the target value; empty appends the target bare
	LogMaxBytes int64
}

// buildArgv expands the command template, appending the target only when one
// was supplied.
func (r Runner) buildArgv(target string) ([]string, error) {
	argv, err := shlex.Split(r.Command)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.BuildLaunchFailed, "parse toolchain command failed")
	}
	if len(argv) == 0 {
		return nil, appErr.New(appErr.BuildLaunchFailed).WithMessage("toolchain command is empty")
	}
	if target != "" {
		if r.TargetFlag != "" {
			argv = append(argv, r.TargetFlag)
		}
		argv = append(argv, target)
	}
	return argv, nil
}

// cappedBuffer collects interleaved output up to a fixed cap. Writes past
// the cap report success and drop the excess, so a chatty build is never
// blocked or failed for volume alone. Stdout and stderr feed it from
// separate goroutines, hence the mutex.
type cappedBuffer struct {
	mu  sync.Mutex
	max int64
	buf bytes.Buffer
}

func newCappedBuffer(max int64) *cappedBuffer {
	if max <= 0 {
		max = defaultLogMaxBytes
	}
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - int64(b.buf.Len()); room > 0 {
		if int64(len(p)) <= room {
			b.buf.Write(p)
		} else {
			b.buf.Write(p[:room])
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
