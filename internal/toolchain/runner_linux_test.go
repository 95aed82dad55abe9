//go:build linux

package toolchain_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"buildforge/internal/toolchain"
	apperrors "buildforge/pkg/errors"
)

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func TestRunCapturesInterleavedOutput(t *testing.T) {
	r := toolchain.Runner{Command: "/bin/sh -c 'echo out; echo err 1>&2'"}
	out, err := r.Run(context.Background(), t.TempDir(), "", 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if out.Status != toolchain.StatusSucceeded {
		t.Fatalf("Status = %v, want succeeded", out.Status)
	}
	if out.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", out.ExitCode)
	}
	if !bytes.Contains(out.Log, []byte("out")) || !bytes.Contains(out.Log, []byte("err")) {
		t.Fatalf("log missing stdout or stderr content: %q", out.Log)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := toolchain.Runner{Command: "/bin/sh -c 'echo boom 1>&2; exit 3'"}
	out, err := r.Run(context.Background(), t.TempDir(), "", 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if out.Status != toolchain.StatusFailed {
		t.Fatalf("Status = %v, want failed", out.Status)
	}
	if out.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", out.ExitCode)
	}
	if !bytes.Contains(out.Log, []byte("boom")) {
		t.Fatalf("log missing failure output: %q", out.Log)
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	workDir := t.TempDir()
	r := toolchain.Runner{
		Command: "/bin/sh -c '(while true; do echo tick >> marker.txt; sleep 0.05; done) & sleep 5'",
	}

	start := time.Now()
	out, err := r.Run(context.Background(), workDir, "", 500*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if out.Status != toolchain.StatusTimedOut {
		t.Fatalf("Status = %v, want timed_out", out.Status)
	}
	if len(out.Log) != 0 {
		t.Fatalf("timed out build must not carry a log, got %d bytes", len(out.Log))
	}
	if elapsed >= 2*time.Second {
		t.Fatalf("Run() took %v, want well under 2s for a 500ms budget", elapsed)
	}

	// The background writer shares the process group and must be dead too.
	marker := filepath.Join(workDir, "marker.txt")
	before := fileSize(marker)
	time.Sleep(300 * time.Millisecond)
	if after := fileSize(marker); after != before {
		t.Fatalf("background process still writing after kill: %d -> %d bytes", before, after)
	}
}

func TestRunLogCappedExactly(t *testing.T) {
	r := toolchain.Runner{
		Command:     "/bin/sh -c 'printf %064d 0'",
		LogMaxBytes: 16,
	}
	out, err := r.Run(context.Background(), t.TempDir(), "", 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if out.Status != toolchain.StatusSucceeded {
		t.Fatalf("Status = %v, want succeeded despite dropped output", out.Status)
	}
	if len(out.Log) != 16 {
		t.Fatalf("log length = %d, want exactly the 16 byte cap", len(out.Log))
	}
}

func TestRunTargetHandling(t *testing.T) {
	cases := []struct {
		name       string
		targetFlag string
		target     string
		wantLog    string
	}{
		{"flag and target", "--target", "release", "--target release\n"},
		{"bare target", "", "release", "release\n"},
		{"no target omits flag", "--target", "", "\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := toolchain.Runner{Command: "echo", TargetFlag: tc.targetFlag}
			out, err := r.Run(context.Background(), t.TempDir(), tc.target, 5*time.Second)
			if err != nil {
				t.Fatalf("Run() error = %v, want nil", err)
			}
			if string(out.Log) != tc.wantLog {
				t.Fatalf("log = %q, want %q", out.Log, tc.wantLog)
			}
		})
	}
}

func TestRunLaunchFailures(t *testing.T) {
	cases := []struct {
		name    string
		command string
	}{
		{"empty command", ""},
		{"missing binary", "no-such-toolchain-binary-for-tests"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := toolchain.Runner{Command: tc.command}
			_, err := r.Run(context.Background(), t.TempDir(), "", time.Second)
			if !apperrors.Is(err, apperrors.BuildLaunchFailed) {
				t.Fatalf("Run() error = %v, want BuildLaunchFailed", err)
			}
		})
	}
}
