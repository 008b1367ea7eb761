package backend

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external transfer command and returns its stdout.
// It exists so backends and the restore executor can be tested with a fake
// instead of real rclone/rsync binaries.
type Runner interface {
	// Run executes name with args, bounded by timeout. A non-zero exit
	// status is returned as an error with stderr included.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec. RcloneConfig, when set, is passed
// to every rclone invocation as --config so the server can run with a
// read-only rclone configuration mounted anywhere.
type ExecRunner struct {
	// RcloneBin is the rclone binary to invoke. Defaults to "rclone" on PATH.
	RcloneBin string

	// RcloneConfig is the path to the rclone config file, or "" for rclone's
	// default lookup.
	RcloneConfig string
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if name == "rclone" {
		if r.RcloneBin != "" {
			name = r.RcloneBin
		}
		if r.RcloneConfig != "" {
			args = append([]string{"--config", r.RcloneConfig}, args...)
		}
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("backend: %s timed out after %s", name, timeout)
		}
		return "", fmt.Errorf("backend: %s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}
