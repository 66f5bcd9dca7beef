package transcript

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultCommand runs the bundled transcript helper script. The video id and
// output path are appended as the last two arguments.
var DefaultCommand = []string{"python3", "get_transcript.py"}

const disabledMarker = "Transcripts are disabled"

// CommandFetcher shells out to an external helper that writes the
// transcript to a file.
type CommandFetcher struct {
	command []string
	workDir string
	timeout time.Duration
}

// NewCommandFetcher creates a CommandFetcher. The work directory is created
// if it does not exist.
func NewCommandFetcher(command []string, workDir string, timeout time.Duration) (*CommandFetcher, error) {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "transcript: create work dir %s", workDir)
	}
	return &CommandFetcher{command: command, workDir: workDir, timeout: timeout}, nil
}

// Fetch implements Fetcher.
func (f *CommandFetcher) Fetch(ctx context.Context, videoID string) (*string, error) {
	if err := validVideoID(videoID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out := filepath.Join(f.workDir, videoID+"_transcript.txt")
	defer os.Remove(out) //nolint:errcheck

	args := append(append([]string{}, f.command[1:]...), videoID, out)
	cmd := exec.CommandContext(ctx, f.command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(stderr.String() + "\n" + stdout.String())
		if strings.Contains(output, disabledMarker) {
			return nil, eris.Wrapf(ErrDisabled, "transcript: %s", videoID)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			// The helper is not installed here; leave it for manual upload.
			zap.L().Warn("transcript: helper command unavailable",
				zap.String("video_id", videoID),
				zap.String("command", f.command[0]),
				zap.Error(err),
			)
			return nil, nil
		}
		return nil, eris.Wrapf(err, "transcript: helper failed for %s: %s", videoID, truncate(output, 500))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, eris.Wrapf(err, "transcript: read output %s", out)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	return &text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
