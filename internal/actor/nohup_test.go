package actor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/apierr"
	"github.com/akshayaggarwal99/boxed/internal/format"
	"github.com/akshayaggarwal99/boxed/internal/proto"
)

// scriptedExecer replays canned responses keyed by the leading argument of
// each command (sh, kill, stat, cat, head), letting each test drive one
// specific branch of RunNohup without a real shell.
type scriptedExecer struct {
	launchOut string
	launchErr error
	killCode  int // 0 = still alive, nonzero = process gone
	statOut   string
	statCode  int
	exitOut   string
	exitCode  int
	catOut    string
	headOut   string
}

func (s *scriptedExecer) Exec(ctx context.Context, cmd []string) (string, int, error) {
	switch cmd[0] {
	case "sh":
		return s.launchOut, 0, s.launchErr
	case "kill":
		return "", s.killCode, nil
	case "stat":
		return s.statOut, s.statCode, nil
	case "cat":
		if strings.HasSuffix(cmd[1], ".exit") {
			return s.exitOut, s.exitCode, nil
		}
		return s.catOut, 0, nil
	case "head":
		return s.headOut, 0, nil
	}
	return "", 0, nil
}

func TestRunNohupFullOutputSuccess(t *testing.T) {
	e := &scriptedExecer{
		launchOut: format.NohupMarker(123),
		killCode:  1, // gone immediately
		statOut:   "5",
		statCode:  0,
		exitOut:   "0",
		exitCode:  0,
		catOut:    "hello",
	}
	res, err := RunNohup(context.Background(), e, "echo hello", proto.NohupOutputFull, 0, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "hello" {
		t.Errorf("output = %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestRunNohupFailureExitCode(t *testing.T) {
	e := &scriptedExecer{
		launchOut: format.NohupMarker(456),
		killCode:  1,
		exitOut:   "1",
		exitCode:  0,
		catOut:    "boom",
	}
	res, err := RunNohup(context.Background(), e, "false", proto.NohupOutputFull, 0, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.ExitCode)
	}
}

func TestRunNohupStatFailStillReturnsResult(t *testing.T) {
	e := &scriptedExecer{
		launchOut: format.NohupMarker(789),
		killCode:  1,
		statCode:  1, // stat fails
		exitOut:   "0",
		catOut:    "partial",
	}
	res, err := RunNohup(context.Background(), e, "echo x", proto.NohupOutputFull, 0, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "partial" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestRunNohupPIDExtractFail(t *testing.T) {
	e := &scriptedExecer{launchOut: "garbage, no marker here"}
	res, err := RunNohup(context.Background(), e, "echo hi", proto.NohupOutputFull, 0, time.Second)
	if !errors.Is(err, apierr.ErrLaunchFailed) {
		t.Fatalf("expected ErrLaunchFailed, got %v", err)
	}
	if res.FailureReason != "Failed to submit command" {
		t.Errorf("failure reason = %q", res.FailureReason)
	}
	if !strings.Contains(res.Output, "Failed to submit command") {
		t.Errorf("output = %q, want to contain 'Failed to submit command'", res.Output)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.ExitCode)
	}
}

func TestRunNohupLaunchReadTimeout(t *testing.T) {
	e := &scriptedExecer{launchErr: errors.New("context deadline exceeded (Client.Timeout exceeded while reading body)")}
	res, err := RunNohup(context.Background(), e, "sleep 1", proto.NohupOutputFull, 0, time.Second)
	if !errors.Is(err, apierr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !strings.Contains(res.Output, "timeout") {
		t.Errorf("output = %q, want to contain timeout", res.Output)
	}
	if !strings.Contains(res.FailureReason, "timeout") {
		t.Errorf("failure reason = %q, want to contain timeout", res.FailureReason)
	}
}

func TestRunNohupWaitTimeout(t *testing.T) {
	e := &scriptedExecer{
		launchOut: format.NohupMarker(1),
		killCode:  0, // always alive -> never finishes
		statOut:   "0",
		catOut:    "still running",
	}
	res, err := RunNohup(context.Background(), e, "sleep 100", proto.NohupOutputFull, 0, 10*time.Millisecond)
	if !errors.Is(err, apierr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !strings.Contains(res.FailureReason, "timeout") {
		t.Errorf("failure reason = %q, want to contain timeout", res.FailureReason)
	}
}

func TestRunNohupLimitedOutput(t *testing.T) {
	e := &scriptedExecer{
		launchOut: format.NohupMarker(2),
		killCode:  1,
		exitOut:   "0",
		headOut:   "hello",
	}
	res, err := RunNohup(context.Background(), e, "big-command", proto.NohupOutputLimited, 5, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "hello" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestRunNohupIgnoreOutput(t *testing.T) {
	e := &scriptedExecer{
		launchOut: format.NohupMarker(3),
		killCode:  1,
		statOut:   "2048",
		statCode:  0,
		exitOut:   "0",
	}
	res, err := RunNohup(context.Background(), e, "noisy-command", proto.NohupOutputIgnore, 0, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "/tmp/tmp_") {
		t.Errorf("output = %q, want to contain the tmp file path", res.Output)
	}
	if !strings.Contains(res.Output, "without streaming the log content") {
		t.Errorf("output = %q", res.Output)
	}
	if !strings.Contains(res.Output, "File size: 2.00 KB") {
		t.Errorf("output = %q, want byte size formatted", res.Output)
	}
}

func TestRunNohupIgnoreOutputSubKB(t *testing.T) {
	e := &scriptedExecer{
		launchOut: format.NohupMarker(4),
		killCode:  1,
		statOut:   "512",
		statCode:  0,
		exitOut:   "0",
	}
	res, err := RunNohup(context.Background(), e, "echo small", proto.NohupOutputIgnore, 0, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "File size: 512 bytes") {
		t.Errorf("output = %q, want byte size formatted", res.Output)
	}
}

func TestRunNohupIgnoreOutputStatFails(t *testing.T) {
	e := &scriptedExecer{
		launchOut: format.NohupMarker(5),
		killCode:  1,
		statCode:  1, // stat fails
		exitOut:   "0",
	}
	res, err := RunNohup(context.Background(), e, "echo ignore", proto.NohupOutputIgnore, 0, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(res.Output, "File size:") {
		t.Errorf("output = %q, want no File size when stat fails", res.Output)
	}
	if !strings.Contains(res.Output, "/tmp/tmp_") {
		t.Errorf("output = %q, want to contain the tmp file path", res.Output)
	}
}
