package actor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/apierr"
	"github.com/akshayaggarwal99/boxed/internal/format"
	"github.com/akshayaggarwal99/boxed/internal/proto"
)

// Execer is the minimal surface RunNohup needs from a driver: a host-side
// command that runs to completion and returns its captured stdout and exit
// code. driver.Driver.Exec satisfies this.
type Execer interface {
	Exec(ctx context.Context, cmd []string) (stdout string, exitCode int, err error)
}

// NohupResult is the outcome of one detached-process run.
type NohupResult struct {
	Output        string
	ExitCode      int
	FailureReason string
}

const (
	// defaultLimitedOutputBytes is the byte budget Limited mode falls back
	// to when the caller doesn't pass response_limited_bytes_in_nohup.
	defaultLimitedOutputBytes = 4096
	defaultPollEvery          = 250 * time.Millisecond
)

// RunNohup launches command detached (nohup ... &), waits for it to finish
// or for timeout to elapse, and collects its output according to mode.
// limitBytes is the byte budget for Limited mode (response_limited_bytes_in_
// nohup); values <= 0 fall back to defaultLimitedOutputBytes and are
// otherwise ignored by the other two modes.
//
// The launcher wrapper prints a PID marker to the exec'd shell's own
// stdout immediately, before the detached process has necessarily
// finished: the marker scrape and the background job are two different
// things, which is why a failure to find the marker (ExtractNohupPID
// returning ok=false) is reported distinctly from a timeout waiting on
// the job itself, and both are distinct again from the launch exec call
// itself timing out before any marker could even be printed.
func RunNohup(ctx context.Context, exec Execer, command string, mode proto.NohupOutputMode, limitBytes int, timeout time.Duration) (*NohupResult, error) {
	outFile := fmt.Sprintf("/tmp/tmp_%d.out", time.Now().UnixNano())
	exitFile := outFile + ".exit"

	launch := fmt.Sprintf(
		`nohup sh -c '%s; echo $? > %s' > %s 2>&1 < /dev/null & `,
		escapeSingleQuotes(command), exitFile, outFile,
	)
	launch = fmt.Sprintf(`%secho "%s$!%s"`, launch, format.PIDPrefix, format.PIDSuffix)

	launchOut, _, err := exec.Exec(ctx, []string{"sh", "-c", launch})
	if err != nil {
		if isTimeoutErr(err) {
			reason := fmt.Sprintf("timeout submitting command: %s", err)
			return &NohupResult{Output: reason, FailureReason: reason, ExitCode: 1}, fmt.Errorf("%w: %s", apierr.ErrTimeout, err)
		}
		reason := "Failed to submit command"
		return &NohupResult{Output: reason, FailureReason: reason, ExitCode: 1}, fmt.Errorf("%w: %s", apierr.ErrLaunchFailed, err)
	}

	pid, ok := format.ExtractNohupPID(launchOut)
	if !ok {
		reason := "Failed to submit command"
		return &NohupResult{Output: reason, FailureReason: reason, ExitCode: 1}, apierr.ErrLaunchFailed
	}

	deadline := time.Now().Add(timeout)
	finished := false
	for time.Now().Before(deadline) {
		_, code, err := exec.Exec(ctx, []string{"kill", "-0", strconv.Itoa(pid)})
		if err != nil || code != 0 {
			finished = true
			break
		}
		select {
		case <-ctx.Done():
			return collectOutput(ctx, exec, outFile, exitFile, mode, limitBytes, "cancelled"), ctx.Err()
		case <-time.After(defaultPollEvery):
		}
	}

	if !finished {
		return collectOutput(ctx, exec, outFile, exitFile, mode, limitBytes, "timeout waiting for process to finish"), apierr.ErrTimeout
	}

	return collectOutput(ctx, exec, outFile, exitFile, mode, limitBytes, ""), nil
}

// isTimeoutErr reports whether err represents the launch exec call itself
// timing out (as opposed to a non-timeout transport or submission failure).
func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// collectOutput reads the output/exit-code files the launcher wrote,
// applying the requested output mode. failureReason, when non-empty, is
// attached to the result (a timeout still returns whatever output has
// accumulated so far).
func collectOutput(ctx context.Context, exec Execer, outFile, exitFile string, mode proto.NohupOutputMode, limitBytes int, failureReason string) *NohupResult {
	result := &NohupResult{FailureReason: failureReason, ExitCode: -1}

	sizeOut, sizeCode, err := exec.Exec(ctx, []string{"stat", "-c%s", outFile})
	statOK := err == nil && sizeCode == 0
	var size int64
	if statOK {
		size, _ = strconv.ParseInt(strings.TrimSpace(sizeOut), 10, 64)
	}

	if exitOut, exitCode, err := exec.Exec(ctx, []string{"cat", exitFile}); err == nil && exitCode == 0 {
		if n, perr := strconv.Atoi(strings.TrimSpace(exitOut)); perr == nil {
			result.ExitCode = n
		}
	}

	switch mode {
	case proto.NohupOutputIgnore:
		result.Output = ignoreModeHint(outFile, size, statOK, failureReason)
	case proto.NohupOutputLimited:
		n := limitBytes
		if n <= 0 {
			n = defaultLimitedOutputBytes
		}
		out, code, err := exec.Exec(ctx, []string{"head", "-c", strconv.Itoa(n), outFile})
		if err == nil && code == 0 {
			result.Output = out
		}
	default: // full
		out, code, err := exec.Exec(ctx, []string{"cat", outFile})
		if err == nil && code == 0 {
			result.Output = out
		}
	}

	return result
}

// ignoreModeHint builds the Ignore-mode response: the tmp file path, its
// size (omitted when stat failed), and any failure reason, so the caller
// can still locate and size the output without having streamed it.
func ignoreModeHint(outFile string, size int64, statOK bool, failureReason string) string {
	hint := outFile
	if statOK {
		hint = fmt.Sprintf("%s (File size: %s)", outFile, format.FormatByteSize(size))
	}
	hint = fmt.Sprintf("%s: completed without streaming the log content", hint)
	if failureReason != "" {
		hint = fmt.Sprintf("%s; %s", failureReason, hint)
	}
	return hint
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'"'"'`)
}
