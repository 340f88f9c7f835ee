package actor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/akshayaggarwal99/boxed/internal/apierr"
	"github.com/akshayaggarwal99/boxed/internal/proto"
)

// sessionStream is the persistent JSON-RPC-framed connection backing one
// named session: a single exec'd shell (driver.Connect) that outlives any
// one command, so env vars and the working directory a command exports
// survive to the next command on the same session — unlike the session-less
// Execute path, which re-execs a fresh shell every call.
//
// Frames are newline-delimited JSON, one proto.Request out per command and
// a stream of proto.Request notifications ("stdout"/"stderr"/"exit"/"error")
// back, the same envelope internal/proto defines for Control Plane <-> Agent
// traffic generally. Commands on one sessionStream run strictly one at a
// time; the caller (Session.mu in actor.go) enforces that.
type sessionStream struct {
	conn   io.ReadWriteCloser
	sc     *bufio.Scanner
	nextID int64
}

func newSessionStream(conn io.ReadWriteCloser) *sessionStream {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), 1<<20)
	return &sessionStream{conn: conn, sc: sc}
}

// run sends command as an "exec" request and blocks until the agent's
// "exit" notification closes it out, accumulating any interleaved
// "stdout"/"stderr" chunks into a single Observation.Output.
func (s *sessionStream) run(command string) (*proto.Observation, error) {
	s.nextID++
	req := proto.NewRequest("exec", proto.ExecParams{Cmd: "sh", Args: []string{"-c", command}}, s.nextID)

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}
	if _, err := s.conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("%w: session write failed: %s", apierr.ErrSessionGone, err)
	}

	var out strings.Builder
	for s.sc.Scan() {
		var frame struct {
			Method string          `json:"method,omitempty"`
			Params json.RawMessage `json:"params,omitempty"`
		}
		if err := json.Unmarshal(s.sc.Bytes(), &frame); err != nil {
			return nil, fmt.Errorf("%w: malformed session frame: %s", apierr.ErrInternal, err)
		}
		switch frame.Method {
		case "stdout":
			var ev proto.StdoutEvent
			json.Unmarshal(frame.Params, &ev)
			out.WriteString(ev.Chunk)
		case "stderr":
			var ev proto.StderrEvent
			json.Unmarshal(frame.Params, &ev)
			out.WriteString(ev.Chunk)
		case "error":
			var ev proto.ErrorEvent
			json.Unmarshal(frame.Params, &ev)
			return nil, fmt.Errorf("%w: %s", apierr.ErrInternal, ev.Message)
		case "exit":
			var ev proto.ExitEvent
			json.Unmarshal(frame.Params, &ev)
			obs := &proto.Observation{Output: out.String(), ExitCode: ev.Code}
			if ev.Code != 0 {
				obs.FailedSpec = command
			}
			return obs, nil
		}
	}
	if err := s.sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", apierr.ErrSessionGone, err)
	}
	return nil, fmt.Errorf("%w: stream closed before exit", apierr.ErrSessionGone)
}

func (s *sessionStream) Close() error {
	return s.conn.Close()
}
